package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestLogger writes one zerolog line per request.
func RequestLogger() func(http.Handler) http.Handler {
	return chimw.RequestLogger(&zerologFormatter{})
}

type zerologFormatter struct{}

func (f *zerologFormatter) NewLogEntry(r *http.Request) chimw.LogEntry {
	return &zerologEntry{logger: log.With().
		Str("component", "http").
		Str("request_id", chimw.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote", r.RemoteAddr).
		Logger()}
}

type zerologEntry struct {
	logger zerolog.Logger
}

func (e *zerologEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	evt := e.logger.Info()
	if status >= http.StatusInternalServerError {
		evt = e.logger.Warn()
	}
	evt.Int("status", status).Int("bytes", bytes).Dur("elapsed", elapsed).Msg("request")
}

func (e *zerologEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error().Interface("panic", v).Bytes("stack", stack).Msg("request panicked")
}
