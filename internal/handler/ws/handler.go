// Package ws admits browser tabs as subscribers of their session's form
// updates over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/formpilot/backend/internal/config"
	"github.com/zhouzirui/formpilot/backend/internal/logging"
	"github.com/zhouzirui/formpilot/backend/internal/middleware"
	"github.com/zhouzirui/formpilot/backend/internal/service/session"
)

// Handler upgrades /ws requests and attaches them to a session once the
// client proves its token in the first frame.
type Handler struct {
	tokens   middleware.TokenValidator
	sessions *session.Registry
	cfg      config.WSConfig
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(tokens middleware.TokenValidator, sessions *session.Registry, cfg config.WSConfig) *Handler {
	return &Handler{
		tokens:   tokens,
		sessions: sessions,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type authFrame struct {
	Token string `json:"token"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "ws").Msg("upgrade failed")
		return
	}
	defer conn.Close()

	token, ok := h.authenticate(conn)
	if !ok {
		return
	}

	sub := newSubscriber(conn, h.cfg.WriteTimeout)
	if err := h.sessions.Attach(token, sub); err != nil {
		// Sessions do not survive a restart; the client must start again.
		sub.reject("unknown session")
		return
	}
	// Logout may have raced with admission.
	if !h.tokens.IsValid(token) {
		h.sessions.Remove(token)
		return
	}
	defer h.sessions.Detach(token, sub)

	logger := log.With().Str("component", "ws").Str("subscriber", sub.ID()).
		Str("token", logging.Redact(token)).Logger()
	logger.Info().Msg("subscriber attached")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	readTimeout := h.readTimeout()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go sub.pingLoop(ctx, h.cfg.PingInterval)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug().Err(err).Msg("read error")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
	logger.Info().Msg("subscriber detached")
}

// authenticate waits for {"token": "..."} within the configured timeout.
func (h *Handler) authenticate(conn *websocket.Conn) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Debug().Err(err).Str("component", "ws").Msg("no auth frame")
		rejectConn(conn, "auth timeout", h.cfg.WriteTimeout)
		return "", false
	}

	var frame authFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		rejectConn(conn, "invalid auth frame", h.cfg.WriteTimeout)
		return "", false
	}
	token := strings.TrimSpace(frame.Token)
	if token == "" || !h.tokens.IsValid(token) {
		rejectConn(conn, "unauthorized", h.cfg.WriteTimeout)
		return "", false
	}
	return token, true
}

func (h *Handler) readTimeout() time.Duration {
	if h.cfg.PingInterval <= 0 {
		return 60 * time.Second
	}
	return h.cfg.PingInterval*2 + h.cfg.WriteTimeout
}

func rejectConn(conn *websocket.Conn, reason string, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	log.Info().Str("component", "ws").Str("reason", reason).Msg("connection rejected")
}
