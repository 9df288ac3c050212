package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// subscriber adapts a WebSocket connection to session.Subscriber.
type subscriber struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSubscriber(conn *websocket.Conn, writeTimeout time.Duration) *subscriber {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &subscriber{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (s *subscriber) ID() string { return s.id }

// Send writes one text frame. gorilla allows a single concurrent writer.
func (s *subscriber) Send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and tears the connection down.
func (s *subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout))
		err = s.conn.Close()
	})
	return err
}

func (s *subscriber) reject(reason string) {
	rejectConn(s.conn, reason, s.writeTimeout)
}

func (s *subscriber) pingLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				log.Debug().Err(err).Str("component", "ws").Str("subscriber", s.id).Msg("ping failed")
				return
			}
		}
	}
}
