// Package broadcast pushes form deltas to every live connection of a session.
package broadcast

import (
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/formpilot/backend/internal/model/form"
	"github.com/zhouzirui/formpilot/backend/internal/service/session"
)

// Broadcaster fans deltas out to a session's subscribers.
type Broadcaster struct{}

// New returns a Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{}
}

// Broadcast sends delta to the subscribers attached to s when the call is
// made. Subscribers whose send fails are detached and closed afterwards.
// It returns the number of successful deliveries.
func (b *Broadcaster) Broadcast(s *session.Session, delta form.Delta) int {
	if s == nil || delta.IsNoChange() {
		return 0
	}

	data, err := delta.Encode()
	if err != nil {
		log.Error().Err(err).Str("component", "broadcast").Msg("encode delta")
		return 0
	}

	subs := s.Subscribers()
	var failed []session.Subscriber
	delivered := 0
	for _, sub := range subs {
		if err := sub.Send(data); err != nil {
			log.Warn().Err(err).Str("component", "broadcast").Str("subscriber", sub.ID()).Msg("send failed, dropping connection")
			failed = append(failed, sub)
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		s.RemoveSubscribers(failed...)
		for _, sub := range failed {
			_ = sub.Close()
		}
	}

	log.Debug().Str("component", "broadcast").Str("conversation_id", s.ConversationID()).
		Int("subscribers", len(subs)).Int("delivered", delivered).Msg("delta broadcast")
	return delivered
}
