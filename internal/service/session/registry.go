// Package session owns the lifetime of per-token sessions and their
// subscriber sets.
package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/formpilot/backend/internal/logging"
)

var ErrUnknownSession = errors.New("unknown session")

// Registry maps tokens to sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	newID    func() string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		newID:    uuid.NewString,
	}
}

// Get returns the session for token, if any.
func (r *Registry) Get(token string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[token]
	return s, ok
}

// EnsureSession returns the existing session for token or creates one with a
// fresh conversation.
func (r *Registry) EnsureSession(token string) *Session {
	if s, ok := r.Get(token); ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[token]; ok {
		return s
	}
	s := newSession(token, r.newID())
	r.sessions[token] = s
	log.Debug().Str("component", "session").Str("token", logging.Redact(token)).Str("conversation_id", s.conversationID).Msg("session created")
	return s
}

// RestartSession starts a new conversation for token. Form state and attached
// subscribers carry over. The previous conversation id is returned, empty
// when the session did not exist yet.
func (r *Registry) RestartSession(token string) (s *Session, previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[token]; ok {
		previous = existing.resetConversation(r.newID())
		log.Debug().Str("component", "session").Str("token", logging.Redact(token)).Str("conversation_id", existing.ConversationID()).Msg("conversation restarted")
		return existing, previous
	}

	s = newSession(token, r.newID())
	r.sessions[token] = s
	log.Debug().Str("component", "session").Str("token", logging.Redact(token)).Str("conversation_id", s.conversationID).Msg("session created")
	return s, ""
}

// Remove drops the session for token and closes its subscribers. It returns
// the removed session, or nil.
func (r *Registry) Remove(token string) *Session {
	r.mu.Lock()
	s, ok := r.sessions[token]
	delete(r.sessions, token)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	subs := s.drainSubscribers()
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			log.Debug().Err(err).Str("component", "session").Str("subscriber", sub.ID()).Msg("close subscriber")
		}
	}
	log.Info().Str("component", "session").Str("token", logging.Redact(token)).Int("subscribers", len(subs)).Msg("session removed")
	return s
}

// Attach adds sub to the session of token.
func (r *Registry) Attach(token string, sub Subscriber) error {
	s, ok := r.Get(token)
	if !ok || !s.addSubscriber(sub) {
		return ErrUnknownSession
	}
	return nil
}

// Detach removes sub from the session of token. Missing sessions or
// subscribers are ignored.
func (r *Registry) Detach(token string, sub Subscriber) {
	if s, ok := r.Get(token); ok {
		s.RemoveSubscribers(sub)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
