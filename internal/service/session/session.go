package session

import (
	"sync"

	"github.com/zhouzirui/formpilot/backend/internal/model/form"
)

// Subscriber is a live connection that receives pushed form updates.
type Subscriber interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Session is the per-token bundle of conversation identity, form snapshot and
// attached connections. All fields are guarded by mu.
type Session struct {
	token string

	mu             sync.Mutex
	conversationID string
	formState      form.State
	subscribers    map[Subscriber]struct{}
	removed        bool
}

func newSession(token, conversationID string) *Session {
	return &Session{
		token:          token,
		conversationID: conversationID,
		formState:      make(form.State),
		subscribers:    make(map[Subscriber]struct{}),
	}
}

// Token returns the owning token.
func (s *Session) Token() string {
	return s.token
}

// ConversationID returns the current dialogue handle.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) resetConversation(conversationID string) (previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.conversationID
	s.conversationID = conversationID
	return previous
}

// FormState returns a copy of the last-known form values.
func (s *Session) FormState() form.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.formState.Clone()
}

// MergeFormState overlays values reported by the client.
func (s *Session) MergeFormState(values form.State) {
	if len(values) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.formState[k] = v
	}
}

// SetField records a single field value.
func (s *Session) SetField(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.formState[name] = value
}

// ApplyDelta folds an extracted delta into the form snapshot.
func (s *Session) ApplyDelta(delta form.Delta) {
	if delta.IsNoChange() {
		return
	}
	s.MergeFormState(form.State(delta))
}

// Subscribers returns a snapshot of the attached connections.
func (s *Session) Subscribers() []Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

// SubscriberCount returns the number of attached connections.
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

func (s *Session) addSubscriber(sub Subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return false
	}
	s.subscribers[sub] = struct{}{}
	return true
}

// RemoveSubscribers detaches subs and reports how many were still attached.
// Callers are responsible for closing them.
func (s *Session) RemoveSubscribers(subs ...Subscriber) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, sub := range subs {
		if _, ok := s.subscribers[sub]; ok {
			delete(s.subscribers, sub)
			removed++
		}
	}
	return removed
}

// drainSubscribers empties the set and marks the session removed so late
// attaches fail instead of leaking a connection.
func (s *Session) drainSubscribers() []Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = true
	subs := make([]Subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
		delete(s.subscribers, sub)
	}
	return subs
}
