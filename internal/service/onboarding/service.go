// Package onboarding ties authentication, sessions, the dialogue gateway,
// change detection and fan-out into the start / ask / update-field flows.
package onboarding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/formpilot/backend/internal/logging"
	"github.com/zhouzirui/formpilot/backend/internal/model/form"
	"github.com/zhouzirui/formpilot/backend/internal/service/auth"
	"github.com/zhouzirui/formpilot/backend/internal/service/broadcast"
	"github.com/zhouzirui/formpilot/backend/internal/service/changedetect"
	"github.com/zhouzirui/formpilot/backend/internal/service/dialogue"
	"github.com/zhouzirui/formpilot/backend/internal/service/session"
)

// StartPrompt opens a fresh conversation.
const StartPrompt = "Start asking questions."

// StartResult is returned by Start.
type StartResult struct {
	Answer                string `json:"answer"`
	ShowAssistanceButtons bool   `json:"showAssistanceButtons"`
}

// AskResult is returned by Ask.
type AskResult struct {
	Answer   string
	Delta    form.Delta
	Strategy changedetect.Strategy
	Notified int
}

// Service implements the onboarding flows for authenticated tokens.
type Service struct {
	creds       *auth.Store
	sessions    *session.Registry
	gateway     *dialogue.Gateway
	detector    *changedetect.Detector
	broadcaster *broadcast.Broadcaster
}

// NewService wires the flow collaborators.
func NewService(creds *auth.Store, sessions *session.Registry, gateway *dialogue.Gateway, broadcaster *broadcast.Broadcaster) *Service {
	return &Service{
		creds:       creds,
		sessions:    sessions,
		gateway:     gateway,
		detector:    changedetect.New(gateway),
		broadcaster: broadcaster,
	}
}

// Login issues a token for password and opens its session.
func (s *Service) Login(password string) (string, error) {
	token, err := s.creds.Login(password)
	if err != nil {
		return "", err
	}
	s.sessions.EnsureSession(token)
	log.Info().Str("component", "onboarding").Str("token", logging.Redact(token)).Msg("login")
	return token, nil
}

// Logout revokes token and purges its session.
func (s *Service) Logout(token string) error {
	err := s.creds.Logout(token)
	if removed := s.sessions.Remove(token); removed != nil {
		s.gateway.Forget(removed.ConversationID())
	}
	return err
}

// Start begins a new conversation for token. Form values reported by the
// client are kept and summarised for the engine.
func (s *Service) Start(ctx context.Context, token string, formData form.State) (StartResult, error) {
	sess, previous := s.sessions.RestartSession(token)
	if previous != "" {
		s.gateway.Forget(previous)
	}
	if err := s.checkRevoked(token); err != nil {
		return StartResult{}, err
	}
	sess.MergeFormState(formData)

	prompt := withFormContext(StartPrompt, formData)
	answer, err := s.gateway.Converse(ctx, sess.ConversationID(), prompt)
	if err != nil {
		return StartResult{}, err
	}

	return StartResult{
		Answer:                strings.TrimSpace(answer),
		ShowAssistanceButtons: len(formData) == 0,
	}, nil
}

// Ask sends a user utterance, pushes any resulting form change to every
// connection of the session and returns the cleaned reply.
func (s *Service) Ask(ctx context.Context, token, prompt string, formData form.State, manual bool) (AskResult, error) {
	sess, err := s.activeSession(token)
	if err != nil {
		return AskResult{}, err
	}
	sess.MergeFormState(formData)
	conversationID := sess.ConversationID()

	manual = manual || changedetect.IsManualModeRequest(prompt)

	reply, err := s.gateway.Converse(ctx, conversationID, withFormContext(prompt, formData))
	if err != nil {
		return AskResult{}, err
	}

	res := s.detector.Detect(ctx, conversationID, reply, manual)
	notified := 0
	if !res.Delta.IsNoChange() {
		sess.ApplyDelta(res.Delta)
		notified = s.broadcaster.Broadcast(sess, res.Delta)
	}

	log.Info().Str("component", "onboarding").Str("conversation_id", conversationID).
		Str("strategy", string(res.Strategy)).Int("notified", notified).Bool("manual", manual).Msg("ask handled")

	return AskResult{
		Answer:   res.Clean,
		Delta:    res.Delta,
		Strategy: res.Strategy,
		Notified: notified,
	}, nil
}

// UpdateField records a value the user typed into the form, mirrors it to
// the session's other tabs and asks the engine what to do next.
func (s *Service) UpdateField(ctx context.Context, token, name string, value any, complete form.State) (string, error) {
	sess, err := s.activeSession(token)
	if err != nil {
		return "", err
	}
	sess.MergeFormState(complete)
	sess.SetField(name, value)
	s.broadcaster.Broadcast(sess, form.Delta{name: value})

	prompt := fmt.Sprintf("User has updated the form field '%s' with value '%s'. What should user do next?", name, formatValue(value))
	answer, err := s.gateway.Converse(ctx, sess.ConversationID(), prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// Sessions exposes the registry for WebSocket admission.
func (s *Service) Sessions() *session.Registry {
	return s.sessions
}

// Credentials exposes the token store for request authentication.
func (s *Service) Credentials() *auth.Store {
	return s.creds
}

// activeSession returns the session for token, creating it if needed. A
// logout racing with the request must not leave a session behind.
func (s *Service) activeSession(token string) (*session.Session, error) {
	sess := s.sessions.EnsureSession(token)
	if err := s.checkRevoked(token); err != nil {
		return nil, err
	}
	return sess, nil
}

// checkRevoked drops the session of a token that is no longer issued.
// Logout revokes the token before removing the session, so checking after
// creation covers every interleaving.
func (s *Service) checkRevoked(token string) error {
	if s.creds.IsValid(token) {
		return nil
	}
	if removed := s.sessions.Remove(token); removed != nil {
		s.gateway.Forget(removed.ConversationID())
	}
	return auth.ErrUnauthenticated
}

func withFormContext(prompt string, formData form.State) string {
	if len(formData) == 0 {
		return prompt
	}
	data, err := json.Marshal(formData)
	if err != nil {
		return prompt
	}
	return fmt.Sprintf("%s\n\nCurrent form data: %s", prompt, data)
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
