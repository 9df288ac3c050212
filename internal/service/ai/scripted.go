package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/formpilot/backend/internal/model/chat"
)

// Scripted is a deterministic engine for local development and demos. It
// walks through the onboarding questions by keyword and never reports form
// changes.
type Scripted struct {
	transcripts *Transcripts
}

// NewScripted returns a Scripted engine.
func NewScripted() *Scripted {
	return &Scripted{transcripts: NewTranscripts()}
}

var scriptedSteps = []struct {
	keywords []string
	reply    string
}{
	{[]string{"flow"}, "Great! I can see you're working on the flow name. What source system will you be transferring data from?"},
	{[]string{"source"}, "Perfect! Now, what's the target system you'll be transferring data to?"},
	{[]string{"target"}, "Excellent! What transfer method would you like to use? Options include SFTP, API, Database, File Share, or Message Queue."},
	{[]string{"transfer", "method"}, "Good choice! How frequently do you need this transfer to run? Daily, Weekly, Monthly, or a Custom schedule?"},
	{[]string{"frequency", "schedule"}, "Perfect! Is there a specific time you'd like the transfer to run?"},
}

// Converse implements dialogue.Engine.
func (s *Scripted) Converse(_ context.Context, conversationID, prompt string) (string, error) {
	reply := s.reply(prompt)
	s.transcripts.Append(conversationID, chat.SenderUser, prompt)
	s.transcripts.Append(conversationID, chat.SenderAssistant, reply)
	return reply, nil
}

// Forget implements dialogue.Forgetter.
func (s *Scripted) Forget(conversationID string) {
	s.transcripts.Drop(conversationID)
}

func (s *Scripted) reply(prompt string) string {
	switch {
	case strings.Contains(prompt, "REPORT-LAST-ANSWER"):
		return "{}"
	case strings.Contains(prompt, "Start asking questions."):
		return "Hello! I'm your assistant for customer onboarding. Let's start by getting your flow name. What would you like to call this file transfer flow?"
	}

	lower := strings.ToLower(prompt)
	for _, step := range scriptedSteps {
		for _, kw := range step.keywords {
			if strings.Contains(lower, kw) {
				return step.reply
			}
		}
	}
	return fmt.Sprintf("I understand you said: '%s'. Could you tell me more about your file transfer requirements?", prompt)
}
