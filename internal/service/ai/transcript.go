package ai

import (
	"sync"
	"time"

	"github.com/zhouzirui/formpilot/backend/internal/model/chat"
)

// Transcripts keeps per-conversation history for engines whose model is
// stateless.
type Transcripts struct {
	mu       sync.RWMutex
	messages map[string][]chat.Message
}

// NewTranscripts returns an empty store.
func NewTranscripts() *Transcripts {
	return &Transcripts{messages: make(map[string][]chat.Message)}
}

// Append records one turn.
func (t *Transcripts) Append(conversationID, sender, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages[conversationID] = append(t.messages[conversationID], chat.Message{
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	})
}

// Load returns a copy of the last limit messages; limit <= 0 returns all.
func (t *Transcripts) Load(conversationID string, limit int) []chat.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	messages := t.messages[conversationID]
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied
}

// Drop forgets a conversation.
func (t *Transcripts) Drop(conversationID string) {
	t.mu.Lock()
	delete(t.messages, conversationID)
	t.mu.Unlock()
}

// Len returns the number of tracked conversations.
func (t *Transcripts) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
