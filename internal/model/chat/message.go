package chat

import "time"

// Sender roles recorded in a transcript.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Message is one turn of a conversation kept by a dialogue engine.
type Message struct {
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}
