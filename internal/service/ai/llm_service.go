package ai

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/formpilot/backend/internal/model/chat"
)

// Service runs conversations against an eino chat model. The model is
// stateless, so history is kept per conversation in Transcripts.
type Service struct {
	chatModel    model.ChatModel
	chain        compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
	historyLimit int
	transcripts  *Transcripts
}

// NewService compiles the system+history+query chain around chatModel.
// historyLimit <= 0 sends the whole transcript on every turn.
func NewService(ctx context.Context, chatModel model.ChatModel, systemPrompt string, historyLimit int) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "compile chat chain")
	}

	return &Service{
		chatModel:    chatModel,
		chain:        runnable,
		systemPrompt: systemPrompt,
		historyLimit: historyLimit,
		transcripts:  NewTranscripts(),
	}, nil
}

// Converse answers prompt within conversationID and records both turns.
func (s *Service) Converse(ctx context.Context, conversationID, prompt string) (string, error) {
	history := s.transcripts.Load(conversationID, s.historyLimit)

	response, err := s.chain.Invoke(ctx, map[string]any{
		"system":  s.systemPrompt,
		"history": buildHistoryMessages(history),
		"query":   prompt,
	})
	if err != nil {
		return "", errors.Wrap(err, "run chat chain")
	}
	if response == nil {
		return "", errors.New("chat model returned no message")
	}

	s.transcripts.Append(conversationID, chat.SenderUser, prompt)
	s.transcripts.Append(conversationID, chat.SenderAssistant, response.Content)

	log.Debug().Str("component", "ai").Str("conversation_id", conversationID).
		Int("history", len(history)).Int("length", len(response.Content)).Msg("generated response")
	return response.Content, nil
}

// Forget drops the transcript of a discarded conversation.
func (s *Service) Forget(conversationID string) {
	s.transcripts.Drop(conversationID)
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
