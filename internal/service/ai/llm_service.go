package ai

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/esp1745/voicerag/internal/config"
	"github.com/esp1745/voicerag/internal/model/conversation"
)

// ErrUpstreamUnavailable marks a language model call that failed after the
// transient retry.
var ErrUpstreamUnavailable = errors.New("language model unavailable")

// Input carries everything the model needs for one turn.
type Input struct {
	Context []string
	History []conversation.Turn
	Query   string
}

// Service encapsulates language model generation behind an eino chain.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the chat model and compiles the prompt chain.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
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
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{chain: runnable}, nil
}

// Generate produces one assistant reply. The upstream call is made once, with
// a single retry when the first attempt fails for a transient reason.
func (s *Service) Generate(ctx context.Context, in Input) (string, error) {
	input := map[string]any{
		"system":  systemPrompt,
		"history": s.buildHistoryMessages(in.History),
		"query":   BuildQuery(in.Context, in.Query),
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil && ctx.Err() == nil {
		log.Printf("[ai] retrying generation after transient error: %v", err)
		response, err = s.chain.Invoke(ctx, input)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	log.Printf("[ai] generated response length=%d contextPassages=%d", len(response.Content), len(in.Context))
	return response.Content, nil
}

func (s *Service) buildHistoryMessages(turns []conversation.Turn) []*schema.Message {
	const historyLimit = 10

	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if len(turns) > historyLimit {
		startIdx = len(turns) - historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Role {
		case conversation.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case conversation.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}

	return history
}
