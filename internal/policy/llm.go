package policy

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/avvvet/brain/internal/models"
	"github.com/avvvet/brain/internal/prompts"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
)

// LLMSuggester asks a language model to rank the available actions.
type LLMSuggester struct {
	model       llms.Model
	actions     []models.ActionTag
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// NewLLMSuggester restricts the model to the given actions; anything else it
// proposes is dropped.
func NewLLMSuggester(model llms.Model, actions []models.ActionTag, logger *slog.Logger) *LLMSuggester {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMSuggester{
		model:       model,
		actions:     slices.Clone(actions),
		maxTokens:   500,
		temperature: 0.1, // Low temperature for consistent rankings
		logger:      logger,
	}
}

func (l *LLMSuggester) Suggest(ctx context.Context, p models.Percept, s models.SessionState) ([]models.Candidate, error) {
	history, err := l.replay(ctx, s)
	if err != nil {
		return nil, err
	}

	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, prompts.SystemPrompt))
	messages = append(messages, history...)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompts.BuildSuggestPrompt(p, s, l.actions)))

	resp, err := l.model.GenerateContent(ctx, messages,
		llms.WithMaxTokens(l.maxTokens),
		llms.WithTemperature(l.temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to call model: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	cands, err := prompts.ParseCandidates(resp.Choices[0].Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model reply: %w", err)
	}

	out := make([]models.Candidate, 0, len(cands))
	for _, c := range cands {
		if !slices.Contains(l.actions, c.Action) {
			l.logger.Debug("llm_unknown_action_dropped", "session_id", p.SessionID, "action", c.Action)
			continue
		}
		c.Source = "llm"
		out = append(out, c)
	}
	return Rank(out), nil
}

// replay loads the recent turns into a conversation buffer and returns them as
// alternating user/assistant messages.
func (l *LLMSuggester) replay(ctx context.Context, s models.SessionState) ([]llms.MessageContent, error) {
	buf := memory.NewConversationBuffer()
	for _, turn := range s.History {
		user, assistant := prompts.TurnMessages(turn)
		if err := buf.ChatHistory.AddUserMessage(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to add user message to memory: %w", err)
		}
		if err := buf.ChatHistory.AddAIMessage(ctx, assistant); err != nil {
			return nil, fmt.Errorf("failed to add AI message to memory: %w", err)
		}
	}

	msgs, err := buf.ChatHistory.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation memory: %w", err)
	}
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llms.TextParts(m.GetType(), m.GetContent()))
	}
	return out, nil
}
