package shared

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"skillbot/internal/domain"
)

const (
	defaultMaxContextTokens = 4096
	// Keep at least this many recent messages when compacting.
	minRecentMessages = 4
	// 1 token is roughly 0.75 English words.
	wordsPerToken = 0.75
)

// Compactor keeps a conversation under its token budget by replacing the
// oldest messages with a model-written summary. The leading system prompt and
// the most recent messages are always kept.
type Compactor struct {
	maxTokens int
	logger    *slog.Logger
}

func NewCompactor(maxTokens int, logger *slog.Logger) *Compactor {
	if maxTokens <= 0 {
		maxTokens = defaultMaxContextTokens
	}
	return &Compactor{maxTokens: maxTokens, logger: logger}
}

// EstimateTokens returns a rough token count for messages.
func EstimateTokens(messages []domain.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += estimateStringTokens(m.Content)
	}
	return total
}

func estimateStringTokens(s string) int {
	words := len(strings.Fields(s))
	tokens := int(float64(words) / wordsPerToken)
	if tokens == 0 && words > 0 {
		tokens = 1
	}
	return tokens
}

// Compact returns messages unchanged when they fit, and otherwise a shorter
// slice with a summary in place of the old messages. A failed summary keeps
// the full context.
func (c *Compactor) Compact(ctx context.Context, provider domain.Provider, messages []domain.ChatMessage) []domain.ChatMessage {
	if provider == nil || len(messages) <= minRecentMessages+1 {
		return messages
	}
	total := EstimateTokens(messages)
	if total <= c.maxTokens {
		return messages
	}

	recentStart := len(messages) - minRecentMessages
	old := messages[1:recentStart]
	summary, err := c.summarize(ctx, provider, old)
	if err != nil {
		c.logger.Warn("compaction summarization failed, keeping full context", "err", err)
		return messages
	}

	compacted := make([]domain.ChatMessage, 0, 2+minRecentMessages)
	compacted = append(compacted, messages[0])
	compacted = append(compacted, domain.ChatMessage{
		Role:    domain.RoleSystem,
		Content: "[Conversation Summary]\n" + summary,
	})
	compacted = append(compacted, messages[recentStart:]...)

	c.logger.Info("context compacted",
		"old_tokens", total,
		"new_tokens", EstimateTokens(compacted),
		"summarized_messages", len(old),
	)
	return compacted
}

func (c *Compactor) summarize(ctx context.Context, provider domain.Provider, messages []domain.ChatMessage) (string, error) {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Role + ": " + m.Content + "\n")
	}
	resp, err := provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{
				Role: domain.RoleSystem,
				Content: "Summarize the following conversation concisely, keeping the facts, " +
					"records and decisions needed to continue it. Stay under 200 words.",
			},
			{Role: domain.RoleUser, Content: "Summarize this conversation:\n\n" + sb.String()},
		},
		MaxTokens:   512,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarization call: %w", err)
	}
	return resp.Content, nil
}
