package provider

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"skillbot/internal/domain"
)

const defaultClaudeModel = "claude-3-5-haiku-latest"

// Claude implements domain.StreamingProvider for the Anthropic Messages API.
type Claude struct {
	client anthropic.Client
	model  string
	retry  RetryPolicy
	logger *slog.Logger
}

type ClaudeConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   RetryPolicy
	Logger  *slog.Logger
}

func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.Model == "" {
		cfg.Model = defaultClaudeModel
	}
	if cfg.Retry.Retries < 0 {
		cfg.Retry.Retries = 0
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(newHTTPClient(cfg.Timeout)),
		// withRetry owns retries
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Claude{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		retry:  cfg.Retry,
		logger: cfg.Logger,
	}
}

func (c *Claude) Name() string { return "anthropic" }

// params converts a request. System messages become the system prompt; the
// Messages API only accepts user and assistant turns.
func (c *Claude) params(req domain.ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var system []string
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if req.JSON {
		system = append(system, "Respond with a single JSON object and nothing else.")
	}

	p := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(req.Temperature),
	}
	if len(system) > 0 {
		p.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return p
}

func (c *Claude) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	params := c.params(req)

	var msg *anthropic.Message
	err := withRetry(ctx, c.Name(), c.retry, c.logger, func() error {
		var err error
		msg, err = c.client.Messages.New(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &domain.ChatResponse{
		Content:      sb.String(),
		FinishReason: string(msg.StopReason),
		Usage:        domain.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// ChatStream sends text deltas to out and closes out on return. Stream
// failures are not retried.
func (c *Claude) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)
	stream := c.client.Messages.NewStreaming(ctx, c.params(req))
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			if d, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
				select {
				case out <- domain.StreamEvent{Type: domain.StreamToken, Content: d.Text}:
				case <-ctx.Done():
					return typed(c.Name(), ctx.Err())
				}
			}
		case "message_stop":
			out <- domain.StreamEvent{Type: domain.StreamDone}
			return nil
		}
	}
	if err := stream.Err(); err != nil {
		err = typed(c.Name(), err)
		out <- domain.StreamEvent{Type: domain.StreamError, Content: err.Error()}
		return err
	}
	out <- domain.StreamEvent{Type: domain.StreamDone}
	return nil
}
