package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"skillbot/internal/domain"
)

// OpenAI implements domain.StreamingProvider for OpenAI-compatible chat
// completion APIs, which also covers Ollama, vLLM and most gateways.
type OpenAI struct {
	client *openai.Client
	model  string
	retry  RetryPolicy
	logger *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   RetryPolicy
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Retry.Retries < 0 {
		cfg.Retry.Retries = 0
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = newHTTPClient(cfg.Timeout)
	return &OpenAI{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		retry:  cfg.Retry,
		logger: cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) request(req domain.ChatRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = o.model
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	r := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      stream,
	}
	if req.JSON {
		r.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	if stream {
		r.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return r
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	params := o.request(req, false)

	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, o.Name(), o.retry, o.logger, func() error {
		var err error
		resp, err = o.client.CreateChatCompletion(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, domain.Execution("openai returned no choices", nil)
	}

	choice := resp.Choices[0]
	return &domain.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// ChatStream sends tokens to out as they arrive and closes out on return.
// Opening the stream is retried; a stream that fails midway is not, since
// tokens have already been delivered.
func (o *OpenAI) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)
	params := o.request(req, true)

	var stream *openai.ChatCompletionStream
	err := withRetry(ctx, o.Name(), o.retry, o.logger, func() error {
		var err error
		stream, err = o.client.CreateChatCompletionStream(ctx, params)
		return err
	})
	if err != nil {
		out <- domain.StreamEvent{Type: domain.StreamError, Content: err.Error()}
		return err
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			out <- domain.StreamEvent{Type: domain.StreamDone}
			return nil
		}
		if err != nil {
			err = typed(o.Name(), err)
			out <- domain.StreamEvent{Type: domain.StreamError, Content: err.Error()}
			return err
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				select {
				case out <- domain.StreamEvent{Type: domain.StreamToken, Content: choice.Delta.Content}:
				case <-ctx.Done():
					return typed(o.Name(), ctx.Err())
				}
			}
		}
	}
}
