package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"skillbot/internal/domain"
)

// Failover tries providers in order and returns the first success. Caller
// cancellation stops the chain.
type Failover struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailover creates a failover chain. At least one provider is required.
func NewFailover(providers []domain.Provider, logger *slog.Logger) *Failover {
	return &Failover{providers: providers, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

func (f *Failover) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error
	for i, p := range f.providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("failover: provider failed, trying next", "provider", p.Name(), "attempt", i+1, "err", err)
	}
	if lastErr == nil {
		return nil, domain.Execution("no provider configured", nil)
	}
	var de *domain.Error
	if errors.As(lastErr, &de) {
		return nil, domain.NewError(de.Kind, "all providers failed", lastErr)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

// ChatStream streams from the first streaming provider only. A provider closes
// out when its ChatStream returns, so a second provider cannot reuse it.
// Without a streaming provider the full Chat failover runs and the reply is
// delivered as one token.
func (f *Failover) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	for _, p := range f.providers {
		if sp, ok := p.(domain.StreamingProvider); ok {
			return sp.ChatStream(ctx, req, out)
		}
	}

	defer close(out)
	resp, err := f.Chat(ctx, req)
	if err != nil {
		out <- domain.StreamEvent{Type: domain.StreamError, Content: err.Error()}
		return err
	}
	if resp.Content != "" {
		out <- domain.StreamEvent{Type: domain.StreamToken, Content: resp.Content}
	}
	out <- domain.StreamEvent{Type: domain.StreamDone}
	return nil
}
