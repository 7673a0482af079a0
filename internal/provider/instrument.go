package provider

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"skillbot/internal/domain"
	"skillbot/internal/metrics"
)

var tracer = otel.Tracer("skillbot/provider")

// Instrumented throttles a provider through a RateLimiter and records
// request counts, failures, latency and a trace span for every call.
type Instrumented struct {
	inner   domain.Provider
	limiter *RateLimiter
}

// Instrument wraps p. A nil limiter means no throttling.
func Instrument(p domain.Provider, limiter *RateLimiter) *Instrumented {
	return &Instrumented{inner: p, limiter: limiter}
}

func (i *Instrumented) Name() string { return i.inner.Name() }

// Unwrap returns the wrapped provider.
func (i *Instrumented) Unwrap() domain.Provider { return i.inner }

func (i *Instrumented) begin(ctx context.Context, op string, req domain.ChatRequest) (context.Context, func(error), error) {
	ctx, span := tracer.Start(ctx, "llm."+op)
	span.SetAttributes(
		attribute.String("llm.provider", i.inner.Name()),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
	)
	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			span.End()
			return ctx, nil, domain.NewError(domain.KindCapacity, "rate limit wait cancelled", err)
		}
	}

	metrics.LLMRequestsTotal.Inc()
	start := time.Now()
	return ctx, func(err error) {
		metrics.LLMLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.LLMFailures.Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, string(domain.Classify(err)))
		}
		span.End()
	}, nil
}

func (i *Instrumented) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, done, err := i.begin(ctx, "chat", req)
	if err != nil {
		return nil, err
	}
	resp, err := i.inner.Chat(ctx, req)
	done(err)
	return resp, err
}

// ChatStream streams when the wrapped provider can, and otherwise delivers
// the whole reply as one token.
func (i *Instrumented) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	ctx, done, err := i.begin(ctx, "stream", req)
	if err != nil {
		close(out)
		return err
	}
	if sp, ok := i.inner.(domain.StreamingProvider); ok {
		err = sp.ChatStream(ctx, req, out)
		done(err)
		return err
	}

	defer close(out)
	resp, err := i.inner.Chat(ctx, req)
	done(err)
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
