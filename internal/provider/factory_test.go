package provider

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillbot/internal/config"
	"skillbot/internal/domain"
	"skillbot/internal/metrics"
)

func TestFactoryDisabled(t *testing.T) {
	p, err := NewFactory(testLogger()).Build(config.Defaults().LLM)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFactoryBuildsInstrumentedPrimary(t *testing.T) {
	cfg := config.Defaults().LLM
	cfg.Enabled = true
	cfg.Provider = "anthropic"

	p, err := NewFactory(testLogger()).Build(cfg)
	require.NoError(t, err)
	inst, ok := p.(*Instrumented)
	require.True(t, ok)
	assert.IsType(t, &Claude{}, inst.Unwrap())
	assert.Implements(t, (*domain.StreamingProvider)(nil), p)
}

func TestFactoryBuildsFailoverChain(t *testing.T) {
	cfg := config.Defaults().LLM
	cfg.Enabled = true
	cfg.Fallbacks = []config.Endpoint{{Provider: "anthropic", Model: "claude-test"}}

	p, err := NewFactory(testLogger()).Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, "failover(openai,anthropic)", p.Name())
}

func TestFactoryUnknownProvider(t *testing.T) {
	cfg := config.Defaults().LLM
	cfg.Enabled = true
	cfg.Provider = "carrier-pigeon"

	_, err := NewFactory(testLogger()).Build(cfg)
	require.Error(t, err)
}

func TestFactoryRegisterCustomConstructor(t *testing.T) {
	f := NewFactory(testLogger())
	f.Register("mock", func(ep config.Endpoint, _ config.LLMConfig, _ *slog.Logger) domain.Provider {
		return &mockProvider{name: "mock:" + ep.Model, chatResp: &domain.ChatResponse{Content: "ok"}}
	})
	cfg := config.Defaults().LLM
	cfg.Enabled = true
	cfg.Provider = "mock"
	cfg.Model = "m1"

	p, err := f.Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, "mock:m1", p.Name())
}

func TestInstrumentedCountsRequests(t *testing.T) {
	before, failuresBefore := metrics.LLMRequestsTotal.Value(), metrics.LLMFailures.Value()
	ok := Instrument(&mockProvider{name: "ok", chatResp: &domain.ChatResponse{Content: "fine"}}, nil)
	bad := Instrument(&mockProvider{name: "bad", chatErr: errors.New("boom")}, NewRateLimiter(5, 60))

	_, err := ok.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	_, err = bad.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)

	assert.Equal(t, before+2, metrics.LLMRequestsTotal.Value())
	assert.Equal(t, failuresBefore+1, metrics.LLMFailures.Value())
}

func TestInstrumentedStreamsNonStreamingProvider(t *testing.T) {
	p := Instrument(&mockProvider{name: "plain", chatResp: &domain.ChatResponse{Content: "all at once"}}, nil)
	events, err := collect(t, func(out chan<- domain.StreamEvent) error {
		return p.ChatStream(context.Background(), domain.ChatRequest{}, out)
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "all at once", events[0].Content)
}

func TestInstrumentedRateLimitCancelled(t *testing.T) {
	p := Instrument(&mockProvider{name: "ok", chatResp: &domain.ChatResponse{}}, NewRateLimiter(1, 1))
	ctx, cancel := context.WithCancel(context.Background())
	_, err := p.Chat(ctx, domain.ChatRequest{})
	require.NoError(t, err)

	cancel()
	_, err = p.Chat(ctx, domain.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, domain.KindCapacity, domain.KindOf(err))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		kind      domain.ErrorKind
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, true, domain.KindCapacity},
		{"server error", &openai.APIError{HTTPStatusCode: 503}, true, domain.KindExecution},
		{"gateway timeout", &openai.APIError{HTTPStatusCode: 504}, true, domain.KindTimeout},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, false, domain.KindExecution},
		{"transport", &net.OpError{Op: "dial", Err: timeoutErr{}}, true, domain.KindTimeout},
		{"deadline", context.DeadlineExceeded, false, domain.KindTimeout},
		{"cancelled", context.Canceled, false, domain.KindExecution},
		{"plain", errors.New("weird"), false, domain.KindExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, retryable(tt.err))
			assert.Equal(t, tt.kind, kindOf(tt.err))
		})
	}
}
