package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"skillbot/internal/config"
	"skillbot/internal/domain"
)

// Constructor creates a provider for one endpoint.
type Constructor func(ep config.Endpoint, cfg config.LLMConfig, logger *slog.Logger) domain.Provider

// Factory builds providers from the llm configuration section.
type Factory struct {
	logger       *slog.Logger
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory creates a factory with the openai and anthropic constructors.
func NewFactory(logger *slog.Logger) *Factory {
	f := &Factory{logger: logger, constructors: make(map[string]Constructor)}
	f.Register("openai", func(ep config.Endpoint, cfg config.LLMConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			APIKey:  ep.APIKey,
			BaseURL: ep.BaseURL,
			Model:   ep.Model,
			Timeout: cfg.Timeout,
			Retry:   policy(cfg),
			Logger:  logger,
		})
	})
	f.Register("anthropic", func(ep config.Endpoint, cfg config.LLMConfig, logger *slog.Logger) domain.Provider {
		return NewClaude(ClaudeConfig{
			APIKey:  ep.APIKey,
			BaseURL: ep.BaseURL,
			Model:   ep.Model,
			Timeout: cfg.Timeout,
			Retry:   policy(cfg),
			Logger:  logger,
		})
	})
	return f
}

// Register adds or replaces the constructor for a provider name.
func (f *Factory) Register(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func policy(cfg config.LLMConfig) RetryPolicy {
	p := DefaultRetryPolicy
	p.Retries = cfg.Retries
	return p
}

// Build returns the configured provider, or nil when the LLM is disabled.
// Every endpoint is rate limited and instrumented; fallbacks form a
// failover chain behind the primary endpoint.
func (f *Factory) Build(cfg config.LLMConfig) (domain.Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	endpoints := append([]config.Endpoint{{
		Provider: cfg.Provider,
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
	}}, cfg.Fallbacks...)

	chain := make([]domain.Provider, 0, len(endpoints))
	for _, ep := range endpoints {
		f.mu.RLock()
		ctor, ok := f.constructors[ep.Provider]
		f.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown provider: %s", ep.Provider)
		}
		p := ctor(ep, cfg, f.logger)
		chain = append(chain, Instrument(p, NewRateLimiter(cfg.Burst, float64(cfg.RatePerMinute))))
		f.logger.Info("llm provider configured", "provider", ep.Provider, "model", ep.Model, "base_url", ep.BaseURL)
	}

	if len(chain) == 1 {
		return chain[0], nil
	}
	return NewFailover(chain, f.logger), nil
}
