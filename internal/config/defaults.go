package config

import (
	"path/filepath"
	"time"
)

// Defaults returns a Config with every value set to a working default:
// keyword routing, optimistic submission, no LLM.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Host:   "127.0.0.1",
			Port:   8090,
			WSPath: "/ws",
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(DefaultConfigDir(), "skillbot.db"),
		},
		LLM: LLMConfig{
			Enabled:          false,
			Provider:         "openai",
			Model:            "gpt-4o-mini",
			MaxTokens:        1024,
			Temperature:      0.7,
			Retries:          3,
			Timeout:          60 * time.Second,
			RatePerMinute:    30,
			Burst:            10,
			Style:            "normal",
			MaxContextTokens: 4096,
		},
		Catalog: CatalogConfig{
			Dir: filepath.Join(DefaultConfigDir(), "catalog"),
		},
		Router: RouterConfig{
			Strategy:      "keyword",
			MinConfidence: 0.5,
		},
		Workflow: WorkflowConfig{
			SubmitMode:    "optimistic",
			SubmitTimeout: 30 * time.Second,
			SessionTTL:    24 * time.Hour,
			SweepSchedule: "@every 10m",
		},
		Agent: AgentConfig{
			TurnTimeout:  2 * time.Minute,
			MaxChain:     4,
			HistoryLimit: 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "skillbot",
		},
	}
}
