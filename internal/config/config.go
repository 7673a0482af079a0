// Package config loads skillbot settings from defaults, an optional YAML file
// and SKILLBOT_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. SKILLBOT_LLM_API_KEY.
const EnvPrefix = "SKILLBOT_"

// Config is the root configuration for skillbot.
type Config struct {
	Log       LogConfig       `koanf:"log" yaml:"log"`
	Server    ServerConfig    `koanf:"server" yaml:"server"`
	Storage   StorageConfig   `koanf:"storage" yaml:"storage"`
	LLM       LLMConfig       `koanf:"llm" yaml:"llm"`
	Router    RouterConfig    `koanf:"router" yaml:"router"`
	Workflow  WorkflowConfig  `koanf:"workflow" yaml:"workflow"`
	Agent     AgentConfig     `koanf:"agent" yaml:"agent"`
	Catalog   CatalogConfig   `koanf:"catalog" yaml:"catalog"`
	Telegram  TelegramConfig  `koanf:"telegram" yaml:"telegram"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics"`
	Telemetry TelemetryConfig `koanf:"telemetry" yaml:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`   // debug | info | warn | error
	Format string `koanf:"format" yaml:"format"` // text | json
	File   string `koanf:"file" yaml:"file,omitempty"`
}

type ServerConfig struct {
	Host           string   `koanf:"host" yaml:"host"`
	Port           int      `koanf:"port" yaml:"port"`
	WSPath         string   `koanf:"ws_path" yaml:"ws_path"`
	AllowedOrigins []string `koanf:"allowed_origins" yaml:"allowed_origins,omitempty"`
	// APIKey, when set, is required as a bearer token on /api routes.
	APIKey string `koanf:"api_key" yaml:"api_key,omitempty"`
	// WebhookSecret, when set, requires an X-Signature-256 HMAC on posted turns.
	WebhookSecret string `koanf:"webhook_secret" yaml:"webhook_secret,omitempty"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StorageConfig struct {
	DBPath string `koanf:"db_path" yaml:"db_path"`
}

// LLMConfig configures the language-model provider. The conversation skill
// and the llm/hybrid intent strategies use it; everything else works without.
type LLMConfig struct {
	Enabled           bool          `koanf:"enabled" yaml:"enabled"`
	Provider          string        `koanf:"provider" yaml:"provider"` // openai | anthropic
	BaseURL           string        `koanf:"base_url" yaml:"base_url,omitempty"`
	APIKey            string        `koanf:"api_key" yaml:"api_key,omitempty"`
	Model             string        `koanf:"model" yaml:"model"`
	MaxTokens         int           `koanf:"max_tokens" yaml:"max_tokens"`
	Temperature       float64       `koanf:"temperature" yaml:"temperature"`
	Retries           int           `koanf:"retries" yaml:"retries"`
	Timeout           time.Duration `koanf:"timeout" yaml:"timeout"`
	RatePerMinute     int           `koanf:"rate_per_minute" yaml:"rate_per_minute"`
	Burst             int           `koanf:"burst" yaml:"burst"`
	Style             string        `koanf:"style" yaml:"style"` // concise | normal | detailed
	SystemPromptExtra string        `koanf:"system_prompt_extra" yaml:"system_prompt_extra,omitempty"`
	MaxContextTokens  int           `koanf:"max_context_tokens" yaml:"max_context_tokens"`
	Fallbacks         []Endpoint    `koanf:"fallbacks" yaml:"fallbacks,omitempty"`
}

// Endpoint is an alternative provider tried when the primary one fails.
type Endpoint struct {
	Provider string `koanf:"provider" yaml:"provider"`
	BaseURL  string `koanf:"base_url" yaml:"base_url,omitempty"`
	APIKey   string `koanf:"api_key" yaml:"api_key,omitempty"`
	Model    string `koanf:"model" yaml:"model"`
}

type RouterConfig struct {
	Strategy      string  `koanf:"strategy" yaml:"strategy"` // keyword | llm | hybrid
	MinConfidence float64 `koanf:"min_confidence" yaml:"min_confidence"`
}

type WorkflowConfig struct {
	SubmitMode    string        `koanf:"submit_mode" yaml:"submit_mode"` // optimistic | confirmed
	SubmitTimeout time.Duration `koanf:"submit_timeout" yaml:"submit_timeout"`
	SessionTTL    time.Duration `koanf:"session_ttl" yaml:"session_ttl"`
	SweepSchedule string        `koanf:"sweep_schedule" yaml:"sweep_schedule"`
	CancelWords   []string      `koanf:"cancel_words" yaml:"cancel_words,omitempty"`
}

type AgentConfig struct {
	TurnTimeout  time.Duration `koanf:"turn_timeout" yaml:"turn_timeout"`
	MaxChain     int           `koanf:"max_chain" yaml:"max_chain"`
	HistoryLimit int           `koanf:"history_limit" yaml:"history_limit"`
}

type CatalogConfig struct {
	// Dir holds extra domain YAML files. Empty means the built-in catalog only.
	Dir string `koanf:"dir" yaml:"dir,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool     `koanf:"enabled" yaml:"enabled"`
	Token     string   `koanf:"token" yaml:"token,omitempty"`
	AllowFrom []string `koanf:"allow_from" yaml:"allow_from,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Path    string `koanf:"path" yaml:"path"`
}

type TelemetryConfig struct {
	Exporter    string `koanf:"exporter" yaml:"exporter"` // none | stdout
	ServiceName string `koanf:"service_name" yaml:"service_name"`
}

// DefaultConfigDir returns ~/.skillbot.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".skillbot"
	}
	return filepath.Join(home, ".skillbot")
}

// DefaultConfigPath returns ~/.skillbot/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load builds the configuration. A missing file is not an error when path
// is the default location; an explicitly named file must exist.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) || path != DefaultConfigPath() {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandSecrets(cfg)
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Catalog.Dir = ExpandPath(cfg.Catalog.Dir)
	cfg.Log.File = ExpandPath(cfg.Log.File)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps SKILLBOT_LLM_BASE_URL to llm.base_url: the first segment names
// the section, the rest is the key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

func expandSecrets(cfg *Config) {
	cfg.LLM.APIKey = ExpandEnvVars(cfg.LLM.APIKey)
	cfg.LLM.BaseURL = ExpandEnvVars(cfg.LLM.BaseURL)
	for i := range cfg.LLM.Fallbacks {
		cfg.LLM.Fallbacks[i].APIKey = ExpandEnvVars(cfg.LLM.Fallbacks[i].APIKey)
		cfg.LLM.Fallbacks[i].BaseURL = ExpandEnvVars(cfg.LLM.Fallbacks[i].BaseURL)
	}
	cfg.Telegram.Token = ExpandEnvVars(cfg.Telegram.Token)
	cfg.Server.APIKey = ExpandEnvVars(cfg.Server.APIKey)
	cfg.Server.WebhookSecret = ExpandEnvVars(cfg.Server.WebhookSecret)
}

// Save writes cfg as YAML, creating the parent directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		add("log.format must be text or json, got %q", cfg.Log.Format)
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if !strings.HasPrefix(cfg.Server.WSPath, "/") {
		add("server.ws_path must start with /, got %q", cfg.Server.WSPath)
	}
	if cfg.Storage.DBPath == "" {
		add("storage.db_path is required")
	}

	if cfg.LLM.Enabled {
		if !validProvider(cfg.LLM.Provider) {
			add("llm.provider must be openai or anthropic, got %q", cfg.LLM.Provider)
		}
		if cfg.LLM.Model == "" {
			add("llm.model is required when llm.enabled is true")
		}
		for i, fb := range cfg.LLM.Fallbacks {
			if !validProvider(fb.Provider) {
				add("llm.fallbacks[%d].provider must be openai or anthropic, got %q", i, fb.Provider)
			}
		}
	}
	if cfg.LLM.MaxTokens < 1 {
		add("llm.max_tokens must be positive, got %d", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		add("llm.temperature must be between 0 and 2, got %g", cfg.LLM.Temperature)
	}
	if cfg.LLM.Retries < 0 {
		add("llm.retries must not be negative, got %d", cfg.LLM.Retries)
	}
	switch cfg.LLM.Style {
	case "concise", "normal", "detailed":
	default:
		add("llm.style must be concise, normal or detailed, got %q", cfg.LLM.Style)
	}

	switch cfg.Router.Strategy {
	case "keyword", "llm", "hybrid":
		if cfg.Router.Strategy != "keyword" && !cfg.LLM.Enabled {
			add("router.strategy %q needs llm.enabled", cfg.Router.Strategy)
		}
	default:
		add("router.strategy must be keyword, llm or hybrid, got %q", cfg.Router.Strategy)
	}
	if cfg.Router.MinConfidence < 0 || cfg.Router.MinConfidence > 1 {
		add("router.min_confidence must be between 0 and 1, got %g", cfg.Router.MinConfidence)
	}

	if cfg.Workflow.SubmitMode != "optimistic" && cfg.Workflow.SubmitMode != "confirmed" {
		add("workflow.submit_mode must be optimistic or confirmed, got %q", cfg.Workflow.SubmitMode)
	}
	if cfg.Workflow.SessionTTL < 0 {
		add("workflow.session_ttl must not be negative")
	}
	if cfg.Agent.MaxChain < 1 {
		add("agent.max_chain must be at least 1, got %d", cfg.Agent.MaxChain)
	}
	if cfg.Agent.HistoryLimit < 0 {
		add("agent.history_limit must not be negative, got %d", cfg.Agent.HistoryLimit)
	}
	if cfg.Agent.TurnTimeout < 0 {
		add("agent.turn_timeout must not be negative")
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		add("telegram.token is required when telegram.enabled is true")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path must start with /, got %q", cfg.Metrics.Path)
	}
	if cfg.Telemetry.Exporter != "none" && cfg.Telemetry.Exporter != "stdout" {
		add("telemetry.exporter must be none or stdout, got %q", cfg.Telemetry.Exporter)
	}

	if result == nil {
		return nil
	}
	return fmt.Errorf("invalid config: %w", result)
}

func validProvider(p string) bool {
	return p == "openai" || p == "anthropic"
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// ExpandEnvVars replaces ${VAR} and ${VAR:-default} in s.
func ExpandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(parts[1]); ok && v != "" {
			return v
		}
		return parts[2]
	})
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
