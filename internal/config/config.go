// Package config loads and validates the SiteChat configuration from a
// YAML file with SITECHAT_* environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to parse Go duration strings from YAML
// ("30m", "2h") instead of nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Provider  ProviderConfig  `yaml:"provider" json:"provider"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Knowledge KnowledgeConfig `yaml:"knowledge" json:"knowledge"`
	Telegram  TelegramConfig  `yaml:"telegram" json:"telegram"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port        int      `yaml:"port" json:"port"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// FloodPerSecond / FloodBurst drive the coarse per-IP token bucket in
	// front of the API (transport damping, distinct from the security
	// pipeline's sliding windows). 0 disables it.
	FloodPerSecond float64 `yaml:"flood_per_second" json:"flood_per_second"`
	FloodBurst     int     `yaml:"flood_burst" json:"flood_burst"`
}

// ProviderConfig configures the model provider. Any OpenAI-compatible
// endpoint works; Anthropic and Gemini endpoints are detected from the
// base URL and use their native request shapes.
type ProviderConfig struct {
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	APIKey      string  `yaml:"api_key" json:"api_key"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// StorageConfig selects the chat-history backend.
type StorageConfig struct {
	Type        string `yaml:"type" json:"type"` // json, sqlite, postgres
	DataDir     string `yaml:"data_dir" json:"data_dir"`
	DatabaseURL string `yaml:"database_url" json:"database_url"`
}

// KnowledgeConfig points at the knowledge base directory.
type KnowledgeConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// TelegramConfig configures operator alerts. Both fields empty disables
// the notifier cleanly.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token" json:"bot_token"`
	ChatID   int64  `yaml:"chat_id" json:"chat_id"`
}

// SecurityConfig is the tuning surface of the admission pipeline.
type SecurityConfig struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	RateLimitPerHour   int `yaml:"rate_limit_per_hour" json:"rate_limit_per_hour"`

	MaxMessageLength int `yaml:"max_message_length" json:"max_message_length"`

	StrikeCooldown Duration             `yaml:"strike_cooldown" json:"strike_cooldown"`
	BanThresholds  []BanThresholdConfig `yaml:"strike_ban_thresholds" json:"strike_ban_thresholds"`

	// MaxTrackedIdentities caps the per-identity state maps (LRU).
	MaxTrackedIdentities int `yaml:"max_tracked_identities" json:"max_tracked_identities"`

	// PatternSignatures replaces the default signature set of a category
	// (keys: sql_injection, script_injection, prompt_injection).
	PatternSignatures map[string][]string `yaml:"pattern_signatures" json:"pattern_signatures"`
}

// BanThresholdConfig maps a strike count to a ban duration.
type BanThresholdConfig struct {
	Strikes int      `yaml:"strikes" json:"strikes"`
	Ban     Duration `yaml:"ban" json:"ban"`
}

// TelemetryConfig enables OTLP span export (requires the otel build tag).
type TelemetryConfig struct {
	Enabled     bool              `yaml:"enabled" json:"enabled"`
	Endpoint    string            `yaml:"endpoint" json:"endpoint"`
	Protocol    string            `yaml:"protocol" json:"protocol"` // "grpc" (default) or "http"
	ServiceName string            `yaml:"service_name" json:"service_name"`
	Insecure    bool              `yaml:"insecure" json:"insecure"`
	Headers     map[string]string `yaml:"headers" json:"headers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			CORSOrigins:    []string{"*"},
			FloodPerSecond: 20,
			FloodBurst:     40,
		},
		Provider: ProviderConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   1000,
		},
		Storage: StorageConfig{
			Type:    "json",
			DataDir: "data",
		},
		Knowledge: KnowledgeConfig{
			Dir: "knowledge",
		},
		Security: SecurityConfig{
			RateLimitPerMinute:   10,
			RateLimitPerHour:     60,
			MaxMessageLength:     2000,
			StrikeCooldown:       Duration(time.Hour),
			MaxTrackedIdentities: 10000,
			BanThresholds: []BanThresholdConfig{
				{Strikes: 1, Ban: 0},
				{Strikes: 3, Ban: Duration(10 * time.Minute)},
				{Strikes: 5, Ban: Duration(2 * time.Hour)},
			},
		},
	}
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. A missing file is not an error: defaults plus
// environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults + env only.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from SITECHAT_* environment variables.
// Only the deployment-sensitive fields are exposed this way.
func (c *Config) applyEnv() {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr("SITECHAT_PROVIDER_BASE_URL", &c.Provider.BaseURL)
	setStr("SITECHAT_PROVIDER_API_KEY", &c.Provider.APIKey)
	setStr("SITECHAT_PROVIDER_MODEL", &c.Provider.Model)
	setStr("SITECHAT_STORAGE_TYPE", &c.Storage.Type)
	setStr("SITECHAT_DATABASE_URL", &c.Storage.DatabaseURL)
	setStr("SITECHAT_DATA_DIR", &c.Storage.DataDir)
	setStr("SITECHAT_KNOWLEDGE_DIR", &c.Knowledge.Dir)
	setStr("SITECHAT_TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken)

	if v := os.Getenv("SITECHAT_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("SITECHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SITECHAT_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = strings.Split(v, ",")
	}
}

// Validate fails fast on configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []string

	if c.Provider.BaseURL == "" {
		errs = append(errs, "provider.base_url is required")
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, "provider.api_key is required")
	}

	switch c.Storage.Type {
	case "json", "sqlite":
		if c.Storage.DataDir == "" {
			errs = append(errs, "storage.data_dir is required for "+c.Storage.Type)
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, "storage.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.type must be json, sqlite, or postgres (got %q)", c.Storage.Type))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}

	if c.Security.RateLimitPerMinute <= 0 {
		errs = append(errs, "security.rate_limit_per_minute must be positive")
	}
	if c.Security.RateLimitPerHour <= 0 {
		errs = append(errs, "security.rate_limit_per_hour must be positive")
	}
	if c.Security.MaxMessageLength <= 0 {
		errs = append(errs, "security.max_message_length must be positive")
	}
	if c.Security.StrikeCooldown <= 0 {
		errs = append(errs, "security.strike_cooldown must be positive")
	}

	prevStrikes, prevBan := 0, Duration(0)
	for i, t := range c.Security.BanThresholds {
		if t.Strikes <= prevStrikes {
			errs = append(errs, fmt.Sprintf("security.strike_ban_thresholds[%d]: strike counts must be strictly increasing", i))
		}
		if t.Ban < prevBan {
			errs = append(errs, fmt.Sprintf("security.strike_ban_thresholds[%d]: ban durations must be non-decreasing", i))
		}
		prevStrikes, prevBan = t.Strikes, t.Ban
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Redacted returns a copy safe for display: secrets are masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Provider.APIKey != "" {
		out.Provider.APIKey = "***"
	}
	if out.Telegram.BotToken != "" {
		out.Telegram.BotToken = "***"
	}
	if out.Storage.DatabaseURL != "" {
		out.Storage.DatabaseURL = redactDSN(out.Storage.DatabaseURL)
	}
	return &out
}

// redactDSN masks the password portion of a connection URL.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return "***"
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}
