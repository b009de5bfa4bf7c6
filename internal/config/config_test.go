package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validBase() *Config {
	cfg := Default()
	cfg.Provider.BaseURL = "https://api.openai.com/v1"
	cfg.Provider.APIKey = "sk-test"
	return cfg
}

func TestDefault_ValidOnceProviderSet(t *testing.T) {
	if err := validBase().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure without provider credentials")
	}
	for _, want := range []string{"provider.base_url", "provider.api_key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestValidate_StorageCombos(t *testing.T) {
	cfg := validBase()
	cfg.Storage.Type = "postgres"
	cfg.Storage.DatabaseURL = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "database_url") {
		t.Errorf("postgres without DSN should fail: %v", err)
	}

	cfg = validBase()
	cfg.Storage.Type = "cassandra"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "storage.type") {
		t.Errorf("unknown storage type should fail: %v", err)
	}
}

func TestValidate_SecurityLimits(t *testing.T) {
	cfg := validBase()
	cfg.Security.RateLimitPerMinute = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero rate_limit_per_minute should fail")
	}

	cfg = validBase()
	cfg.Security.BanThresholds = []BanThresholdConfig{
		{Strikes: 3, Ban: Duration(time.Hour)},
		{Strikes: 3, Ban: Duration(time.Hour)},
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "strictly increasing") {
		t.Errorf("duplicate strike thresholds should fail: %v", err)
	}

	cfg = validBase()
	cfg.Security.BanThresholds = []BanThresholdConfig{
		{Strikes: 3, Ban: Duration(time.Hour)},
		{Strikes: 5, Ban: Duration(time.Minute)},
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "non-decreasing") {
		t.Errorf("shrinking ban durations should fail: %v", err)
	}
}

func TestLoad_FileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sitechat.yaml")
	data := `
provider:
  base_url: https://api.openai.com/v1
  api_key: sk-file
security:
  rate_limit_per_minute: 7
  strike_cooldown: 45m
  strike_ban_thresholds:
    - strikes: 2
      ban: 5m
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Security.RateLimitPerMinute != 7 {
		t.Errorf("file value not applied: %d", cfg.Security.RateLimitPerMinute)
	}
	if cfg.Security.StrikeCooldown.Std() != 45*time.Minute {
		t.Errorf("duration not parsed: %v", cfg.Security.StrikeCooldown.Std())
	}
	if len(cfg.Security.BanThresholds) != 1 || cfg.Security.BanThresholds[0].Ban.Std() != 5*time.Minute {
		t.Errorf("thresholds not parsed: %+v", cfg.Security.BanThresholds)
	}
	// Untouched fields keep defaults.
	if cfg.Security.RateLimitPerHour != 60 {
		t.Errorf("default per-hour limit lost: %d", cfg.Security.RateLimitPerHour)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("SITECHAT_PROVIDER_BASE_URL", "https://api.openai.com/v1")
	t.Setenv("SITECHAT_PROVIDER_API_KEY", "sk-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIKey != "sk-env" {
		t.Errorf("env override not applied: %q", cfg.Provider.APIKey)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port lost: %d", cfg.Server.Port)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sitechat.yaml")
	data := `
provider:
  base_url: https://api.openai.com/v1
  api_key: sk-file
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SITECHAT_PROVIDER_API_KEY", "sk-env-wins")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIKey != "sk-env-wins" {
		t.Errorf("env must override file: %q", cfg.Provider.APIKey)
	}
}

func TestRedacted(t *testing.T) {
	cfg := validBase()
	cfg.Telegram.BotToken = "123:abc"
	cfg.Storage.DatabaseURL = "postgres://user:secret@db:5432/chat"

	red := cfg.Redacted()
	if red.Provider.APIKey != "***" || red.Telegram.BotToken != "***" {
		t.Errorf("secrets not masked: %+v", red)
	}
	if strings.Contains(red.Storage.DatabaseURL, "secret") {
		t.Errorf("DSN password leaked: %s", red.Storage.DatabaseURL)
	}
	// Original untouched.
	if cfg.Provider.APIKey != "sk-test" {
		t.Error("Redacted must not mutate the source config")
	}
}
