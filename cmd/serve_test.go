package cmd

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sitechat/sitechat/internal/security"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func testReloadTargets() (*security.RateLimiter, *security.StrikeTracker) {
	limiter := security.NewRateLimiter(10, 100, 0)
	strikes := security.NewStrikeTracker(security.DefaultBanThresholds(), time.Hour, 0)
	return limiter, strikes
}

func TestStartSecurityReload_WatchFailureLogged(t *testing.T) {
	logs := captureLogs(t)
	limiter, strikes := testReloadTargets()

	stop := startSecurityReload(filepath.Join(t.TempDir(), "missing", "sitechat.yaml"), limiter, strikes)
	if stop == nil {
		t.Fatal("stop func must never be nil")
	}
	stop()

	if !strings.Contains(logs.String(), "config watcher disabled") {
		t.Errorf("watch failure must be logged, got: %s", logs.String())
	}
}

func TestStartSecurityReload_WatchesExistingConfig(t *testing.T) {
	logs := captureLogs(t)
	limiter, strikes := testReloadTargets()

	cfgPath := filepath.Join(t.TempDir(), "sitechat.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  port: 8080\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stop := startSecurityReload(cfgPath, limiter, strikes)
	defer stop()

	if strings.Contains(logs.String(), "config watcher disabled") {
		t.Errorf("watching an existing file must not degrade, got: %s", logs.String())
	}
}
