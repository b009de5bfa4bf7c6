package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitechat/sitechat/internal/chat"
	"github.com/sitechat/sitechat/internal/config"
	"github.com/sitechat/sitechat/internal/httpapi"
	"github.com/sitechat/sitechat/internal/knowledge"
	"github.com/sitechat/sitechat/internal/notify"
	"github.com/sitechat/sitechat/internal/providers"
	"github.com/sitechat/sitechat/internal/security"
	"github.com/sitechat/sitechat/internal/store"
	filestore "github.com/sitechat/sitechat/internal/store/file"
	"github.com/sitechat/sitechat/internal/store/pg"
	"github.com/sitechat/sitechat/internal/store/sqlite"
	"github.com/sitechat/sitechat/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	slog.Info("starting sitechat", "config", cfgPath, "storage", cfg.Storage.Type)

	// Security pipeline. The pattern matcher is built once and never
	// swapped; rate limits and strike policy stay reloadable.
	matcher, err := buildMatcher(cfg)
	if err != nil {
		return err
	}
	limiter := security.NewRateLimiter(
		cfg.Security.RateLimitPerMinute,
		cfg.Security.RateLimitPerHour,
		cfg.Security.MaxTrackedIdentities,
	)
	strikes := security.NewStrikeTracker(
		banThresholds(cfg),
		cfg.Security.StrikeCooldown.Std(),
		cfg.Security.MaxTrackedIdentities,
	)
	gate := security.NewGate(limiter, strikes, matcher)

	// Chat history storage.
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Knowledge base with live reload.
	kb, err := knowledge.New(cfg.Knowledge.Dir)
	if err != nil {
		return err
	}
	kbWatcher, err := knowledge.NewWatcher(kb)
	if err != nil {
		return err
	}
	if err := kbWatcher.Start(); err != nil {
		slog.Warn("knowledge watcher disabled", "error", err)
		kbWatcher.Stop()
	} else {
		defer kbWatcher.Stop()
	}

	// Provider, chosen from the base URL.
	vendor := providers.DetectVendor(cfg.Provider.BaseURL)
	provider, err := providers.New(vendor, providers.Options{
		APIKey:      cfg.Provider.APIKey,
		Model:       cfg.Provider.Model,
		BaseURL:     cfg.Provider.BaseURL,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
	})
	if err != nil {
		return err
	}
	slog.Info("provider ready", "vendor", provider.Name(), "model", cfg.Provider.Model)

	// Telegram alerts. A nil notifier disables them cleanly.
	notifier, err := notify.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if err != nil {
		return err
	}
	if notifier == nil {
		slog.Info("telegram alerts disabled")
	}
	alerts := notify.NewDispatcher(notifier, 64)
	defer alerts.Close()

	// Gate rejections become operator alerts.
	gate.OnEvent(func(evt security.Event) {
		if evt.Reason != security.ReasonAttackDetected && evt.Reason != security.ReasonBanned {
			return
		}
		detail := ""
		if evt.Category != security.CategoryNone {
			detail = fmt.Sprintf("%s (strike %d)", evt.Category, evt.Strikes)
		}
		alerts.Publish(notify.SecurityAlert(evt.Identity, string(evt.Reason), detail))
	})

	// Request spans, optionally mirrored to OTLP.
	collector := tracing.NewCollector(0)
	initOTelExporter(ctx, cfg, collector)
	defer collector.Shutdown(context.Background())

	srv := httpapi.New(httpapi.Options{
		Gate: gate,
		Chat: &chat.Orchestrator{
			Store:    st,
			KB:       kb,
			Provider: provider,
			Alerts:   alerts,
		},
		Store:     st,
		Notifier:  notifier,
		Alerts:    alerts,
		Collector: collector,
		Config:    cfg,
	})

	// Config hot reload: only the tunable security knobs are applied.
	defer startSecurityReload(cfgPath, limiter, strikes)()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func setupLogging() {
	level := slog.LevelInfo
	if os.Getenv("SITECHAT_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// startSecurityReload watches the config file and applies changed rate
// limits and strike policy to the running pipeline. A watch failure is
// logged and disables hot reload; the server keeps running either way.
// The returned stop function is never nil.
func startSecurityReload(cfgPath string, limiter *security.RateLimiter, strikes *security.StrikeTracker) func() {
	watcher, err := config.NewWatcher(cfgPath)
	if err != nil {
		slog.Warn("config watcher disabled", "error", err)
		return func() {}
	}
	watcher.OnChange(func(next *config.Config) {
		limiter.SetLimits(next.Security.RateLimitPerMinute, next.Security.RateLimitPerHour)
		strikes.SetPolicy(banThresholds(next), next.Security.StrikeCooldown.Std())
		slog.Info("security limits reloaded",
			"per_minute", next.Security.RateLimitPerMinute,
			"per_hour", next.Security.RateLimitPerHour)
	})
	if err := watcher.Start(); err != nil {
		slog.Warn("config watcher disabled", "error", err)
		watcher.Stop()
		return func() {}
	}
	return watcher.Stop
}

// buildMatcher compiles pattern signatures, applying per-category
// overrides from the config when present.
func buildMatcher(cfg *config.Config) (*security.PatternMatcher, error) {
	if len(cfg.Security.PatternSignatures) == 0 {
		return security.NewPatternMatcher(), nil
	}
	overrides := make(map[security.Category][]string, len(cfg.Security.PatternSignatures))
	for name, exprs := range cfg.Security.PatternSignatures {
		overrides[security.Category(name)] = exprs
	}
	return security.NewPatternMatcherWith(overrides)
}

func banThresholds(cfg *config.Config) []security.BanThreshold {
	if len(cfg.Security.BanThresholds) == 0 {
		return security.DefaultBanThresholds()
	}
	out := make([]security.BanThreshold, 0, len(cfg.Security.BanThresholds))
	for _, t := range cfg.Security.BanThresholds {
		out = append(out, security.BanThreshold{Strikes: t.Strikes, Duration: t.Ban.Std()})
	}
	return out
}

// openStore selects the history backend from the config.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Type {
	case "json", "":
		return filestore.New(cfg.Storage.DataDir)
	case "sqlite":
		return sqlite.New(filepath.Join(cfg.Storage.DataDir, "sitechat.db"))
	case "postgres":
		return pg.New(cfg.Storage.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}
