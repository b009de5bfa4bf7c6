package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sitechat/sitechat/internal/config"
	"github.com/sitechat/sitechat/internal/knowledge"
	"github.com/sitechat/sitechat/internal/providers"
	"github.com/sitechat/sitechat/internal/security"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("sitechat doctor")
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Provider:")
	vendor := providers.DetectVendor(cfg.Provider.BaseURL)
	fmt.Printf("    Vendor:  %s\n", vendor)
	fmt.Printf("    Model:   %s\n", cfg.Provider.Model)
	checkSecret("API key", cfg.Provider.APIKey)

	fmt.Println()
	fmt.Println("  Storage:")
	fmt.Printf("    Type:    %s\n", cfg.Storage.Type)
	if cfg.Storage.Type == "postgres" {
		checkSecret("DSN", cfg.Storage.DatabaseURL)
	} else {
		fmt.Printf("    DataDir: %s", cfg.Storage.DataDir)
		if _, err := os.Stat(cfg.Storage.DataDir); err != nil {
			fmt.Println(" (NOT FOUND, created on start)")
		} else {
			fmt.Println(" (OK)")
		}
	}

	fmt.Println()
	fmt.Println("  Knowledge:")
	fmt.Printf("    Dir:     %s", cfg.Knowledge.Dir)
	if kb, err := knowledge.New(cfg.Knowledge.Dir); err != nil {
		fmt.Printf(" (ERROR: %s)\n", err)
	} else {
		fmt.Printf(" (%d documents)\n", kb.DocumentCount())
	}

	fmt.Println()
	fmt.Println("  Telegram:")
	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == 0 {
		fmt.Println("    (not configured, alerts disabled)")
	} else {
		checkSecret("Bot token", cfg.Telegram.BotToken)
		fmt.Printf("    Chat ID: %d\n", cfg.Telegram.ChatID)
	}

	fmt.Println()
	fmt.Println("  Security:")
	matcher := security.NewPatternMatcher()
	fmt.Printf("    Signatures:   %d compiled\n", totalSignatures(matcher.SignatureCount()))
	fmt.Printf("    Rate limits:  %d/min, %d/hour\n",
		cfg.Security.RateLimitPerMinute, cfg.Security.RateLimitPerHour)
	fmt.Printf("    Ban steps:    %d\n", len(cfg.Security.BanThresholds))

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func totalSignatures(byCategory map[security.Category]int) int {
	total := 0
	for _, n := range byCategory {
		total += n
	}
	return total
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-8s (not configured)\n", name+":")
		return
	}
	masked := value
	if len(masked) > 8 {
		masked = masked[:4] + strings.Repeat("*", len(masked)-8) + masked[len(masked)-4:]
	} else {
		masked = strings.Repeat("*", len(masked))
	}
	fmt.Printf("    %-8s %s\n", name+":", masked)
}
