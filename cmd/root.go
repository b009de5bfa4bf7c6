// Package cmd contains the sitechat CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitechat",
		Short: "Embeddable AI chat widget backend",
		Long: "sitechat serves the chat API for an embeddable website widget:\n" +
			"message intake with attack detection, rate limiting and strike bans,\n" +
			"LLM completion with page context and a file-based knowledge base,\n" +
			"chat history storage, and Telegram operator alerts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Bare `sitechat` starts the server.
			return runServe(cmd.Context())
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to config file")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(sessionsCmd())
	cmd.AddCommand(doctorCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// resolveConfigPath picks the config file: the --config flag wins, then
// SITECHAT_CONFIG, then ./sitechat.yaml.
func resolveConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if env := os.Getenv("SITECHAT_CONFIG"); env != "" {
		return env
	}
	return "sitechat.yaml"
}
