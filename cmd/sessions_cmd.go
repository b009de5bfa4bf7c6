package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sitechat/sitechat/internal/config"
	"github.com/sitechat/sitechat/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage chat sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List session IDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ids, err := st.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("No sessions.")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func sessionsShowCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			msgs, err := st.Messages(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Printf("[%s] %-9s %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Role+":", m.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max messages to print")
	return cmd
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Session %s deleted.\n", args[0])
			return nil
		},
	}
}

func openConfiguredStore() (store.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	return openStore(cfg)
}
