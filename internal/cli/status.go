package cli

import (
	"fmt"

	"majordomo/internal/config"
	"majordomo/internal/imap"

	"github.com/spf13/cobra"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show mailbox status and where credentials come from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if err := config.ValidateIMAP(cfg); err != nil {
				return err
			}

			service := imap.NewService()
			status, err := service.Status(cfg, cfg.IMAP.Mailbox)
			if err != nil {
				return err
			}

			sent := cfg.IMAP.SentMailbox
			if sent == "" {
				if sent, err = service.DetectSentMailbox(cfg); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d messages, %d unseen\n", cfg.IMAP.Mailbox, status.Messages, status.Unseen)
			fmt.Fprintf(out, "Sent folder: %s\n", orNone(sent))
			fmt.Fprintf(out, "Password source: %s\n", orNone(cfg.Auth.PasswordSource))
			fmt.Fprintf(out, "API key source: %s\n", orNone(cfg.LLM.APIKeySource))
			return nil
		},
	}
	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
