package cli

import (
	"fmt"

	"majordomo/internal/config"
	"majordomo/internal/imap"

	"github.com/spf13/cobra"
)

func newPendingCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List unseen messages the agent has not handled yet",
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
			messages, err := service.ListPending(cfg, cfg.IMAP.Mailbox, limit)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Mailbox: %s (%d unseen shown)\n", cfg.IMAP.Mailbox, len(messages))
			printMessages(cmd.OutOrStdout(), messages)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of messages to show (0 for all)")

	return cmd
}
