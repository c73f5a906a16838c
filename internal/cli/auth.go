package cli

import (
	"fmt"
	"os"
	"strings"

	"majordomo/internal/config"
	"majordomo/internal/secrets"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newAuthCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication and config setup",
	}
	cmd.AddCommand(newAuthLoginCmd(root))
	return cmd
}

func newAuthLoginCmd(root *rootOptions) *cobra.Command {
	var (
		imapHost     string
		imapPort     int
		imapTLS      bool
		imapStartTLS bool
		imapInsecure bool

		smtpHost     string
		smtpPort     int
		smtpTLS      bool
		smtpStartTLS bool
		smtpInsecure bool

		username string
		address  string
		password string

		llmBaseURL string
		llmModel   string
		apiKey     string

		agentName string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store mailbox and model credentials in the keyring and save the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return WithExitCode(ExitConfig, err)
			}

			flags := cmd.Flags()
			if flags.Changed("imap-host") {
				cfg.IMAP.Host = imapHost
			}
			if flags.Changed("imap-port") {
				cfg.IMAP.Port = imapPort
			}
			if flags.Changed("imap-tls") {
				cfg.IMAP.TLS = imapTLS
			}
			if flags.Changed("imap-starttls") {
				cfg.IMAP.StartTLS = imapStartTLS
			}
			if flags.Changed("imap-insecure") {
				cfg.IMAP.InsecureSkipVerify = imapInsecure
			}

			if flags.Changed("smtp-host") {
				cfg.SMTP.Host = smtpHost
			}
			if flags.Changed("smtp-port") {
				cfg.SMTP.Port = smtpPort
			}
			if flags.Changed("smtp-tls") {
				cfg.SMTP.TLS = smtpTLS
			}
			if flags.Changed("smtp-starttls") {
				cfg.SMTP.StartTLS = smtpStartTLS
			}
			if flags.Changed("smtp-insecure") {
				cfg.SMTP.InsecureSkipVerify = smtpInsecure
			}

			if flags.Changed("username") {
				cfg.Auth.Username = username
			}
			if flags.Changed("address") {
				cfg.Auth.Address = address
			}
			if flags.Changed("llm-base-url") {
				cfg.LLM.BaseURL = llmBaseURL
			}
			if flags.Changed("llm-model") {
				cfg.LLM.Model = llmModel
			}
			if flags.Changed("agent-name") {
				cfg.Agent.Name = agentName
			}

			if cfg.Auth.Username == "" {
				return &config.ConfigurationError{Field: "auth.username", Reason: "is required (use --username)"}
			}

			if !flags.Changed("password") {
				if password, err = promptSecret(cmd, "Mailbox password: "); err != nil {
					return err
				}
			}
			if password != "" {
				if err := secrets.SetPassword(cfg.Auth.Username, password); err != nil {
					return fmt.Errorf("store password: %w", err)
				}
				cfg.Auth.Password = ""
			}

			if !flags.Changed("api-key") {
				if apiKey, err = promptSecret(cmd, "Model API key (empty to keep): "); err != nil {
					return err
				}
			}
			if apiKey != "" {
				if err := secrets.SetAPIKey(cfg.LLM.BaseURL, apiKey); err != nil {
					return fmt.Errorf("store api key: %w", err)
				}
				cfg.LLM.APIKey = ""
			}

			resolved, err := secrets.Resolve(cfg)
			if err != nil {
				return err
			}
			if err := config.ValidateIMAP(resolved); err != nil {
				return err
			}
			if err := config.ValidateSMTP(resolved); err != nil {
				return err
			}

			path, err := config.Save(cfg, root.configPath)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&imapHost, "imap-host", "", "IMAP host")
	cmd.Flags().IntVar(&imapPort, "imap-port", 0, "IMAP port")
	cmd.Flags().BoolVar(&imapTLS, "imap-tls", false, "Use IMAP TLS")
	cmd.Flags().BoolVar(&imapStartTLS, "imap-starttls", false, "Use IMAP STARTTLS")
	cmd.Flags().BoolVar(&imapInsecure, "imap-insecure", false, "Skip IMAP TLS verification")

	cmd.Flags().StringVar(&smtpHost, "smtp-host", "", "SMTP host")
	cmd.Flags().IntVar(&smtpPort, "smtp-port", 0, "SMTP port")
	cmd.Flags().BoolVar(&smtpTLS, "smtp-tls", false, "Use SMTP TLS")
	cmd.Flags().BoolVar(&smtpStartTLS, "smtp-starttls", false, "Use SMTP STARTTLS")
	cmd.Flags().BoolVar(&smtpInsecure, "smtp-insecure", false, "Skip SMTP TLS verification")

	cmd.Flags().StringVar(&username, "username", "", "Mailbox login")
	cmd.Flags().StringVar(&address, "address", "", "Address replies are sent from (default: username)")
	cmd.Flags().StringVar(&password, "password", "", "Password or app password (prompted when omitted)")

	cmd.Flags().StringVar(&llmBaseURL, "llm-base-url", "", "OpenAI-compatible API base URL")
	cmd.Flags().StringVar(&llmModel, "llm-model", "", "Model used for replies")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Model API key (prompted when omitted)")

	cmd.Flags().StringVar(&agentName, "agent-name", "", "Name the agent signs replies with")

	return cmd
}

// promptSecret reads a line without echo. It returns "" when stdin is not a
// terminal so scripted logins rely on flags or the environment.
func promptSecret(cmd *cobra.Command, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), label)
	value, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(value)), nil
}
