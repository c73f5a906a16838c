package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"majordomo/internal/config"
	"majordomo/internal/imap"
	"majordomo/internal/llm"
	"majordomo/internal/pipeline"
	"majordomo/internal/smtp"

	"github.com/spf13/cobra"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var once bool
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the mailbox and answer new mail until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			agent, err := buildAgent(cfg, dryRun, logger)
			if err != nil {
				return err
			}

			if !once {
				return agent.Run(ctx)
			}

			report := agent.RunCycle(ctx)
			switch {
			case report.Err != nil:
				return report.Err
			case report.Throttled:
				return errors.New("inference rate limited; remaining messages left for the next run")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Triage and compose but never send or mark messages seen")

	return cmd
}

func buildAgent(cfg config.Config, dryRun bool, logger *slog.Logger) (*pipeline.Agent, error) {
	service := imap.NewService()

	sent := cfg.IMAP.SentMailbox
	if sent == "" {
		detected, err := service.DetectSentMailbox(cfg)
		switch {
		case err != nil:
			logger.Warn("could not detect sent folder; thread history will only search the inbox", "err", err)
		case detected == "":
			logger.Warn("no sent folder found; thread history will only search the inbox")
		default:
			logger.Info("sent folder detected", "mailbox", detected)
		}
		sent = detected
	}

	agent, err := pipeline.New(
		imap.NewMailbox(service, cfg, sent, logger),
		llm.New(cfg.LLM),
		smtp.NewTransport(cfg, cfg.Agent.Name),
		personaFrom(cfg),
		pipeline.Options{
			Interval:    cfg.Poll.Interval,
			MaxBackoff:  cfg.Poll.MaxBackoff,
			MaxMessages: cfg.Poll.MaxMessages,
			DryRun:      dryRun,
			Logger:      logger,
		},
	)
	if err != nil {
		return nil, WithExitCode(ExitConfig, fmt.Errorf("agent prompts: %w", err))
	}
	return agent, nil
}

func personaFrom(cfg config.Config) pipeline.Persona {
	return pipeline.Persona{
		AgentName:    cfg.Agent.Name,
		Text:         cfg.Agent.Persona,
		Address:      cfg.FromAddress(),
		Model:        cfg.LLM.Model,
		TriageModel:  cfg.LLM.TriageModel,
		MaxTokens:    cfg.LLM.MaxTokens,
		TriagePrompt: cfg.Agent.TriagePrompt,
		ReplyPrompt:  cfg.Agent.ReplyPrompt,
	}
}
