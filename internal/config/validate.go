package config

import (
	"fmt"
	"net/mail"
	"strings"
)

// Validate checks everything the agent needs before its first cycle.
func Validate(cfg Config) error {
	for _, check := range []func(Config) error{ValidateIMAP, ValidateSMTP, ValidateLLM, ValidateAgent, ValidatePoll} {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func ValidateIMAP(cfg Config) error {
	if cfg.IMAP.Host == "" {
		return required("imap.host")
	}
	if cfg.IMAP.Port <= 0 {
		return &ConfigurationError{Field: "imap.port", Reason: "must be positive"}
	}
	return validateAuth(cfg)
}

func ValidateSMTP(cfg Config) error {
	if cfg.SMTP.Host == "" {
		return required("smtp.host")
	}
	if cfg.SMTP.Port <= 0 {
		return &ConfigurationError{Field: "smtp.port", Reason: "must be positive"}
	}
	if cfg.SMTP.Timeout <= 0 {
		return &ConfigurationError{Field: "smtp.timeout", Reason: "must be positive"}
	}
	if err := validateAuth(cfg); err != nil {
		return err
	}
	if _, err := mail.ParseAddress(cfg.FromAddress()); err != nil {
		return &ConfigurationError{Field: "auth.address", Reason: fmt.Sprintf("is not a valid address: %v", err)}
	}
	return nil
}

func ValidateLLM(cfg Config) error {
	if cfg.LLM.BaseURL == "" {
		return required("llm.base_url")
	}
	if cfg.LLM.Model == "" {
		return required("llm.model")
	}
	if cfg.LLM.APIKey == "" {
		return required("llm.api_key")
	}
	if cfg.LLM.Timeout <= 0 {
		return &ConfigurationError{Field: "llm.timeout", Reason: "must be positive"}
	}
	return nil
}

func ValidateAgent(cfg Config) error {
	if strings.TrimSpace(cfg.Agent.Name) == "" {
		return required("agent.name")
	}
	if strings.TrimSpace(cfg.Agent.Persona) == "" {
		return required("agent.persona")
	}
	return nil
}

func ValidatePoll(cfg Config) error {
	if cfg.Poll.Interval <= 0 {
		return &ConfigurationError{Field: "poll.interval", Reason: "must be positive"}
	}
	if cfg.Poll.MaxBackoff < cfg.Poll.Interval {
		return &ConfigurationError{Field: "poll.max_backoff", Reason: "must not be shorter than poll.interval"}
	}
	if cfg.Poll.MaxMessages < 0 {
		return &ConfigurationError{Field: "poll.max_messages", Reason: "must not be negative"}
	}
	return nil
}

func validateAuth(cfg Config) error {
	if cfg.Auth.Username == "" {
		return required("auth.username")
	}
	if cfg.Auth.Password == "" {
		return required("auth.password")
	}
	return nil
}
