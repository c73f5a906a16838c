package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is built once at startup and passed by value; nothing mutates it
// after the run command hands it to the agent.
type Config struct {
	IMAP   IMAPConfig   `mapstructure:"imap" yaml:"imap"`
	SMTP   SMTPConfig   `mapstructure:"smtp" yaml:"smtp"`
	Auth   AuthConfig   `mapstructure:"auth" yaml:"auth"`
	LLM    LLMConfig    `mapstructure:"llm" yaml:"llm"`
	Agent  AgentConfig  `mapstructure:"agent" yaml:"agent"`
	Poll   PollConfig   `mapstructure:"poll" yaml:"poll"`
	Thread ThreadConfig `mapstructure:"thread" yaml:"thread"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

type IMAPConfig struct {
	Host               string `mapstructure:"host" yaml:"host"`
	Port               int    `mapstructure:"port" yaml:"port"`
	TLS                bool   `mapstructure:"tls" yaml:"tls"`
	StartTLS           bool   `mapstructure:"starttls" yaml:"starttls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Mailbox            string `mapstructure:"mailbox" yaml:"mailbox"`
	SentMailbox        string `mapstructure:"sent_mailbox" yaml:"sent_mailbox"`
}

type SMTPConfig struct {
	Host               string `mapstructure:"host" yaml:"host"`
	Port               int    `mapstructure:"port" yaml:"port"`
	TLS                bool   `mapstructure:"tls" yaml:"tls"`
	StartTLS           bool   `mapstructure:"starttls" yaml:"starttls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	// Timeout bounds one whole delivery, from dial to QUIT.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type AuthConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	// Address is the mailbox address replies are sent from. Defaults to Username.
	Address string `mapstructure:"address" yaml:"address"`

	PasswordSource string `mapstructure:"-" yaml:"-"`
}

type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Model       string        `mapstructure:"model" yaml:"model"`
	TriageModel string        `mapstructure:"triage_model" yaml:"triage_model"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`

	APIKeySource string `mapstructure:"-" yaml:"-"`
}

type AgentConfig struct {
	Name         string `mapstructure:"name" yaml:"name"`
	Persona      string `mapstructure:"persona" yaml:"persona"`
	TriagePrompt string `mapstructure:"triage_prompt" yaml:"triage_prompt"`
	ReplyPrompt  string `mapstructure:"reply_prompt" yaml:"reply_prompt"`
}

type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	MaxMessages int           `mapstructure:"max_messages" yaml:"max_messages"`
}

type ThreadConfig struct {
	MaxMessages  int `mapstructure:"max_messages" yaml:"max_messages"`
	MaxBodyChars int `mapstructure:"max_body_chars" yaml:"max_body_chars"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func DefaultConfig() Config {
	return Config{
		IMAP: IMAPConfig{
			Port:     993,
			TLS:      true,
			StartTLS: false,
			Mailbox:  "INBOX",
		},
		SMTP: SMTPConfig{
			Port:     465,
			TLS:      true,
			StartTLS: false,
			Timeout:  2 * time.Minute,
		},
		LLM: LLMConfig{
			BaseURL:   "https://api.openai.com/v1",
			MaxTokens: 1024,
			Timeout:   60 * time.Second,
		},
		Poll: PollConfig{
			Interval:   60 * time.Second,
			MaxBackoff: 30 * time.Minute,
		},
		Thread: ThreadConfig{
			MaxMessages:  10,
			MaxBodyChars: 800,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// FromAddress is the address replies are sent from.
func (c Config) FromAddress() string {
	if addr := strings.TrimSpace(c.Auth.Address); addr != "" {
		return addr
	}
	return strings.TrimSpace(c.Auth.Username)
}

func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config file at path (the default location when empty)
// and applies MAJORDOMO_* environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}

	return cfg, nil
}

func Save(cfg Config, path string) (string, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return "", err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

func Redact(cfg Config) Config {
	masked := cfg
	if masked.Auth.Password != "" {
		masked.Auth.Password = "****"
	}
	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = "****"
	}
	return masked
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("imap.host", cfg.IMAP.Host)
	v.SetDefault("imap.port", cfg.IMAP.Port)
	v.SetDefault("imap.tls", cfg.IMAP.TLS)
	v.SetDefault("imap.starttls", cfg.IMAP.StartTLS)
	v.SetDefault("imap.insecure_skip_verify", cfg.IMAP.InsecureSkipVerify)
	v.SetDefault("imap.mailbox", cfg.IMAP.Mailbox)
	v.SetDefault("imap.sent_mailbox", cfg.IMAP.SentMailbox)

	v.SetDefault("smtp.host", cfg.SMTP.Host)
	v.SetDefault("smtp.port", cfg.SMTP.Port)
	v.SetDefault("smtp.tls", cfg.SMTP.TLS)
	v.SetDefault("smtp.starttls", cfg.SMTP.StartTLS)
	v.SetDefault("smtp.insecure_skip_verify", cfg.SMTP.InsecureSkipVerify)
	v.SetDefault("smtp.timeout", cfg.SMTP.Timeout)

	v.SetDefault("auth.username", cfg.Auth.Username)
	v.SetDefault("auth.password", cfg.Auth.Password)
	v.SetDefault("auth.address", cfg.Auth.Address)

	v.SetDefault("llm.base_url", cfg.LLM.BaseURL)
	v.SetDefault("llm.api_key", cfg.LLM.APIKey)
	v.SetDefault("llm.model", cfg.LLM.Model)
	v.SetDefault("llm.triage_model", cfg.LLM.TriageModel)
	v.SetDefault("llm.max_tokens", cfg.LLM.MaxTokens)
	v.SetDefault("llm.temperature", cfg.LLM.Temperature)
	v.SetDefault("llm.timeout", cfg.LLM.Timeout)

	v.SetDefault("agent.name", cfg.Agent.Name)
	v.SetDefault("agent.persona", cfg.Agent.Persona)
	v.SetDefault("agent.triage_prompt", cfg.Agent.TriagePrompt)
	v.SetDefault("agent.reply_prompt", cfg.Agent.ReplyPrompt)

	v.SetDefault("poll.interval", cfg.Poll.Interval)
	v.SetDefault("poll.max_backoff", cfg.Poll.MaxBackoff)
	v.SetDefault("poll.max_messages", cfg.Poll.MaxMessages)

	v.SetDefault("thread.max_messages", cfg.Thread.MaxMessages)
	v.SetDefault("thread.max_body_chars", cfg.Thread.MaxBodyChars)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}
