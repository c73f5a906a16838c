package secrets

import (
	"errors"
	"os"

	"majordomo/internal/config"
)

// Resolve fills the mailbox password and the inference API key from the
// keyring when neither the config file nor the environment supplied them.
func Resolve(cfg config.Config) (config.Config, error) {
	var err error
	if cfg.Auth.Password, cfg.Auth.PasswordSource, err = resolveOne(
		cfg.Auth.Password, config.EnvPrefix+"_AUTH_PASSWORD", cfg.Auth.Username,
		func() (string, error) { return GetPassword(cfg.Auth.Username) },
	); err != nil {
		return cfg, err
	}

	if cfg.LLM.APIKey, cfg.LLM.APIKeySource, err = resolveOne(
		cfg.LLM.APIKey, config.EnvPrefix+"_LLM_API_KEY", cfg.LLM.BaseURL,
		func() (string, error) { return GetAPIKey(cfg.LLM.BaseURL) },
	); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func resolveOne(current, env, owner string, lookup func() (string, error)) (string, string, error) {
	if _, ok := os.LookupEnv(env); ok {
		return current, "env", nil
	}
	if current != "" {
		return current, "config", nil
	}
	if owner == "" {
		return "", "", nil
	}

	value, err := lookup()
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return "", "", nil
		}
		return "", "", err
	}
	return value, "keyring", nil
}
