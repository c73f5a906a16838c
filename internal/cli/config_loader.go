package cli

import (
	"majordomo/internal/config"
	"majordomo/internal/secrets"
)

// loadConfig reads the config file and fills secrets the file and the
// environment left empty from the keyring. Failures exit with ExitConfig.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, WithExitCode(ExitConfig, err)
	}

	cfg, err = secrets.Resolve(cfg)
	if err != nil {
		return cfg, WithExitCode(ExitConfig, err)
	}
	return cfg, nil
}
