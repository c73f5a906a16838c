package cli

import (
	"errors"
	"fmt"

	"majordomo/internal/config"
)

const (
	ExitSuccess = 0
	ExitError   = 1
	// ExitConfig means the agent refused to start because of its configuration.
	ExitConfig = 2
)

// ExitCodeError wraps an error with a specific exit code.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// GetExitCode maps err to the process exit status. Configuration errors
// exit with ExitConfig even when they were not wrapped explicitly.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}
	return ExitError
}

func WithExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitCodeError{Code: code, Err: err}
}
