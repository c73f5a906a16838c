package config

import "fmt"

// ConfigurationError reports a missing or invalid setting. It is fatal at
// startup and never produced during steady-state processing.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

func required(field string) error {
	return &ConfigurationError{Field: field, Reason: "is required"}
}
