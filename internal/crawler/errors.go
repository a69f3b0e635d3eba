package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks control-plane calls that failed or timed out.
	ErrTransport = errors.New("job service unreachable")
	// ErrAbandoned marks jobs whose outcome is unknown after losing contact.
	ErrAbandoned = errors.New("job abandoned")
	// ErrConfig marks malformed or missing configuration.
	ErrConfig = errors.New("invalid configuration")
)

// ServiceFailureError carries the job service's own failure description.
type ServiceFailureError struct {
	Message string
}

func (e *ServiceFailureError) Error() string {
	if e.Message == "" {
		return "job failed: unknown error"
	}
	return "job failed: " + e.Message
}

// ConfigError describes a configuration problem detected before submission.
type ConfigError struct {
	Reason string
}

// NewConfigError formats a ConfigError.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Reason
}

// Unwrap lets errors.Is match ErrConfig.
func (e *ConfigError) Unwrap() error {
	return ErrConfig
}
