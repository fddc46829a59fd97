package core

import (
	"errors"
	"fmt"
)

// ConfigError is a fatal startup-time configuration problem. It aborts the
// process with a non-zero exit; it is never produced after validation.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigError creates a ConfigError for the given config field.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ErrCapabilityUnavailable marks a feature as permanently disabled for the
// process lifetime (missing tool, missing privilege). Logged once at
// startup, never retried.
var ErrCapabilityUnavailable = errors.New("capability unavailable")
