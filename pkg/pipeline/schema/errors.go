package schema

import (
	"errors"
	"strings"
)

// ErrConfiguration matches every *ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("invalid schema configuration")

// ConfigurationError reports an unusable schema selection. It is raised before any
// model call is made.
type ConfigurationError struct {
	// Field is the offending custom field name, if any.
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return ErrConfiguration.Error()
	}
	msg := ErrConfiguration.Error() + ": " + strings.TrimSpace(e.Reason)
	if e.Field != "" {
		msg += " (field " + e.Field + ")"
	}
	return msg
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
