package sequence

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is matched by every ConfigurationError.
var ErrInvalidConfig = errors.New("invalid detector configuration")

// ErrClosed is returned when attaching a detector that has been closed.
var ErrClosed = errors.New("detector closed")

// ConfigurationError reports a detector configuration that cannot be used.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "sequence: " + e.Message
	}
	return fmt.Sprintf("sequence: %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrInvalidConfig.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfig
}
