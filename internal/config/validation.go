package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"keyseq/internal/sequence"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is matches ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Fields returns the names of the invalid fields.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateDetector(&c.Detector)...)
	errs = append(errs, validateSource(&c.Source)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateDBus(&c.DBus)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// detectorFields maps sequence.Config field names to file keys.
var detectorFields = map[string]string{
	"minLength":        "detector.min_length",
	"exactLength":      "detector.exact_length",
	"maxKeyboardDelay": "detector.max_keyboard_delay",
	"allowedChars":     "detector.allowed_chars",
}

func validateDetector(d *DetectorConfig) ValidationErrors {
	var errs ValidationErrors

	if d.MinLength < 0 {
		errs = append(errs, ValidationError{
			Field:   "detector.min_length",
			Message: "min length cannot be negative",
		})
	}
	if d.ExactLength < 0 {
		errs = append(errs, ValidationError{
			Field:   "detector.exact_length",
			Message: "exact length cannot be negative",
		})
	}

	var cerr *sequence.ConfigurationError
	if err := d.ToSequence().Validate(); errors.As(err, &cerr) {
		field, ok := detectorFields[cerr.Field]
		if !ok {
			field = "detector"
		}
		errs = append(errs, ValidationError{Field: field, Message: cerr.Message})
	}

	return errs
}

func validateSource(s *SourceConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Kind {
	case SourceEvdev, SourceTerminal:
	case SourceScript:
		if s.Script == "" {
			errs = append(errs, ValidationError{
				Field:   "source.script",
				Message: "script path is required when kind is 'script'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "source.kind",
			Message: fmt.Sprintf("invalid source kind: %s (valid: evdev, terminal, script)", s.Kind),
		})
	}

	if s.NameFilter != "" {
		if _, err := regexp.Compile(s.NameFilter); err != nil {
			errs = append(errs, ValidationError{
				Field:   "source.name_filter",
				Message: err.Error(),
			})
		}
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Enabled && s.Path == "" {
		errs = append(errs, RequiredFieldError("storage.path"))
	}
	if s.RetentionDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.retention_days",
			Message: "retention cannot be negative",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr", "discard":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both, discard)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	if !m.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		return ValidationErrors{{
			Field:   "metrics.listen",
			Message: fmt.Sprintf("invalid listen address %q: %v", m.Listen, err),
		}}
	}
	return nil
}

// busName follows the D-Bus well-known name rules: two or more dot
// separated elements that do not start with a digit.
var busName = regexp.MustCompile(`^[A-Za-z_-][A-Za-z0-9_-]*(\.[A-Za-z_-][A-Za-z0-9_-]*)+$`)

func validateDBus(d *DBusConfig) ValidationErrors {
	if !d.Enabled {
		return nil
	}
	if !busName.MatchString(d.Name) || len(d.Name) > 255 {
		return ValidationErrors{{
			Field:   "dbus.name",
			Message: fmt.Sprintf("invalid bus name: %q", d.Name),
		}}
	}
	return nil
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) ValidationError {
	return ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}
