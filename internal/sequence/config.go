package sequence

import (
	"fmt"
	"regexp"
	"time"
)

// Delay bounds for MaxKeyboardDelay, in milliseconds.
const (
	MinKeyboardDelay = 10
	MaxKeyboardDelay = 2000
)

// Config holds detector settings. It is copied at construction and never
// changed afterwards.
type Config struct {
	// Debug writes a trace record for every buffer mutation and completion.
	Debug bool

	// MaxKeyboardDelay is the largest gap in milliseconds between two
	// accepted keystrokes of the same sequence. Must be in [10, 2000].
	MaxKeyboardDelay int

	// MinLength accepts sequences at least this long. Nil disables it.
	MinLength *int

	// ExactLength accepts sequences of exactly this length. Nil disables it.
	ExactLength *int

	// AllowedChars is a regular expression each character must match.
	// The match is unanchored.
	AllowedChars string

	// IgnoreInputs discards the buffer whenever a key arrives on a text
	// input target (input or textarea).
	IgnoreInputs bool

	// Extra keeps unrecognized keys passed to FromMap. They have no effect.
	Extra map[string]any
}

// Length returns a pointer to n, for MinLength and ExactLength.
func Length(n int) *int {
	return &n
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Debug:            false,
		MaxKeyboardDelay: 75,
		MinLength:        Length(5),
		ExactLength:      nil,
		AllowedChars:     "[a-zA-Z0-9]",
		IgnoreInputs:     true,
	}
}

// Delay returns MaxKeyboardDelay as a duration.
func (c Config) Delay() time.Duration {
	return time.Duration(c.MaxKeyboardDelay) * time.Millisecond
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	_, err := c.compile()
	return err
}

func (c Config) compile() (*regexp.Regexp, error) {
	if c.MinLength == nil && c.ExactLength == nil {
		return nil, &ConfigurationError{
			Field:   "minLength",
			Message: `you need to specify "exactLength" or "minLength"`,
		}
	}
	if c.MaxKeyboardDelay < MinKeyboardDelay || c.MaxKeyboardDelay > MaxKeyboardDelay {
		return nil, &ConfigurationError{
			Field:   "maxKeyboardDelay",
			Message: fmt.Sprintf("need to be between %d and %d, got %d", MinKeyboardDelay, MaxKeyboardDelay, c.MaxKeyboardDelay),
		}
	}
	re, err := regexp.Compile(c.AllowedChars)
	if err != nil {
		return nil, &ConfigurationError{
			Field:   "allowedChars",
			Message: err.Error(),
		}
	}
	return re, nil
}

// clone returns a deep copy so callers cannot mutate a detector's settings.
func (c Config) clone() Config {
	out := c
	if c.MinLength != nil {
		out.MinLength = Length(*c.MinLength)
	}
	if c.ExactLength != nil {
		out.ExactLength = Length(*c.ExactLength)
	}
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// FromMap merges a plain key/value object over DefaultConfig. Recognized
// keys are debug, maxKeyboardDelay, minLength, exactLength, allowedChars and
// ignoreInputs; a nil length disables that constraint. Other keys are kept
// in Extra. The result is not validated.
func FromMap(m map[string]any) (Config, error) {
	cfg := DefaultConfig()
	for key, value := range m {
		switch key {
		case "debug":
			b, ok := value.(bool)
			if !ok {
				return cfg, typeError(key, "bool", value)
			}
			cfg.Debug = b
		case "ignoreInputs":
			b, ok := value.(bool)
			if !ok {
				return cfg, typeError(key, "bool", value)
			}
			cfg.IgnoreInputs = b
		case "allowedChars":
			s, ok := value.(string)
			if !ok {
				return cfg, typeError(key, "string", value)
			}
			cfg.AllowedChars = s
		case "maxKeyboardDelay":
			n, ok := asInt(value)
			if !ok {
				return cfg, typeError(key, "integer", value)
			}
			cfg.MaxKeyboardDelay = n
		case "minLength", "exactLength":
			var length *int
			if value != nil {
				n, ok := asInt(value)
				if !ok {
					return cfg, typeError(key, "integer or null", value)
				}
				length = Length(n)
			}
			if key == "minLength" {
				cfg.MinLength = length
			} else {
				cfg.ExactLength = length
			}
		default:
			if cfg.Extra == nil {
				cfg.Extra = make(map[string]any)
			}
			cfg.Extra[key] = value
		}
	}
	return cfg, nil
}

func typeError(key, want string, got any) error {
	return &ConfigurationError{
		Field:   key,
		Message: fmt.Sprintf("expected %s, got %T", want, got),
	}
}

// asInt accepts the integer shapes produced by JSON, YAML and TOML decoders.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case float32:
		if n != float32(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
