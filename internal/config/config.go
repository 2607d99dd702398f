// Package config handles configuration loading, validation, and management for keyseq.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"

	"keyseq/internal/logging"
	"keyseq/internal/sequence"
)

// Version is the current configuration schema version.
const Version = 1

// Source kinds.
const (
	SourceEvdev    = "evdev"
	SourceTerminal = "terminal"
	SourceScript   = "script"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Detector configures sequence detection.
	Detector DetectorConfig `toml:"detector" json:"detector" yaml:"detector"`

	// Source selects where key events come from.
	Source SourceConfig `toml:"source" json:"source" yaml:"source"`

	// Storage configures the detection history.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// DBus configures detection signals on the session bus.
	DBus DBusConfig `toml:"dbus" json:"dbus" yaml:"dbus"`

	// Daemon configures the background process.
	Daemon DaemonConfig `toml:"daemon" json:"daemon" yaml:"daemon"`
}

// DetectorConfig mirrors sequence.Config. A length of 0 means unset.
type DetectorConfig struct {
	Debug            bool   `toml:"debug" json:"debug" yaml:"debug"`
	MaxKeyboardDelay int    `toml:"max_keyboard_delay" json:"max_keyboard_delay" yaml:"max_keyboard_delay"`
	MinLength        int    `toml:"min_length" json:"min_length" yaml:"min_length"`
	ExactLength      int    `toml:"exact_length" json:"exact_length" yaml:"exact_length"`
	AllowedChars     string `toml:"allowed_chars" json:"allowed_chars" yaml:"allowed_chars"`
	IgnoreInputs     bool   `toml:"ignore_inputs" json:"ignore_inputs" yaml:"ignore_inputs"`
}

// SourceConfig selects and configures the key source.
type SourceConfig struct {
	// Kind is "evdev", "terminal" or "script".
	Kind string `toml:"kind" json:"kind" yaml:"kind"`

	// Devices lists event devices for evdev. Empty means discover.
	Devices []string `toml:"devices" json:"devices" yaml:"devices"`

	// NameFilter is a regular expression matched against discovered
	// device names.
	NameFilter string `toml:"name_filter" json:"name_filter" yaml:"name_filter"`

	// Grab takes exclusive access to evdev devices.
	Grab bool `toml:"grab" json:"grab" yaml:"grab"`

	// Script is the key script played by the script source.
	Script string `toml:"script" json:"script" yaml:"script"`

	// Realtime plays the script against the wall clock instead of
	// virtual time.
	Realtime bool `toml:"realtime" json:"realtime" yaml:"realtime"`
}

// StorageConfig holds detection history configuration.
type StorageConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// RetentionDays prunes older detections at startup. 0 keeps everything.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level           string `toml:"level" json:"level" yaml:"level"`
	Format          string `toml:"format" json:"format" yaml:"format"`
	Output          string `toml:"output" json:"output" yaml:"output"`
	FilePath        string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB       int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups      int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	Compress        bool   `toml:"compress" json:"compress" yaml:"compress"`
	RedactSequences bool   `toml:"redact_sequences" json:"redact_sequences" yaml:"redact_sequences"`
}

// MetricsConfig holds Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" json:"listen" yaml:"listen"`
}

// DBusConfig holds session bus configuration.
type DBusConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Name is the well-known bus name requested by the daemon.
	Name string `toml:"name" json:"name" yaml:"name"`
}

// DaemonConfig holds background process configuration.
type DaemonConfig struct {
	// StateDir holds the PID and state files.
	StateDir string `toml:"state_dir" json:"state_dir" yaml:"state_dir"`

	// Print writes each detection to stdout.
	Print bool `toml:"print" json:"print" yaml:"print"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	seq := sequence.DefaultConfig()
	state := StateDir()

	return &Config{
		Version: Version,
		Detector: DetectorConfig{
			Debug:            seq.Debug,
			MaxKeyboardDelay: seq.MaxKeyboardDelay,
			MinLength:        *seq.MinLength,
			AllowedChars:     seq.AllowedChars,
			IgnoreInputs:     seq.IgnoreInputs,
		},
		Source: SourceConfig{
			Kind: SourceEvdev,
		},
		Storage: StorageConfig{
			Enabled:       true,
			Path:          filepath.Join(DataDir(), "history.db"),
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9310",
		},
		DBus: DBusConfig{
			Enabled: false,
			Name:    "org.keyseq.Detector",
		},
		Daemon: DaemonConfig{
			StateDir: state,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if v := os.Getenv("KEYSEQ_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(xdg.ConfigHome, "keyseq", "config.toml")
}

// DataDir returns the directory for the history database.
func DataDir() string {
	if v := os.Getenv("KEYSEQ_DATA_DIR"); v != "" {
		return v
	}
	return filepath.Join(xdg.DataHome, "keyseq")
}

// StateDir returns the directory for PID and state files.
func StateDir() string {
	if v := os.Getenv("KEYSEQ_STATE_DIR"); v != "" {
		return v
	}
	return filepath.Join(xdg.StateHome, "keyseq")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with KEYSEQ_. Values that do not parse
// are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v, ok := envBool("KEYSEQ_DEBUG"); ok {
		c.Detector.Debug = v
	}
	if v, ok := envInt("KEYSEQ_MAX_KEYBOARD_DELAY"); ok {
		c.Detector.MaxKeyboardDelay = v
	}
	if v, ok := envInt("KEYSEQ_MIN_LENGTH"); ok {
		c.Detector.MinLength = v
	}
	if v, ok := envInt("KEYSEQ_EXACT_LENGTH"); ok {
		c.Detector.ExactLength = v
	}
	if v := os.Getenv("KEYSEQ_ALLOWED_CHARS"); v != "" {
		c.Detector.AllowedChars = v
	}

	if v := os.Getenv("KEYSEQ_SOURCE"); v != "" {
		c.Source.Kind = v
	}
	if v := os.Getenv("KEYSEQ_DEVICES"); v != "" {
		c.Source.Devices = splitList(v)
	}
	if v := os.Getenv("KEYSEQ_SCRIPT"); v != "" {
		c.Source.Script = v
	}

	if v := os.Getenv("KEYSEQ_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}

	if v := os.Getenv("KEYSEQ_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KEYSEQ_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	if v := os.Getenv("KEYSEQ_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Source.Devices = append([]string(nil), c.Source.Devices...)
	return &clone
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Daemon.StateDir}
	if c.Storage.Enabled {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// ToSequence converts the detector section to a sequence.Config.
func (d DetectorConfig) ToSequence() sequence.Config {
	cfg := sequence.Config{
		Debug:            d.Debug,
		MaxKeyboardDelay: d.MaxKeyboardDelay,
		AllowedChars:     d.AllowedChars,
		IgnoreInputs:     d.IgnoreInputs,
	}
	if d.MinLength != 0 {
		cfg.MinLength = sequence.Length(d.MinLength)
	}
	if d.ExactLength != 0 {
		cfg.ExactLength = sequence.Length(d.ExactLength)
	}
	return cfg
}

// ToLogging converts the logging section to a logging.Config. Call
// Validate first; unknown levels and formats fall back to info and text.
func (l LoggingConfig) ToLogging(component string) *logging.Config {
	level, _ := logging.ParseLevel(l.Level)
	format, _ := logging.ParseFormat(l.Format)
	return &logging.Config{
		Level:           level,
		Format:          format,
		Output:          l.Output,
		FilePath:        l.FilePath,
		MaxSize:         int64(l.MaxSizeMB),
		MaxBackups:      l.MaxBackups,
		Compress:        l.Compress,
		RedactSequences: l.RedactSequences,
		Component:       component,
	}
}
