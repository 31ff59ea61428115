// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// LogLevelDebug enables per-stage debug output.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn shows warnings and errors only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError shows errors only.
	LogLevelError LogLevel = "error"

	// CollisionFail refuses to replace an existing archive.
	CollisionFail CollisionMode = "fail"
	// CollisionOverwrite atomically replaces an existing archive.
	CollisionOverwrite CollisionMode = "overwrite"

	// ColorSchemeAuto detects the terminal background.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces the dark palette.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces the light palette.
	ColorSchemeLight ColorScheme = "light"

	maxJobs = 256
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidCollisionMode is returned when a CollisionMode value is not recognized.
	ErrInvalidCollisionMode = errors.New("invalid collision mode")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level written by the CLI logger.
	LogLevel string

	// CollisionMode decides what happens when the output archive exists.
	CollisionMode string

	// ColorScheme selects the palette of styled terminal output.
	ColorScheme string

	// InvalidValueError reports an unrecognized enumeration value.
	InvalidValueError struct {
		Kind  error
		Value string
	}

	// InvalidConfigError collects every field error of a Config.
	// It wraps ErrInvalidConfig and each field error.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// UIConfig holds terminal presentation settings.
	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
	}

	// Config is the effective simpkg configuration.
	Config struct {
		OutputDir    string        `json:"output_dir" mapstructure:"output_dir"`
		KeyFile      string        `json:"key_file" mapstructure:"key_file"`
		OnCollision  CollisionMode `json:"on_collision" mapstructure:"on_collision"`
		Strict       bool          `json:"strict" mapstructure:"strict"`
		MatrixFile   string        `json:"matrix_file" mapstructure:"matrix_file"`
		ChannelIndex string        `json:"channel_index" mapstructure:"channel_index"`
		Jobs         int           `json:"jobs" mapstructure:"jobs"`
		LogLevel     LogLevel      `json:"log_level" mapstructure:"log_level"`
		Verbose      bool          `json:"verbose" mapstructure:"verbose"`
		UI           UIConfig      `json:"ui" mapstructure:"ui"`
	}
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:   "dist",
		OnCollision: CollisionFail,
		LogLevel:    LogLevelInfo,
		UI:          UIConfig{ColorScheme: ColorSchemeAuto},
	}
}

// IsValid reports whether the level is recognized.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidValueError{Kind: ErrInvalidLogLevel, Value: string(l)}}
	}
}

// IsValid reports whether the mode is recognized.
func (m CollisionMode) IsValid() (bool, []error) {
	switch m {
	case CollisionFail, CollisionOverwrite:
		return true, nil
	default:
		return false, []error{&InvalidValueError{Kind: ErrInvalidCollisionMode, Value: string(m)}}
	}
}

// IsValid reports whether the scheme is recognized.
func (c ColorScheme) IsValid() (bool, []error) {
	switch c {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidValueError{Kind: ErrInvalidColorScheme, Value: string(c)}}
	}
}

// IsValid checks every field and returns all errors found.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("output_dir must not be empty"))
	}
	if c.Jobs < 0 || c.Jobs > maxJobs {
		errs = append(errs, fmt.Errorf("jobs must be between 0 and %d, got %d", maxJobs, c.Jobs))
	}
	if ok, fieldErrs := c.OnCollision.IsValid(); !ok {
		errs = append(errs, fieldErrs...)
	}
	if ok, fieldErrs := c.LogLevel.IsValid(); !ok {
		errs = append(errs, fieldErrs...)
	}
	if ok, fieldErrs := c.UI.ColorScheme.IsValid(); !ok {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%v: %q", e.Kind, e.Value)
}

// Unwrap returns the kind sentinel.
func (e *InvalidValueError) Unwrap() error { return e.Kind }

func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%v: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig followed by the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
