// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/simpkg/simpkg/internal/issue"
	"github.com/simpkg/simpkg/pkg/cueutil"
)

const (
	// AppName names the configuration directory.
	AppName = "simpkg"
	// ConfigFileName is the config file name without extension.
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment variables that override settings,
	// for example SIMPKG_OUTPUT_DIR.
	EnvPrefix = "SIMPKG"
)

//go:embed config_schema.cue
var configSchema string

// Keys is every setting in dotted Viper form.
var Keys = []string{
	"output_dir",
	"key_file",
	"on_collision",
	"strict",
	"matrix_file",
	"channel_index",
	"jobs",
	"log_level",
	"verbose",
	"ui.color_scheme",
}

// ConfigDir returns the per-user configuration directory: %APPDATA%\simpkg on
// Windows, ~/Library/Application Support/simpkg on macOS and
// $XDG_CONFIG_HOME/simpkg elsewhere.
//
//nolint:revive // ConfigDir reads better than Dir at call sites
func ConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath, err := locateConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Compare the values against 'simpkg config show'").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	if opts.Flags != nil {
		for key, name := range opts.FlagKeys {
			f := opts.Flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, "", fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if ok, errs := cfg.IsValid(); !ok {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check SIMPKG_* environment variables as well as the config file").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(errors.Join(errs...)).
			BuildError()
	}
	return &cfg, resolvedPath, nil
}

// locateConfigFile returns the file to load, or "" when only defaults apply.
// An explicit path must exist; otherwise the configuration directory is
// searched first, then the working directory.
func locateConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	name := ConfigFileName + "." + ConfigFileExt
	dir := opts.ConfigDirPath
	if dir == "" {
		d, err := ConfigDir()
		if err != nil {
			return "", err
		}
		dir = d
	}
	if p := filepath.Join(dir, name); fileExists(p) {
		return p, nil
	}
	if p := filepath.Join(opts.WorkDir, name); fileExists(p) {
		return p, nil
	}
	return "", nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("key_file", d.KeyFile)
	v.SetDefault("on_collision", string(d.OnCollision))
	v.SetDefault("strict", d.Strict)
	v.SetDefault("matrix_file", d.MatrixFile)
	v.SetDefault("channel_index", d.ChannelIndex)
	v.SetDefault("jobs", d.Jobs)
	v.SetDefault("log_level", string(d.LogLevel))
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("ui.color_scheme", string(d.UI.ColorScheme))
}

// loadCUEIntoViper validates path against #Config and merges it into v.
// The document is decoded into a map rather than a struct so that fields
// left out keep their Viper defaults.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}
	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return cueutil.FormatError(userValue.Err(), path)
	}

	unified := schemaValue.LookupPath(cue.ParsePath("#Config")).Unify(userValue)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GenerateCUE renders cfg in config.cue syntax.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	sb.WriteString("// simpkg configuration\n\n")
	fmt.Fprintf(&sb, "output_dir:   %q\n", cfg.OutputDir)
	if cfg.KeyFile != "" {
		fmt.Fprintf(&sb, "key_file:     %q\n", cfg.KeyFile)
	}
	fmt.Fprintf(&sb, "on_collision: %q\n", cfg.OnCollision)
	fmt.Fprintf(&sb, "strict:       %v\n", cfg.Strict)
	if cfg.MatrixFile != "" {
		fmt.Fprintf(&sb, "matrix_file:  %q\n", cfg.MatrixFile)
	}
	if cfg.ChannelIndex != "" {
		fmt.Fprintf(&sb, "channel_index: %q\n", cfg.ChannelIndex)
	}
	fmt.Fprintf(&sb, "jobs:         %d\n", cfg.Jobs)
	fmt.Fprintf(&sb, "log_level:    %q\n", cfg.LogLevel)
	fmt.Fprintf(&sb, "verbose:      %v\n", cfg.Verbose)
	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	sb.WriteString("}\n")
	return sb.String()
}
