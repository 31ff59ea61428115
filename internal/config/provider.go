// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"

	"github.com/spf13/pflag"
)

type (
	// LoadOptions defines explicit configuration loading inputs.
	LoadOptions struct {
		// ConfigFilePath forces a specific config file.
		ConfigFilePath string
		// ConfigDirPath replaces ConfigDir when set.
		ConfigDirPath string
		// WorkDir is searched for config.cue after the configuration
		// directory. Empty means the process working directory.
		WorkDir string
		// Flags and FlagKeys bind command-line flags to settings. Only flags
		// the user actually set take part.
		Flags    *pflag.FlagSet
		FlagKeys map[string]string
	}

	// Provider loads configuration from explicit options.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
		// LoadWithSource is Load plus the path of the file that was read,
		// or "" when only defaults and environment applied.
		LoadWithSource(ctx context.Context, opts LoadOptions) (*Config, string, error)
	}

	fileProvider struct{}
)

// NewProvider creates a configuration provider backed by config.cue files.
func NewProvider() Provider {
	return &fileProvider{}
}

// Load implements Provider.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, _, err := loadWithOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithSource implements Provider.
func (p *fileProvider) LoadWithSource(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	return loadWithOptions(ctx, opts)
}
