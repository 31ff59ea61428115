// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/simpkg/simpkg/internal/config"
	"github.com/simpkg/simpkg/pkg/apimatrix"
)

// flagKeys maps configuration keys to the command-line flags that override
// them. Commands that do not define a flag simply do not take part.
var flagKeys = map[string]string{
	"output_dir":    "out",
	"key_file":      "key",
	"on_collision":  "on-collision",
	"strict":        "strict",
	"matrix_file":   "matrix",
	"channel_index": "channel-index",
	"jobs":          "jobs",
	"verbose":       "verbose",
}

type (
	// App is the composition root of the CLI. Every command handler receives
	// it and reads configuration, logger and output streams from it.
	App struct {
		Config  config.Provider
		Environ []string
		stdout  io.Writer
		stderr  io.Writer

		cfgFile string
		cfg     *config.Config
		cfgPath string
		logger  *log.Logger
	}

	// Dependencies are the injection points of NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config  config.Provider
		Environ []string
		Stdout  io.Writer
		Stderr  io.Writer
	}
)

// NewApp creates an App.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:  deps.Config,
		Environ: deps.Environ,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.Environ == nil {
		app.Environ = os.Environ()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// loadConfig resolves configuration for cmd, binding the flags it defines.
func (a *App) loadConfig(ctx context.Context, cmd *cobra.Command) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, path, err := a.Config.LoadWithSource(ctx, config.LoadOptions{
		ConfigFilePath: a.cfgFile,
		WorkDir:        wd,
		Flags:          cmd.Flags(),
		FlagKeys:       flagKeys,
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.cfgPath = path

	level, err := log.ParseLevel(string(cfg.LogLevel))
	if err != nil {
		level = log.InfoLevel
	}
	if cfg.Verbose {
		level = log.DebugLevel
	}
	a.logger = log.NewWithOptions(a.stderr, log.Options{
		Level:           level,
		ReportTimestamp: false,
		Prefix:          "simpkg",
	})
	return nil
}

// verbose reports whether verbose output was requested by flag or config.
func (a *App) verbose() bool {
	return a.cfg != nil && a.cfg.Verbose
}

// glamourStyle returns the guidance rendering style for the configured
// color scheme.
func (a *App) glamourStyle() string {
	if a.cfg == nil {
		return "auto"
	}
	return string(a.cfg.UI.ColorScheme)
}

// registry returns the configured version matrix.
func (a *App) registry() (*apimatrix.Registry, error) {
	if a.cfg == nil || a.cfg.MatrixFile == "" {
		return apimatrix.Default()
	}
	table, err := apimatrix.LoadTable(a.cfg.MatrixFile)
	if err != nil {
		return nil, err
	}
	return apimatrix.New(table)
}
