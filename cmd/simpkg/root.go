// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "simpkg",
		Short: "Build, sign and package simulator extension modules",
		Long: TitleStyle.Render("simpkg") + SubtitleStyle.Render(" - simulator module packager") + `

simpkg resolves a module's package descriptor, checks each target host API
version against the version matrix, compiles the module, signs the artifact
and writes one archive per host API version.

` + SubtitleStyle.Render("Examples:") + `
  simpkg build --target 6.0.185 --key signing.pem
  simpkg build ./my-module --target 6.0.185 --target 7.38.0
  simpkg verify dist/demo-1.0.0-api6.0.185-x86_64-unknown-linux-gnu.spkg
  simpkg matrix resolve 6.0.190`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.loadConfig(cmd.Context(), cmd)
		},
	}

	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.cfgFile, "config", "", "config file (default is <config dir>/simpkg/config.cue)")

	root.AddCommand(
		newBuildCommand(app),
		newVerifyCommand(app),
		newInspectCommand(app),
		newMatrixCommand(app),
		newConfigCommand(app),
	)
	return root
}

func versionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// Execute runs the CLI and exits the process.
func Execute() {
	os.Exit(Run(context.Background(), NewApp(Dependencies{})))
}

// Run runs the CLI against os.Args and returns the exit code.
func Run(ctx context.Context, app *App) int {
	err := fang.Execute(ctx, NewRootCommand(app),
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			var exitErr *ExitError
			if errors.As(err, &exitErr) && exitErr.Err == nil {
				return
			}
			fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, app.verbose()))
		}),
	)
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return exitFailure
}
