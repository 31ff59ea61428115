// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/simpkg/simpkg/pkg/apimatrix"
)

func newMatrixCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Query the host API version matrix",
		Long: `The version matrix lists every registered simulator host API version with the
feature flags a module is compiled with for it. Use --matrix or matrix_file
to replace the built-in table.`,
	}
	cmd.PersistentFlags().String("matrix", "", "version matrix table (CUE) replacing the built-in one")
	cmd.AddCommand(
		newMatrixListCommand(app),
		newMatrixResolveCommand(app),
		newMatrixDiffCommand(app),
	)
	return cmd
}

func newMatrixListCommand(app *App) *cobra.Command {
	var features bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered host API versions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := app.matrixOrReport()
			if err != nil {
				return err
			}
			return listMatrix(cmd.OutOrStdout(), reg, features)
		},
	}
	cmd.Flags().BoolVar(&features, "features", false, "print each version's feature flags")
	return cmd
}

func listMatrix(w io.Writer, reg *apimatrix.Registry, features bool) error {
	for _, e := range reg.Entries() {
		var notes []string
		if e.MinSupported {
			notes = append(notes, "min supported")
		}
		if e.ForwardCompatible {
			notes = append(notes, "forward compatible")
		}
		line := fmt.Sprintf("%-12s %3d features", e.Version, len(e.FeatureFlags))
		if len(notes) > 0 {
			line += "  " + SubtitleStyle.Render("("+strings.Join(notes, ", ")+")")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		if features {
			for _, f := range e.FeatureFlags {
				fmt.Fprintf(w, "    %s\n", f)
			}
		}
	}
	return nil
}

func newMatrixResolveCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve VERSION",
		Short: "Show which registered version a build for VERSION would use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := app.matrixOrReport()
			if err != nil {
				return err
			}
			res, err := reg.Resolve(args[0])
			if err != nil {
				app.report(app.stderr, actionable(err, "resolve host API version", args[0]))
				return &ExitError{Code: exitFailure}
			}
			if res.Warning != "" {
				app.logger.Warn(res.Warning)
			}

			w := cmd.OutOrStdout()
			match := "exact"
			switch {
			case res.Beyond:
				match = "beyond newest"
			case !res.Exact:
				match = "forward compatible"
			}
			fmt.Fprintln(w, field("Requested", res.Requested))
			fmt.Fprintln(w, field("Builds against", ValueStyle.Render(res.Entry.Version)))
			fmt.Fprintln(w, field("Match", match))
			fmt.Fprintln(w, field("Compiler flags", strings.Join(res.Entry.Defines(), " ")))
			return nil
		},
	}
}

func newMatrixDiffCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "diff FROM TO",
		Short: "Show feature flags gained and lost between two registered versions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := app.matrixOrReport()
			if err != nil {
				return err
			}
			diff, err := reg.Diff(args[0], args[1])
			if err != nil {
				app.report(app.stderr, actionable(err, "diff host API versions", args[0]+".."+args[1]))
				return &ExitError{Code: exitFailure}
			}

			w := cmd.OutOrStdout()
			if diff.Empty() {
				fmt.Fprintf(w, "no feature changes between %s and %s\n", diff.From, diff.To)
				return nil
			}
			for _, f := range diff.Added {
				fmt.Fprintln(w, SuccessStyle.Render("+ "+f))
			}
			for _, f := range diff.Removed {
				fmt.Fprintln(w, ErrorStyle.Render("- "+f))
			}
			return nil
		},
	}
}

// matrixOrReport loads the configured matrix and reports load failures.
func (a *App) matrixOrReport() (*apimatrix.Registry, error) {
	reg, err := a.registry()
	if err != nil {
		resource := "built-in table"
		if a.cfg != nil && a.cfg.MatrixFile != "" {
			resource = a.cfg.MatrixFile
		}
		a.report(a.stderr, actionable(err, "load version matrix", resource))
		return nil, &ExitError{Code: exitFailure}
	}
	return reg, nil
}
