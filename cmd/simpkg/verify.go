// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/simpkg/simpkg/pkg/archive"
	"github.com/simpkg/simpkg/pkg/signing"
)

func newVerifyCommand(app *App) *cobra.Command {
	var pubkey string
	cmd := &cobra.Command{
		Use:   "verify ARCHIVE...",
		Short: "Check archive integrity and signatures the way an installer does",
		Long: `Verify reads each archive, checks every entry against the manifest
checksums and verifies the signature over the artifact and descriptor.

With --pubkey the signer must also be the given public key; without it the
identity embedded in the archive is trusted and its fingerprint printed.
Exits with status 2 when any archive is untrusted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runVerify(cmd.OutOrStdout(), args, pubkey)
		},
	}
	cmd.Flags().StringVar(&pubkey, "pubkey", "", "PEM public key the archives must be signed with")
	return cmd
}

func (a *App) runVerify(stdout io.Writer, archives []string, pubkey string) error {
	var identity []byte
	if pubkey != "" {
		data, err := os.ReadFile(pubkey)
		if err != nil {
			a.report(a.stderr, actionable(&signing.KeyError{Source: pubkey, Reason: "cannot read public key", Err: err}, "load public key", pubkey))
			return &ExitError{Code: exitFailure}
		}
		identity, err = signing.ParseIdentityPEM(data)
		if err != nil {
			a.report(a.stderr, actionable(err, "load public key", pubkey))
			return &ExitError{Code: exitFailure}
		}
	}

	code := 0
	for _, path := range archives {
		pkg, err := archive.VerifyFile(path, identity)
		if err != nil {
			a.report(a.stderr, actionable(err, "verify archive", path))
			switch {
			case errors.Is(err, archive.ErrUntrusted):
				code = exitUntrusted
			case code == 0:
				code = exitFailure
			}
			continue
		}
		d := pkg.Descriptor
		fmt.Fprintf(stdout, "%s %s  %s %s  signer %s\n",
			SuccessStyle.Render("✓"), path,
			d.Name, ValueStyle.Render(d.Version),
			signing.Fingerprint(pkg.Signature.SignerIdentity))
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
