// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/simpkg/simpkg/internal/issue"
	"github.com/simpkg/simpkg/internal/pipeline"
	"github.com/simpkg/simpkg/internal/source"
	"github.com/simpkg/simpkg/pkg/apimatrix"
	"github.com/simpkg/simpkg/pkg/archive"
	"github.com/simpkg/simpkg/pkg/channel"
	"github.com/simpkg/simpkg/pkg/cueutil"
	"github.com/simpkg/simpkg/pkg/descriptor"
	"github.com/simpkg/simpkg/pkg/signing"
	"github.com/simpkg/simpkg/pkg/toolchain"
)

// formatErrorForDisplay uses the ActionableError format when one is in the
// chain and the plain message otherwise.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// classify picks the guidance page for an error chain.
func classify(err error) issue.Id {
	var ve *descriptor.ValidationError
	switch {
	case errors.Is(err, source.ErrNoMetadata):
		return issue.MetadataNotFoundId
	case errors.As(err, &ve):
		return issue.DescriptorInvalidId
	case errors.Is(err, apimatrix.ErrUnsupportedVersion):
		return issue.HostAPIUnsupportedId
	case errors.Is(err, apimatrix.ErrInvalidTable):
		return issue.MatrixInvalidId
	case errors.Is(err, toolchain.ErrCompile):
		return issue.CompileFailedId
	case errors.Is(err, signing.ErrKey):
		return issue.SigningKeyInvalidId
	case errors.Is(err, archive.ErrUntrusted):
		return issue.ArchiveUntrustedId
	case errors.Is(err, signing.ErrIntegrity):
		return issue.IntegrityFailedId
	case errors.Is(err, archive.ErrLayoutConflict), errors.Is(err, archive.ErrInvalidPath):
		return issue.LayoutConflictId
	case errors.Is(err, archive.ErrCollision):
		return issue.OutputExistsId
	case errors.Is(err, channel.ErrConflict):
		return issue.ChannelConflictId
	case errors.Is(err, cueutil.ErrInvalidDocument):
		return issue.MetadataInvalidId
	default:
		return 0
	}
}

// suggestionsFor returns short hints for well-known failures.
func suggestionsFor(err error) []string {
	var ve *descriptor.ValidationError
	if errors.As(err, &ve) && strings.HasPrefix(ve.Field, descriptor.OverridePrefix) {
		if matches := issue.DidYouMean(ve.Field, descriptor.OverrideKeys()); len(matches) > 0 {
			return []string{fmt.Sprintf("Did you mean %s?", strings.Join(matches, " or "))}
		}
		return []string{"Unset it, or build without --strict"}
	}
	var ue *apimatrix.UnsupportedVersionError
	if errors.As(err, &ue) {
		return []string{"Run 'simpkg matrix list' to see registered host API versions"}
	}
	var ce *archive.CollisionError
	if errors.As(err, &ce) {
		return []string{"Remove the existing archive or pass --on-collision overwrite"}
	}
	var ke *signing.KeyError
	if errors.As(err, &ke) {
		return []string{"Pass an Ed25519 or ECDSA P-256 private key in PEM form with --key"}
	}
	return nil
}

// actionable wraps err with operation context, a guidance page and hints.
func actionable(err error, operation, resource string) *issue.ActionableError {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae
	}
	return issue.NewErrorContext().
		WithOperation(operation).
		WithResource(resource).
		WithSuggestions(suggestionsFor(err)...).
		WithIssue(classify(err)).
		Wrap(err).
		Build()
}

// report prints err to w, followed by its guidance page in verbose mode.
func (a *App) report(w io.Writer, ae *issue.ActionableError) {
	fmt.Fprintln(w, ErrorStyle.Render("✗ ")+ae.Format(a.verbose()))
	if a.verbose() {
		if guidance := issue.RenderFor(ae, a.glamourStyle()); guidance != "" {
			fmt.Fprint(w, guidance)
		}
	}
}

// reportBuildErrors prints one diagnostic per failed build in err.
func (a *App) reportBuildErrors(w io.Writer, err error) {
	var failures []*pipeline.BuildError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			var be *pipeline.BuildError
			if errors.As(e, &be) {
				failures = append(failures, be)
			}
		}
	}
	if len(failures) == 0 {
		a.report(w, actionable(err, "build package", ""))
		return
	}
	for _, be := range failures {
		resource := fmt.Sprintf("host API %s, stage %s", be.HostAPIVersion, be.Stage)
		a.report(w, actionable(be.Cause, "build package", resource))
	}
}
