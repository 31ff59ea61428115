// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/simpkg/simpkg/pkg/archive"
	"github.com/simpkg/simpkg/pkg/signing"
)

const descriptionWidth = 72

type (
	// inspectView is the YAML rendering of a package. Field names follow
	// the manifest JSON.
	inspectView struct {
		Name             string         `yaml:"name"`
		NumericID        int64          `yaml:"numeric_id"`
		Version          string         `yaml:"version"`
		BuildID          string         `yaml:"build_id"`
		BuildIDNamespace string         `yaml:"build_id_namespace"`
		Confidentiality  string         `yaml:"confidentiality"`
		HostTriple       string         `yaml:"host_triple"`
		DocTitle         string         `yaml:"doc_title"`
		Description      string         `yaml:"description,omitempty"`
		HostAPI          inspectHostAPI `yaml:"host_api"`
		Artifact         string         `yaml:"artifact"`
		Resources        []string       `yaml:"resources,omitempty"`
		Signature        inspectSig     `yaml:"signature"`
	}

	inspectHostAPI struct {
		Version   string   `yaml:"version"`
		Requested string   `yaml:"requested,omitempty"`
		Features  []string `yaml:"features"`
	}

	inspectSig struct {
		Algorithm string `yaml:"algorithm"`
		Digest    string `yaml:"digest"`
		Signer    string `yaml:"signer"`
	}
)

func newInspectCommand(app *App) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "inspect ARCHIVE",
		Short: "Show the descriptor, host API and contents of an archive",
		Long: `Inspect prints what an archive declares. Entry checksums are checked while
reading; signatures are not (use verify for that).

Formats: text (default), json (the manifest as stored), yaml.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runInspect(cmd.OutOrStdout(), args[0], format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	return cmd
}

func (a *App) runInspect(stdout io.Writer, path, format string) error {
	switch format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}

	pkg, err := archive.ReadFile(path)
	if err != nil {
		a.report(a.stderr, actionable(err, "read archive", path))
		return &ExitError{Code: exitUntrusted}
	}

	switch format {
	case "json":
		_, err = stdout.Write(pkg.Manifest)
		return err
	case "yaml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(viewOf(pkg)); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err = io.WriteString(stdout, renderInspect(pkg))
		return err
	}
}

func viewOf(pkg *archive.PackageArchive) inspectView {
	d := pkg.Descriptor
	v := inspectView{
		Name:             d.Name,
		NumericID:        d.NumericID,
		Version:          d.Version,
		BuildID:          d.BuildID,
		BuildIDNamespace: d.BuildIDNamespace,
		Confidentiality:  d.Confidentiality.String(),
		HostTriple:       d.HostTriple,
		DocTitle:         d.DocTitle,
		Description:      d.Description,
		HostAPI: inspectHostAPI{
			Version:   pkg.HostAPI.Version,
			Requested: pkg.HostAPI.Requested,
			Features:  pkg.HostAPI.Features,
		},
		Artifact: pkg.ArtifactPath(),
		Signature: inspectSig{
			Algorithm: pkg.Signature.Algorithm.String(),
			Digest:    pkg.Signature.Digest.String(),
			Signer:    signing.Fingerprint(pkg.Signature.SignerIdentity),
		},
	}
	for _, r := range pkg.Resources {
		v.Resources = append(v.Resources, r.Path)
	}
	return v
}

func renderInspect(pkg *archive.PackageArchive) string {
	v := viewOf(pkg)
	var b strings.Builder

	b.WriteString(TitleStyle.Render(v.DocTitle) + "\n")
	if v.Description != "" {
		b.WriteString(SubtitleStyle.Render(wordwrap.String(v.Description, descriptionWidth)) + "\n")
	}
	b.WriteString("\n")

	hostAPI := v.HostAPI.Version
	if v.HostAPI.Requested != "" {
		hostAPI += fmt.Sprintf(" (requested %s)", v.HostAPI.Requested)
	}
	lines := []string{
		field("Name", v.Name),
		field("Numeric ID", fmt.Sprint(v.NumericID)),
		field("Version", ValueStyle.Render(v.Version)),
		field("Build", v.BuildIDNamespace+":"+v.BuildID),
		field("Confidentiality", v.Confidentiality),
		field("Host triple", v.HostTriple),
		field("Host API", ValueStyle.Render(hostAPI)),
		field("Features", strings.Join(v.HostAPI.Features, ", ")),
		field("Artifact", v.Artifact),
		field("Signature", v.Signature.Algorithm+" "+v.Signature.Signer),
	}
	for _, l := range lines {
		b.WriteString(l + "\n")
	}

	if len(v.Resources) > 0 {
		b.WriteString("\n" + SubtitleStyle.Render("Resources:") + "\n")
		for _, r := range v.Resources {
			b.WriteString("  " + r + "\n")
		}
	}
	return b.String()
}
