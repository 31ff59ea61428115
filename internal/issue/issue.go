// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Guidance pages, one per failure class.
const (
	MetadataNotFoundId Id = iota + 1
	MetadataInvalidId
	DescriptorInvalidId
	HostAPIUnsupportedId
	MatrixInvalidId
	CompileFailedId
	SigningKeyInvalidId
	IntegrityFailedId
	LayoutConflictId
	OutputExistsId
	ChannelConflictId
	ArchiveUntrustedId
	ConfigLoadFailedId
)

type (
	// Id identifies a guidance page.
	Id int

	// MarkdownMsg is guidance text in Markdown.
	MarkdownMsg string

	// Issue is a guidance page shown after a failure.
	Issue struct {
		id    Id
		title string
		mdMsg MarkdownMsg
	}
)

// Id returns the page identifier.
func (i *Issue) Id() Id { return i.id }

// Title returns the heading of the page.
func (i *Issue) Title() string { return i.title }

// MarkdownMsg returns the raw Markdown, heading included.
func (i *Issue) MarkdownMsg() MarkdownMsg {
	return MarkdownMsg("# " + i.title + "\n" + string(i.mdMsg))
}

// Render formats the page for a terminal using the named glamour style
// ("dark", "light", "notty", ...).
func (i *Issue) Render(style string) (string, error) {
	return render(string(i.MarkdownMsg()), style)
}

var (
	render = glamour.Render

	issues = map[Id]*Issue{
		MetadataNotFoundId: {
			id:    MetadataNotFoundId,
			title: "No package metadata found",
			mdMsg: `
simpkg looks for exactly one of **simpkg.toml** or **simpkg.cue** at the root
of the source directory.

## Things you can try
- Pass the source directory explicitly: ` + "`simpkg build path/to/module`" + `
- Create a minimal simpkg.toml:
~~~toml
[package]
name = "my-module"
numeric_id = 4242
version = "1.0.0"
~~~`,
		},
		MetadataInvalidId: {
			id:    MetadataInvalidId,
			title: "Package metadata could not be read",
			mdMsg: `
The metadata file does not match the expected layout. Only the **package**,
**build** and **resources** sections are recognized.

## Things you can try
- Check the line and column reported above
- Remove keys simpkg does not know about`,
		},
		DescriptorInvalidId: {
			id:    DescriptorInvalidId,
			title: "Package descriptor is invalid",
			mdMsg: `
The descriptor is the package identity signed into every archive. It is made
from the metadata file with ` + "`SIMPKG_PACKAGE_*`" + ` environment overrides
applied on top.

## Things you can try
- Check the field named in the error, in the metadata file and in the environment
- Confidentiality must be one of Public, Internal or Restricted
- Versions follow semantic versioning, for example 1.2.3
- With ` + "`--strict`" + `, unknown ` + "`SIMPKG_PACKAGE_*`" + ` variables are rejected`,
		},
		HostAPIUnsupportedId: {
			id:    HostAPIUnsupportedId,
			title: "Host API version is not supported",
			mdMsg: `
Every target host API version is checked against the version matrix before
anything is compiled.

## Things you can try
- List the known versions: ` + "`simpkg matrix list`" + `
- See how a version resolves: ` + "`simpkg matrix resolve 6.0.185`" + `
- Point ` + "`--matrix`" + ` at an updated table`,
		},
		MatrixInvalidId: {
			id:    MatrixInvalidId,
			title: "Version matrix is invalid",
			mdMsg: `
Matrix rows must be listed in ascending version order, mark at most one row as
the minimum supported version, and only remove features that are present.`,
		},
		CompileFailedId: {
			id:    CompileFailedId,
			title: "Module compilation failed",
			mdMsg: `
## Things you can try
- Run the build command by hand and read its output
- Use ` + "`--verbose`" + ` to stream the build output
- Pass an already compiled library with ` + "`--artifact`" + ``,
		},
		SigningKeyInvalidId: {
			id:    SigningKeyInvalidId,
			title: "Signing key is unusable",
			mdMsg: `
simpkg signs with Ed25519 or ECDSA P-256 keys stored as PEM.

## Things you can try
- Generate a key: ` + "`openssl genpkey -algorithm ed25519 -out signing.pem`" + `
- Pass it with ` + "`--key`" + ` or set ` + "`key_file`" + ` in config.cue`,
		},
		IntegrityFailedId: {
			id:    IntegrityFailedId,
			title: "Artifact cannot be signed",
			mdMsg: `
Signing needs a non-empty library and a valid descriptor.`,
		},
		LayoutConflictId: {
			id:    LayoutConflictId,
			title: "Package layout conflict",
			mdMsg: `
Two entries would land on the same archive path, on paths that differ only by
letter case, or a file would shadow a directory.

## Things you can try
- Rename or exclude one of the resources named in the error
- Narrow **resources.include** in the metadata file`,
		},
		OutputExistsId: {
			id:    OutputExistsId,
			title: "Output archive already exists",
			mdMsg: `
## Things you can try
- Remove the existing archive
- Rebuild with ` + "`--on-collision overwrite`" + ``,
		},
		ChannelConflictId: {
			id:    ChannelConflictId,
			title: "Release channel conflict",
			mdMsg: `
The channel index maps each package name to exactly one numeric id and only
moves versions forward.

## Things you can try
- Bump the package version
- Check that the numeric id matches the one already released`,
		},
		ArchiveUntrustedId: {
			id:    ArchiveUntrustedId,
			title: "Archive is untrusted",
			mdMsg: `
The archive failed verification. Its contents do not match its manifest, or
the signature does not cover the descriptor and artifact. Do not install it.`,
		},
		ConfigLoadFailedId: {
			id:    ConfigLoadFailedId,
			title: "Configuration could not be loaded",
			mdMsg: `
## Things you can try
- Check config.cue for syntax errors
- Show the effective configuration: ` + "`simpkg config show`" + ``,
		},
	}
)

// Values returns every guidance page ordered by id.
func Values() []*Issue {
	ids := slices.Sorted(maps.Keys(issues))
	out := make([]*Issue, 0, len(ids))
	for _, id := range ids {
		out = append(out, issues[id])
	}
	return out
}

// Get returns the page for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}

// RenderFor renders the page linked to err when err is an ActionableError
// with an issue set. It returns "" otherwise.
func RenderFor(err *ActionableError, style string) string {
	if err == nil || err.Issue == 0 {
		return ""
	}
	page := Get(err.Issue)
	if page == nil {
		return ""
	}
	out, rerr := page.Render(style)
	if rerr != nil {
		return string(page.MarkdownMsg())
	}
	return strings.TrimRight(out, "\n") + "\n"
}
