// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/simpkg/simpkg/pkg/descriptor"
	"github.com/simpkg/simpkg/pkg/signing"
)

type (
	// Resource is an auxiliary file shipped with the module. Path is relative
	// to the resources directory of the archive.
	Resource struct {
		Path string
		Data []byte
	}

	// Input collects everything Assemble needs.
	Input struct {
		Descriptor   *descriptor.Descriptor
		HostAPI      HostAPI
		ArtifactName string
		Artifact     []byte
		Signature    *signing.Block
		Resources    []Resource
	}

	// PackageArchive is an assembled package. It owns copies of every input
	// and must not be modified after Assemble returns it.
	PackageArchive struct {
		Descriptor   *descriptor.Descriptor
		HostAPI      HostAPI
		ArtifactName string
		Artifact     []byte
		Signature    *signing.Block
		Resources    []Resource
		// Manifest is the encoded manifest exactly as it is written to disk.
		Manifest []byte
	}
)

// Assemble lays out a package and encodes its manifest. Identical inputs
// always produce identical manifest bytes.
func Assemble(in Input) (*PackageArchive, error) {
	if in.Descriptor == nil {
		return nil, &descriptor.ValidationError{Field: descriptor.FieldName, Reason: "descriptor is missing"}
	}
	if err := in.Descriptor.Validate(); err != nil {
		return nil, err
	}
	if len(in.Artifact) == 0 {
		return nil, &signing.IntegrityError{Reason: "artifact is empty"}
	}
	if in.Signature == nil {
		return nil, &signing.IntegrityError{Reason: "package must be signed"}
	}
	if got := signing.Digest(in.Artifact, in.Descriptor); got != in.Signature.Digest {
		return nil, &signing.IntegrityError{Reason: "signature was made over a different artifact or descriptor"}
	}
	if strings.TrimSpace(in.HostAPI.Version) == "" {
		return nil, fmt.Errorf("assemble: host API version is empty")
	}
	if err := ValidatePath(in.ArtifactName); err != nil {
		return nil, err
	}
	if strings.Contains(in.ArtifactName, "/") {
		return nil, &InvalidPathError{Path: in.ArtifactName, Reason: "artifact name must be a single file name"}
	}

	l := newLayout()
	for _, p := range []string{ManifestPath, ArtifactPath(in.Descriptor.HostTriple, in.ArtifactName)} {
		if err := l.add(p); err != nil {
			return nil, err
		}
	}

	d := *in.Descriptor
	block := cloneBlock(in.Signature)
	pkg := &PackageArchive{
		Descriptor: &d,
		HostAPI: HostAPI{
			Version:   in.HostAPI.Version,
			Requested: in.HostAPI.Requested,
			Features:  slices.Clone(in.HostAPI.Features),
		},
		ArtifactName: in.ArtifactName,
		Artifact:     slices.Clone(in.Artifact),
		Signature:    block,
		Resources:    make([]Resource, 0, len(in.Resources)),
	}
	if pkg.HostAPI.Features == nil {
		pkg.HostAPI.Features = []string{}
	}

	artifactPath := ArtifactPath(d.HostTriple, in.ArtifactName)
	m := Manifest{
		FormatVersion: FormatVersion,
		Descriptor:    d,
		HostAPI:       pkg.HostAPI,
		Artifact:      artifactPath,
		Resources:     []ManifestEntry{entryFor(artifactPath, pkg.Artifact)},
		Signature:     *block,
	}

	for _, r := range in.Resources {
		if err := ValidatePath(r.Path); err != nil {
			return nil, err
		}
		archivePath := ResourcePath(r.Path)
		if err := l.add(archivePath); err != nil {
			var lc *LayoutConflictError
			if errors.As(err, &lc) {
				lc.Path = r.Path
				lc.Other = strings.TrimPrefix(lc.Other, ResourceDir+"/")
			}
			return nil, err
		}
		data := slices.Clone(r.Data)
		pkg.Resources = append(pkg.Resources, Resource{Path: r.Path, Data: data})
		m.Resources = append(m.Resources, entryFor(archivePath, data))
	}

	manifest, err := m.Encode()
	if err != nil {
		return nil, err
	}
	pkg.Manifest = manifest
	return pkg, nil
}

// ParsedManifest decodes the package's manifest.
func (p *PackageArchive) ParsedManifest() (*Manifest, error) {
	return ParseManifest(p.Manifest)
}

// ArtifactPath returns where the artifact is stored inside the archive.
func (p *PackageArchive) ArtifactPath() string {
	return ArtifactPath(p.Descriptor.HostTriple, p.ArtifactName)
}

// OutputName returns the deterministic file name for a package built for a
// host API version: <name>-<version>-api<host api>-<host triple>.spkg.
func OutputName(d *descriptor.Descriptor, hostAPIVersion string) string {
	return fmt.Sprintf("%s-%s-api%s-%s%s", d.Name, d.Version, hostAPIVersion, d.HostTriple, Extension)
}

// Extension is the file extension of package archives.
const Extension = ".spkg"

func entryFor(p string, data []byte) ManifestEntry {
	return ManifestEntry{Path: p, Size: int64(len(data)), SHA256: sha256.Sum256(data)}
}

func cloneBlock(b *signing.Block) *signing.Block {
	c := *b
	c.Signature = slices.Clone(b.Signature)
	c.SignerIdentity = slices.Clone(b.SignerIdentity)
	return &c
}
