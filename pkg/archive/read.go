// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/errs"

	"github.com/simpkg/simpkg/pkg/signing"
)

const (
	// maxEntryBytes bounds a single decompressed entry.
	maxEntryBytes = 512 << 20
	// maxManifestBytes bounds the manifest entry.
	maxManifestBytes = 4 << 20
)

// ReadFile loads an archive written by Write. Entry names are checked for
// path escapes and every file is checked against the size and SHA-256
// recorded in the manifest. Signatures are not checked; use Verify.
func ReadFile(archivePath string) (_ *PackageArchive, err error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer func() { err = errs.Combine(err, f.Close()) }()

	pkg, err := Read(f)
	if err != nil {
		var ue *UntrustedError
		if errors.As(err, &ue) && ue.Archive == "" {
			ue.Archive = archivePath
		}
		return nil, err
	}
	return pkg, nil
}

// Read loads an archive from r. See ReadFile.
func Read(r io.Reader) (*PackageArchive, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, &UntrustedError{Reason: "not a gzip stream", Err: err}
	}
	defer func() { _ = gz.Close() }() // read-only

	files := make(map[string][]byte)
	var order []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &UntrustedError{Reason: "corrupt tar stream", Err: err}
		}
		if hdr.Typeflag != tar.TypeReg {
			return nil, &UntrustedError{Reason: fmt.Sprintf("entry %q is not a regular file", hdr.Name)}
		}
		if err := ValidatePath(hdr.Name); err != nil {
			return nil, &UntrustedError{Reason: "bad entry name", Err: err}
		}
		if _, dup := files[hdr.Name]; dup {
			return nil, &UntrustedError{Reason: fmt.Sprintf("entry %q appears twice", hdr.Name)}
		}
		limit := int64(maxEntryBytes)
		if hdr.Name == ManifestPath {
			limit = maxManifestBytes
		}
		if hdr.Size > limit {
			return nil, &UntrustedError{Reason: fmt.Sprintf("entry %q is %d bytes, above the %d byte limit", hdr.Name, hdr.Size, limit)}
		}
		data, err := io.ReadAll(io.LimitReader(tr, limit+1))
		if err != nil {
			return nil, &UntrustedError{Reason: fmt.Sprintf("read entry %q", hdr.Name), Err: err}
		}
		files[hdr.Name] = data
		order = append(order, hdr.Name)
	}

	if len(order) == 0 || order[0] != ManifestPath {
		return nil, &UntrustedError{Reason: "manifest.json must be the first entry"}
	}
	manifest := files[ManifestPath]
	m, err := ParseManifest(manifest)
	if err != nil {
		return nil, &UntrustedError{Reason: "bad manifest", Err: err}
	}

	wantArtifact := ArtifactPath(m.Descriptor.HostTriple, path.Base(m.Artifact))
	if m.Artifact != wantArtifact {
		return nil, &UntrustedError{Reason: fmt.Sprintf("artifact path %q does not match host triple %q", m.Artifact, m.Descriptor.HostTriple)}
	}

	listed := map[string]bool{ManifestPath: true}
	for _, entry := range m.Resources {
		if listed[entry.Path] {
			return nil, &UntrustedError{Reason: fmt.Sprintf("manifest lists %q twice", entry.Path)}
		}
		listed[entry.Path] = true

		data, ok := files[entry.Path]
		if !ok {
			return nil, &UntrustedError{Reason: fmt.Sprintf("manifest lists %q but the archive does not contain it", entry.Path)}
		}
		if int64(len(data)) != entry.Size {
			return nil, &UntrustedError{Reason: fmt.Sprintf("%q is %d bytes, manifest says %d", entry.Path, len(data), entry.Size)}
		}
		if signing.Hash(sha256.Sum256(data)) != entry.SHA256 {
			return nil, &UntrustedError{Reason: fmt.Sprintf("%q does not match its manifest checksum", entry.Path)}
		}
	}
	for _, name := range order {
		if !listed[name] {
			return nil, &UntrustedError{Reason: fmt.Sprintf("archive contains %q which the manifest does not list", name)}
		}
	}

	d := m.Descriptor
	block := m.Signature
	pkg := &PackageArchive{
		Descriptor:   &d,
		HostAPI:      m.HostAPI,
		ArtifactName: path.Base(m.Artifact),
		Artifact:     files[m.Artifact],
		Signature:    &block,
		Manifest:     bytes.Clone(manifest),
	}
	for _, entry := range m.Resources[1:] {
		rel, ok := strings.CutPrefix(entry.Path, ResourceDir+"/")
		if !ok {
			return nil, &UntrustedError{Reason: fmt.Sprintf("resource %q is outside %s/", entry.Path, ResourceDir)}
		}
		pkg.Resources = append(pkg.Resources, Resource{Path: rel, Data: files[entry.Path]})
	}
	return pkg, nil
}

// Verify performs the installer-side trust check: the signature must verify
// against the identity embedded in the package and, when identity is not nil,
// that identity must be the expected one.
func Verify(pkg *PackageArchive, identity []byte) error {
	if pkg == nil {
		return &UntrustedError{Reason: "no package"}
	}
	if err := pkg.Descriptor.Validate(); err != nil {
		return &UntrustedError{Reason: "descriptor is invalid", Err: err}
	}

	var err error
	if identity != nil {
		err = signing.VerifyWithIdentity(pkg.Artifact, pkg.Descriptor, pkg.Signature, identity)
	} else {
		err = signing.Verify(pkg.Artifact, pkg.Descriptor, pkg.Signature)
	}
	if err != nil {
		return &UntrustedError{Reason: "signature check failed", Err: err}
	}
	return nil
}

// VerifyFile reads and verifies the archive at archivePath.
func VerifyFile(archivePath string, identity []byte) (*PackageArchive, error) {
	pkg, err := ReadFile(archivePath)
	if err != nil {
		return nil, err
	}
	if err := Verify(pkg, identity); err != nil {
		var ue *UntrustedError
		if errors.As(err, &ue) {
			ue.Archive = archivePath
		}
		return nil, err
	}
	return pkg, nil
}
