// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/simpkg/simpkg/pkg/descriptor"
	"github.com/simpkg/simpkg/pkg/signing"
)

// FormatVersion is the manifest schema version written by this package.
// Readers reject manifests with a different version.
const FormatVersion = 1

type (
	// HostAPI records the host API version a package was built for and the
	// feature flags it was compiled with.
	HostAPI struct {
		Version string `json:"version"`
		// Requested is the version the build asked for when it differs from
		// the registered version used.
		Requested string   `json:"requested,omitempty"`
		Features  []string `json:"features"`
	}

	// ManifestEntry lists one file stored in the archive.
	ManifestEntry struct {
		Path   string       `json:"path"`
		Size   int64        `json:"size"`
		SHA256 signing.Hash `json:"sha256"`
	}

	// Manifest is the JSON document stored at ManifestPath. Field order is
	// fixed by the struct, which keeps the encoding stable.
	Manifest struct {
		FormatVersion int                   `json:"format_version"`
		Descriptor    descriptor.Descriptor `json:"descriptor"`
		HostAPI       HostAPI               `json:"host_api"`
		Artifact      string                `json:"artifact"`
		Resources     []ManifestEntry       `json:"resources"`
		Signature     signing.Block         `json:"signature"`
	}
)

// Encode renders the manifest as indented JSON with a trailing newline.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// ParseManifest decodes and structurally checks a manifest. Unknown fields
// are rejected so that a manifest from a newer writer is not half-read.
func ParseManifest(data []byte) (*Manifest, error) {
	var header struct {
		FormatVersion int `json:"format_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if header.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported manifest format_version %d (this reader understands %d)", header.FormatVersion, FormatVersion)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	if err := m.Descriptor.Validate(); err != nil {
		return nil, fmt.Errorf("manifest descriptor: %w", err)
	}
	if len(m.Resources) == 0 || m.Resources[0].Path != m.Artifact {
		return nil, fmt.Errorf("manifest must list the artifact %q as its first resource", m.Artifact)
	}
	for _, r := range m.Resources {
		if err := ValidatePath(r.Path); err != nil {
			return nil, err
		}
		if r.Size < 0 {
			return nil, fmt.Errorf("manifest entry %q has negative size", r.Path)
		}
	}
	return &m, nil
}
