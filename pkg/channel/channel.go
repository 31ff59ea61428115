// SPDX-License-Identifier: MPL-2.0

// Package channel keeps the release history of a distribution channel and
// enforces its identity rules: a package name and numeric id stay paired for
// good, and versions of a package never go backwards.
package channel

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/simpkg/simpkg/pkg/descriptor"
)

// ErrConflict is wrapped by every *ConflictError.
var ErrConflict = errors.New("channel conflict")

type (
	// Release is one published package version.
	Release struct {
		Name      string `toml:"name"`
		NumericID int64  `toml:"numeric_id"`
		Version   string `toml:"version"`
	}

	// Index is the release history of a channel, as stored in a TOML file
	// with one [[release]] table per release.
	Index struct {
		Releases []Release `toml:"release"`
	}

	// ConflictError explains why a descriptor cannot be released on the channel.
	ConflictError struct {
		Name      string
		NumericID int64
		Reason    string
	}
)

func (e *ConflictError) Error() string {
	return fmt.Sprintf("channel conflict for %s (id %d): %s", e.Name, e.NumericID, e.Reason)
}

// Unwrap returns ErrConflict for errors.Is() compatibility.
func (e *ConflictError) Unwrap() error { return ErrConflict }

// Load reads an index file. A missing file is an empty index.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Index{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read channel index: %w", err)
	}
	return Parse(data)
}

// Parse decodes index TOML.
func Parse(data []byte) (*Index, error) {
	var idx Index
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&idx); err != nil {
		return nil, fmt.Errorf("decode channel index: %w", err)
	}
	for i, r := range idx.Releases {
		if r.Name == "" || r.NumericID <= 0 || r.Version == "" {
			return nil, fmt.Errorf("channel index release %d: name, numeric_id and version are required", i+1)
		}
	}
	return &idx, nil
}

// Check reports whether d may be released: its name must not be recorded
// under another id, its id must not be recorded under another name, and its
// version must not be lower than the highest recorded version of the pair.
// Re-releasing the highest version is allowed (rebuilds for another host API).
func (idx *Index) Check(d *descriptor.Descriptor) error {
	var highest string
	for _, r := range idx.Releases {
		switch {
		case r.Name == d.Name && r.NumericID != d.NumericID:
			return &ConflictError{Name: d.Name, NumericID: d.NumericID,
				Reason: fmt.Sprintf("name is already registered with id %d", r.NumericID)}
		case r.NumericID == d.NumericID && r.Name != d.Name:
			return &ConflictError{Name: d.Name, NumericID: d.NumericID,
				Reason: fmt.Sprintf("id is already registered to %q", r.Name)}
		case r.Name == d.Name:
			if highest == "" || descriptor.CompareVersions(r.Version, highest) > 0 {
				highest = r.Version
			}
		}
	}
	if highest != "" && descriptor.CompareVersions(d.Version, highest) < 0 {
		return &ConflictError{Name: d.Name, NumericID: d.NumericID,
			Reason: fmt.Sprintf("version %s is lower than released version %s", d.Version, highest)}
	}
	return nil
}

// Add records d after checking it. Recording the same release twice is a no-op.
func (idx *Index) Add(d *descriptor.Descriptor) error {
	if err := idx.Check(d); err != nil {
		return err
	}
	r := Release{Name: d.Name, NumericID: d.NumericID, Version: d.Version}
	if !slices.Contains(idx.Releases, r) {
		idx.Releases = append(idx.Releases, r)
	}
	return nil
}

// Save writes the index to path through a temporary file and a rename.
func (idx *Index) Save(path string) error {
	var buf strings.Builder
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(idx); err != nil {
		return fmt.Errorf("encode channel index: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".channel-*.toml")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }() // no-op after a successful rename

	if _, err := tmp.WriteString(buf.String()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace channel index: %w", err)
	}
	return nil
}
