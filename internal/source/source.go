// SPDX-License-Identifier: MPL-2.0

// Package source loads the build metadata that sits at the root of a module
// source tree. The metadata is written either as simpkg.toml or as simpkg.cue;
// both carry the same three sections: package, build and resources.
package source

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/simpkg/simpkg/pkg/cueutil"
	"github.com/simpkg/simpkg/pkg/descriptor"
)

// Metadata file names, in lookup order.
const (
	TOMLFile = "simpkg.toml"
	CUEFile  = "simpkg.cue"
)

const maxMetadataSize = 1 << 20

// ErrNoMetadata is returned when a directory holds neither metadata file.
var ErrNoMetadata = errors.New("no simpkg.toml or simpkg.cue found")

//go:embed source_schema.cue
var sourceSchema []byte

type (
	// Build is the build section: how the module library is produced.
	Build struct {
		// Command is run by the embedded shell in the source directory.
		Command string `json:"command,omitempty" toml:"command,omitempty"`
		// Artifact is the library path the command leaves behind, relative
		// to the source directory.
		Artifact string `json:"artifact,omitempty" toml:"artifact,omitempty"`
	}

	// Resources selects auxiliary files with doublestar globs relative to
	// the source directory.
	Resources struct {
		Include []string `json:"include,omitempty" toml:"include,omitempty"`
		Exclude []string `json:"exclude,omitempty" toml:"exclude,omitempty"`
	}

	file struct {
		Package   descriptor.Metadata `json:"package" toml:"package"`
		Build     Build               `json:"build" toml:"build"`
		Resources Resources           `json:"resources" toml:"resources"`
	}

	// Source is a loaded module source tree.
	Source struct {
		// Dir is the absolute source directory.
		Dir string
		// File is the metadata file that was read.
		File      string
		Metadata  descriptor.Metadata
		Build     Build
		Resources Resources
	}
)

// Load reads the metadata file in dir. Exactly one of simpkg.toml and
// simpkg.cue must exist.
func Load(dir string) (*Source, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve source directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source directory %s is not a directory", abs)
	}

	tomlPath := filepath.Join(abs, TOMLFile)
	cuePath := filepath.Join(abs, CUEFile)
	hasTOML, hasCUE := exists(tomlPath), exists(cuePath)

	var f *file
	switch {
	case hasTOML && hasCUE:
		return nil, fmt.Errorf("%s holds both %s and %s; keep one", abs, TOMLFile, CUEFile)
	case hasTOML:
		f, err = loadTOML(tomlPath)
	case hasCUE:
		f, err = loadCUE(cuePath)
	default:
		return nil, fmt.Errorf("%s: %w", abs, ErrNoMetadata)
	}
	if err != nil {
		return nil, err
	}

	metaFile := tomlPath
	if hasCUE {
		metaFile = cuePath
	}
	return &Source{
		Dir:       abs,
		File:      metaFile,
		Metadata:  f.Package,
		Build:     f.Build,
		Resources: f.Resources,
	}, nil
}

func loadTOML(path string) (*file, error) {
	data, err := readLimited(path)
	if err != nil {
		return nil, err
	}
	var f file
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%s: unknown keys:\n%s", filepath.Base(path), strict.String())
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("%s:%d:%d: %w", filepath.Base(path), row, col, err)
		}
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &f, nil
}

func loadCUE(path string) (*file, error) {
	res, err := cueutil.ParseFile[file](sourceSchema, path, "#Source", cueutil.WithMaxFileSize(maxMetadataSize))
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

func readLimited(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxMetadataSize {
		return nil, fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", path, info.Size(), maxMetadataSize)
	}
	return os.ReadFile(path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
