// SPDX-License-Identifier: MPL-2.0

package apimatrix

import (
	_ "embed"
	"fmt"

	"github.com/simpkg/simpkg/pkg/cueutil"
)

const tableDefinition = "#Table"

var (
	//go:embed matrix_schema.cue
	tableSchema []byte

	//go:embed matrix.cue
	defaultTable []byte
)

type (
	// TableEntry is one release row as written in a matrix table file.
	// Added and Removed are relative to the previous row.
	TableEntry struct {
		Version           string   `json:"version"`
		Added             []string `json:"added,omitempty"`
		Removed           []string `json:"removed,omitempty"`
		MinSupported      bool     `json:"min_supported"`
		ForwardCompatible bool     `json:"forward_compatible"`
		Notes             string   `json:"notes,omitempty"`
	}

	tableFile struct {
		Entries []TableEntry `json:"entries"`
	}
)

// DefaultTable returns the table compiled into the binary.
func DefaultTable() ([]TableEntry, error) {
	return ParseTable(defaultTable, "matrix.cue")
}

// ParseTable decodes a CUE matrix table. filename is only used in errors.
func ParseTable(data []byte, filename string) ([]TableEntry, error) {
	res, err := cueutil.ParseAndDecode[tableFile](tableSchema, data, tableDefinition, cueutil.WithFilename(filename))
	if err != nil {
		return nil, fmt.Errorf("parse host API matrix: %w", err)
	}
	return res.Value.Entries, nil
}

// LoadTable reads a replacement table from path.
func LoadTable(path string) ([]TableEntry, error) {
	res, err := cueutil.ParseFile[tableFile](tableSchema, path, tableDefinition)
	if err != nil {
		return nil, fmt.Errorf("load host API matrix: %w", err)
	}
	return res.Value.Entries, nil
}

// Default builds a Registry from DefaultTable. The embedded table is checked
// by the package tests, so an error here means a broken build.
func Default() (*Registry, error) {
	table, err := DefaultTable()
	if err != nil {
		return nil, err
	}
	return New(table)
}
