// SPDX-License-Identifier: MPL-2.0

// Package cueutil loads CUE documents against embedded schemas.
//
// Every CUE-backed document in simpkg (the host API matrix table, the
// simpkg.cue source manifest and the user configuration file) is read the same
// way: the embedded schema is compiled, the document is unified with one of
// the schema's definitions, and the result is validated and decoded into a Go
// struct.
//
//	//go:embed matrix_schema.cue
//	var schema []byte
//
//	res, err := cueutil.ParseAndDecode[tableFile](
//	    schema,
//	    data,
//	    "#Table",
//	    cueutil.WithFilename("matrix.cue"),
//	)
//	if err != nil {
//	    return nil, err // carries the offending CUE path
//	}
package cueutil
