// SPDX-License-Identifier: MPL-2.0

package toolchain

import (
	"context"
	"path/filepath"
)

// Prebuilt hands over a library that was compiled outside simpkg.
type Prebuilt struct {
	Path string
	// Name overrides the file name stored in the archive; the base name of
	// Path is used when empty.
	Name string
}

// Compile implements Compiler.
func (p Prebuilt) Compile(ctx context.Context, req Request) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	path := p.Path
	if !filepath.IsAbs(path) && req.SourceDir != "" {
		path = filepath.Join(req.SourceDir, path)
	}
	name := p.Name
	if name == "" {
		name = filepath.Base(path)
	}
	return readArtifact(path, name)
}
