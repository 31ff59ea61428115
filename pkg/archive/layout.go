// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"path"
	"strings"

	"golang.org/x/text/cases"
)

// Fixed archive layout.
const (
	ManifestPath = "manifest.json"
	BinDir       = "bin"
	ResourceDir  = "resources"
)

// ArtifactPath returns the archive location of the module binary.
func ArtifactPath(hostTriple, artifactName string) string {
	return path.Join(BinDir, hostTriple, artifactName)
}

// ResourcePath returns the archive location of an auxiliary resource.
func ResourcePath(rel string) string {
	return path.Join(ResourceDir, rel)
}

// ValidatePath checks that p is a clean, relative, slash-separated path that
// stays inside the archive root.
func ValidatePath(p string) error {
	switch {
	case p == "":
		return &InvalidPathError{Path: p, Reason: "path is empty"}
	case strings.ContainsRune(p, 0):
		return &InvalidPathError{Path: p, Reason: "path contains a NUL byte"}
	case strings.Contains(p, `\`):
		return &InvalidPathError{Path: p, Reason: "path must use forward slashes"}
	case strings.HasPrefix(p, "/") || (len(p) >= 2 && p[1] == ':'):
		return &InvalidPathError{Path: p, Reason: "path must be relative"}
	case path.Clean(p) != p || p == ".":
		return &InvalidPathError{Path: p, Reason: "path must be clean (no '.', '..' or empty segments)"}
	case p == ".." || strings.HasPrefix(p, "../"):
		return &InvalidPathError{Path: p, Reason: "path escapes the archive root"}
	}
	return nil
}

// layout tracks occupied archive paths. Paths are compared after Unicode case
// folding so that an archive unpacks the same way on case-insensitive file
// systems.
type layout struct {
	fold  cases.Caser
	files map[string]string // folded path -> original path
	dirs  map[string]string // folded dir -> first file that created it
}

func newLayout() *layout {
	return &layout{
		fold:  cases.Fold(),
		files: make(map[string]string),
		dirs:  make(map[string]string),
	}
}

// add claims p, returning a *LayoutConflictError if it clashes with a path
// already claimed.
func (l *layout) add(p string) error {
	key := l.fold.String(p)

	if other, ok := l.files[key]; ok {
		if other == p {
			return &LayoutConflictError{Path: p, Reason: "duplicate path"}
		}
		return &LayoutConflictError{Path: p, Other: other, Reason: "paths differ only in letter case"}
	}
	if other, ok := l.dirs[key]; ok {
		return &LayoutConflictError{Path: p, Other: other, Reason: "file path is also used as a directory"}
	}
	for dir := path.Dir(key); dir != "."; dir = path.Dir(dir) {
		if other, ok := l.files[dir]; ok {
			return &LayoutConflictError{Path: p, Other: other, Reason: "parent directory is already a file"}
		}
	}

	l.files[key] = p
	for dir := path.Dir(key); dir != "."; dir = path.Dir(dir) {
		if _, ok := l.dirs[dir]; !ok {
			l.dirs[dir] = p
		}
	}
	return nil
}
