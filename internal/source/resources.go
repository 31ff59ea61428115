// SPDX-License-Identifier: MPL-2.0

package source

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/simpkg/simpkg/pkg/archive"
)

// maxResourceSize bounds a single resource file read into memory.
const maxResourceSize = 64 << 20

// defaultExcludes never become resources, whatever the include globs say.
var defaultExcludes = []string{
	".git/**",
	"**/*.spkg",
	"**/.*.tmp-*",
}

// ResourcePaths expands the include globs against the source directory and
// returns the matched regular files as sorted, de-duplicated slash paths.
func (s *Source) ResourcePaths() ([]string, error) {
	fsys := os.DirFS(s.Dir)
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range s.Resources.Include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("resources.include: invalid pattern %q", pattern)
		}
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
		if err != nil {
			return nil, fmt.Errorf("resources.include %q: %w", pattern, err)
		}
		for _, m := range matches {
			excluded, err := s.excluded(m)
			if err != nil {
				return nil, err
			}
			if excluded {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out, nil
}

// ReadResources reads every file selected by ResourcePaths.
func (s *Source) ReadResources() ([]archive.Resource, error) {
	paths, err := s.ResourcePaths()
	if err != nil {
		return nil, err
	}
	fsys := os.DirFS(s.Dir)
	out := make([]archive.Resource, 0, len(paths))
	for _, p := range paths {
		info, err := fs.Stat(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("resource %s is not a regular file", p)
		}
		if info.Size() > maxResourceSize {
			return nil, fmt.Errorf("resource %s is %d bytes, above the %d byte limit", p, info.Size(), maxResourceSize)
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", p, err)
		}
		out = append(out, archive.Resource{Path: path.Clean(p), Data: data})
	}
	return out, nil
}

func (s *Source) excluded(p string) (bool, error) {
	for _, pattern := range defaultExcludes {
		if doublestar.MatchUnvalidated(pattern, p) {
			return true, nil
		}
	}
	for _, pattern := range s.Resources.Exclude {
		ok, err := doublestar.Match(pattern, p)
		if err != nil {
			return false, fmt.Errorf("resources.exclude: invalid pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
