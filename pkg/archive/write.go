// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/errs"
)

const (
	// CollisionFail refuses to replace an existing output file.
	CollisionFail CollisionPolicy = iota
	// CollisionOverwrite atomically replaces an existing output file.
	CollisionOverwrite
)

// CollisionPolicy selects what Write does when the output path exists.
type CollisionPolicy int

// ParseCollisionPolicy maps "fail" and "overwrite" onto a CollisionPolicy.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return CollisionFail, nil
	case "overwrite":
		return CollisionOverwrite, nil
	default:
		return CollisionFail, fmt.Errorf("unknown collision policy %q (expected fail or overwrite)", s)
	}
}

// String returns the flag spelling of the policy.
func (p CollisionPolicy) String() string {
	if p == CollisionOverwrite {
		return "overwrite"
	}
	return "fail"
}

type tarEntry struct {
	name string
	mode int64
	data []byte
}

// entries returns the files of the archive in write order: the manifest
// first, then every other entry sorted by path.
func (p *PackageArchive) entries() []tarEntry {
	rest := []tarEntry{{name: p.ArtifactPath(), mode: 0o755, data: p.Artifact}}
	for _, r := range p.Resources {
		rest = append(rest, tarEntry{name: ResourcePath(r.Path), mode: 0o644, data: r.Data})
	}
	slices.SortFunc(rest, func(a, b tarEntry) int { return strings.Compare(a.name, b.name) })
	return append([]tarEntry{{name: ManifestPath, mode: 0o644, data: p.Manifest}}, rest...)
}

// Write stores pkg at outputPath as a gzip-compressed tar. The archive is
// written to a temporary file next to outputPath, synced, and moved into place
// only after every entry has been written, so outputPath never holds a
// partial archive. Canceling ctx discards the temporary file.
func Write(ctx context.Context, pkg *PackageArchive, outputPath string, policy CollisionPolicy) error {
	if pkg == nil || len(pkg.Manifest) == 0 {
		return errors.New("write archive: package has not been assembled")
	}

	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if policy == CollisionFail {
		if _, err := os.Lstat(outputPath); err == nil {
			return &CollisionError{Path: outputPath}
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(outputPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeTarGz(ctx, tmp, pkg); err != nil {
		return errs.Combine(err, tmp.Close(), os.Remove(tmpPath))
	}
	if err := tmp.Sync(); err != nil {
		return errs.Combine(fmt.Errorf("sync staging file: %w", err), tmp.Close(), os.Remove(tmpPath))
	}
	if err := tmp.Close(); err != nil {
		return errs.Combine(fmt.Errorf("close staging file: %w", err), os.Remove(tmpPath))
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return errs.Combine(fmt.Errorf("set archive permissions: %w", err), os.Remove(tmpPath))
	}
	if err := ctx.Err(); err != nil {
		return errs.Combine(err, os.Remove(tmpPath))
	}

	if err := commit(tmpPath, outputPath, policy); err != nil {
		return errs.Combine(err, removeIfExists(tmpPath))
	}
	return nil
}

func writeTarGz(ctx context.Context, f *os.File, pkg *PackageArchive) error {
	gz, err := gzip.NewWriterLevel(f, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	for _, e := range pkg.entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     e.name,
			Mode:     e.mode,
			Size:     int64(len(e.data)),
			ModTime:  time.Unix(0, 0).UTC(),
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header for %s: %w", e.name, err)
		}
		if _, err := tw.Write(e.data); err != nil {
			return fmt.Errorf("write %s: %w", e.name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finish gzip stream: %w", err)
	}
	return nil
}

// commit moves the staged archive into place. Under CollisionFail a hard link
// is used so that a file created concurrently at outputPath is never replaced.
func commit(tmpPath, outputPath string, policy CollisionPolicy) error {
	if policy == CollisionOverwrite {
		if err := os.Rename(tmpPath, outputPath); err != nil {
			return fmt.Errorf("move archive into place: %w", err)
		}
		return nil
	}

	if err := os.Link(tmpPath, outputPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &CollisionError{Path: outputPath}
		}
		return fmt.Errorf("move archive into place: %w", err)
	}
	return os.Remove(tmpPath)
}

func removeIfExists(p string) error {
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
