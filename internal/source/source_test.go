// SPDX-License-Identifier: MPL-2.0

package source

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/simpkg/simpkg/pkg/cueutil"
)

const demoTOML = `[package]
name = "demo"
numeric_id = 1001
version = "1.0.0"
confidentiality = "Public"
host = "x86_64-unknown-linux-gnu"
doc_title = "Demo Module"

[build]
command = "make lib"
artifact = "target/libdemo.so"

[resources]
include = ["docs/**/*.md", "data/*.bin", "docs/intro.md"]
exclude = ["docs/drafts/**"]
`

const demoCUE = `package: {
	name:       "demo"
	numeric_id: 1001
	version:    "1.0.0"
	doc_title:  "Demo Module"
}
build: command: "make lib"
resources: include: ["docs/*.md"]
`

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoad_TOML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{TOMLFile: demoTOML})

	src, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if src.File != filepath.Join(src.Dir, TOMLFile) {
		t.Errorf("File = %q", src.File)
	}
	if src.Metadata.Name != "demo" || src.Metadata.NumericID != 1001 || src.Metadata.HostTriple != "x86_64-unknown-linux-gnu" {
		t.Errorf("Metadata = %+v", src.Metadata)
	}
	if src.Build.Command != "make lib" || src.Build.Artifact != "target/libdemo.so" {
		t.Errorf("Build = %+v", src.Build)
	}
	if len(src.Resources.Include) != 3 || len(src.Resources.Exclude) != 1 {
		t.Errorf("Resources = %+v", src.Resources)
	}
}

func TestLoad_CUE(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{CUEFile: demoCUE})

	src, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if src.Metadata.Name != "demo" || src.Metadata.DocTitle != "Demo Module" {
		t.Errorf("Metadata = %+v", src.Metadata)
	}
	if src.Build.Command != "make lib" {
		t.Errorf("Build = %+v", src.Build)
	}
	if !slices.Equal(src.Resources.Include, []string{"docs/*.md"}) {
		t.Errorf("Include = %v", src.Resources.Include)
	}
}

func TestLoad_CUESchemaViolation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{CUEFile: `package: {name: "demo", numeric_id: 0, version: "1.0.0"}`})

	_, err := Load(dir)
	if err == nil {
		t.Fatal("Load() expected error for numeric_id 0")
	}
	if !errors.Is(err, cueutil.ErrInvalidDocument) {
		t.Errorf("Load() error = %v, want ErrInvalidDocument", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "no metadata",
			files:   map[string]string{"README.md": "hi"},
			wantErr: "no simpkg.toml or simpkg.cue",
		},
		{
			name:    "both files",
			files:   map[string]string{TOMLFile: demoTOML, CUEFile: demoCUE},
			wantErr: "keep one",
		},
		{
			name:    "unknown toml key",
			files:   map[string]string{TOMLFile: demoTOML + "\n[extra]\nkey = 1\n"},
			wantErr: "unknown keys",
		},
		{
			name:    "malformed toml",
			files:   map[string]string{TOMLFile: "[package\nname = 1"},
			wantErr: TOMLFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeFiles(t, dir, tt.files)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %q, want substring %q", err, tt.wantErr)
			}
			if tt.name == "no metadata" && !errors.Is(err, ErrNoMetadata) {
				t.Errorf("Load() error = %v, want ErrNoMetadata", err)
			}
		})
	}
}

func TestLoad_NotADirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"file": "x"})
	if _, err := Load(filepath.Join(dir, "file")); err == nil {
		t.Fatal("Load() expected error for a regular file")
	}
}

func TestResourcePaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		TOMLFile:               demoTOML,
		"docs/intro.md":        "intro",
		"docs/guide/usage.md":  "usage",
		"docs/drafts/wip.md":   "wip",
		"docs/image.png":       "png",
		"data/table.bin":       "bin",
		"data/nested/skip.bin": "nested",
		"data/old-1.0.0.spkg":  "stale",
		"target/libdemo.so":    "lib",
	})

	src, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := src.ResourcePaths()
	if err != nil {
		t.Fatalf("ResourcePaths() error = %v", err)
	}
	want := []string{"data/table.bin", "docs/guide/usage.md", "docs/intro.md"}
	if !slices.Equal(got, want) {
		t.Errorf("ResourcePaths() = %v, want %v", got, want)
	}

	res, err := src.ReadResources()
	if err != nil {
		t.Fatalf("ReadResources() error = %v", err)
	}
	if len(res) != len(want) {
		t.Fatalf("ReadResources() returned %d resources, want %d", len(res), len(want))
	}
	if res[2].Path != "docs/intro.md" || string(res[2].Data) != "intro" {
		t.Errorf("ReadResources()[2] = {%q, %q}", res[2].Path, res[2].Data)
	}
}

func TestResourcePaths_InvalidPattern(t *testing.T) {
	t.Parallel()

	src := &Source{Dir: t.TempDir(), Resources: Resources{Include: []string{"docs/[.md"}}}
	if _, err := src.ResourcePaths(); err == nil {
		t.Fatal("ResourcePaths() expected error for an invalid pattern")
	}
}

func TestResourcePaths_Empty(t *testing.T) {
	t.Parallel()

	src := &Source{Dir: t.TempDir()}
	got, err := src.ReadResources()
	if err != nil {
		t.Fatalf("ReadResources() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadResources() = %v, want none", got)
	}
}

func TestGitRevision(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rev, err := GitRevision(dir)
	if err != nil {
		t.Fatalf("GitRevision() outside a repository error = %v", err)
	}
	if rev != "" {
		t.Errorf("GitRevision() outside a repository = %q, want empty", rev)
	}

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	rev, err = GitRevision(dir)
	if err != nil || rev != "" {
		t.Fatalf("GitRevision() without commits = %q, %v", rev, err)
	}

	writeFiles(t, dir, map[string]string{"src/lib.c": "int x;"})
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("src/lib.c"); err != nil {
		t.Fatal(err)
	}
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Build Bot", Email: "bot@example.com", When: time.Unix(1700000000, 0)},
	})
	if err != nil {
		t.Fatal(err)
	}

	rev, err = GitRevision(filepath.Join(dir, "src"))
	if err != nil {
		t.Fatalf("GitRevision() error = %v", err)
	}
	if want := hash.String()[:12]; rev != want {
		t.Errorf("GitRevision() = %q, want %q", rev, want)
	}

	writeFiles(t, dir, map[string]string{"src/lib.c": "int y;"})
	rev, err = GitRevision(dir)
	if err != nil {
		t.Fatal(err)
	}
	if want := hash.String()[:12] + "-dirty"; rev != want {
		t.Errorf("GitRevision() after edit = %q, want %q", rev, want)
	}
}
