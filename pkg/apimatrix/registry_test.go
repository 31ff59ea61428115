// SPDX-License-Identifier: MPL-2.0

package apimatrix

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
)

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()

	r, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	return r
}

func TestDefaultTable_IsValid(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)
	if got := r.Oldest().Version; got != "6.0.163" {
		t.Errorf("Oldest() = %s, want 6.0.163", got)
	}
	if !r.Oldest().MinSupported {
		t.Error("oldest entry should be marked MinSupported")
	}
	entries := r.Entries()
	for i := 1; i < len(entries); i++ {
		if compare(entries[i-1].Version, entries[i].Version) >= 0 {
			t.Errorf("entries not ascending at %d: %s >= %s", i, entries[i-1].Version, entries[i].Version)
		}
		if !slices.IsSorted(entries[i].FeatureFlags) {
			t.Errorf("entry %s feature flags not sorted", entries[i].Version)
		}
	}
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)

	tests := []struct {
		requested   string
		wantVersion string
		wantExact   bool
		wantBeyond  bool
		wantErr     bool
	}{
		{requested: "6.0.185", wantVersion: "6.0.185", wantExact: true},
		{requested: "6.0.163", wantVersion: "6.0.163", wantExact: true},
		{requested: "6.0.167", wantVersion: "6.0.166"},
		{requested: "6.0.200", wantVersion: "6.0.195"},
		{requested: "7.30.1", wantVersion: "7.28.0"},
		{requested: "7.60.0", wantVersion: "7.57.0", wantBeyond: true},
		{requested: "8.0.0", wantVersion: "7.57.0", wantBeyond: true},
		{requested: "5.0.0", wantErr: true},
		{requested: "6", wantErr: true},
		{requested: "7", wantErr: true},
		{requested: "7.0", wantErr: true},
		{requested: "6.0.185+local", wantErr: true},
		{requested: "6.0.164", wantErr: true},
		{requested: "6.0.175", wantErr: true},
		{requested: "7.1.0", wantErr: true},
		{requested: "latest", wantErr: true},
		{requested: "v6.0.185", wantErr: true},
		{requested: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			t.Parallel()

			res, err := r.Resolve(tt.requested)
			if tt.wantErr {
				var uv *UnsupportedVersionError
				if !errors.As(err, &uv) {
					t.Fatalf("Resolve(%q) error = %v, want *UnsupportedVersionError", tt.requested, err)
				}
				if !errors.Is(err, ErrUnsupportedVersion) {
					t.Error("error should wrap ErrUnsupportedVersion")
				}
				if uv.Requested != tt.requested {
					t.Errorf("Requested = %q, want %q", uv.Requested, tt.requested)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) unexpected error: %v", tt.requested, err)
			}
			if res.Entry.Version != tt.wantVersion {
				t.Errorf("Entry.Version = %s, want %s", res.Entry.Version, tt.wantVersion)
			}
			if res.Exact != tt.wantExact {
				t.Errorf("Exact = %v, want %v", res.Exact, tt.wantExact)
			}
			if res.Beyond != tt.wantBeyond {
				t.Errorf("Beyond = %v, want %v", res.Beyond, tt.wantBeyond)
			}
			if (res.Warning != "") != tt.wantBeyond {
				t.Errorf("Warning = %q, want warning only for versions beyond the table", res.Warning)
			}
		})
	}
}

func TestRegistry_Resolve_OldestReasonNamesOldest(t *testing.T) {
	t.Parallel()

	_, err := defaultRegistry(t).Resolve("5.0.0")
	if err == nil || !strings.Contains(err.Error(), "6.0.163") {
		t.Errorf("error %v should name the oldest supported version", err)
	}
}

func TestRegistry_Resolve_Monotonic(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)
	entries := r.Entries()

	for i := 0; i+1 < len(entries); i++ {
		v1, v2 := entries[i].Version, entries[i+1].Version
		res1, err := r.Resolve(v1)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", v1, err)
		}
		res2, err := r.Resolve(v2)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", v2, err)
		}
		diff, err := r.Diff(v1, v2)
		if err != nil {
			t.Fatalf("Diff(%s, %s): %v", v1, v2, err)
		}

		same := slices.Equal(res1.Entry.FeatureFlags, res2.Entry.FeatureFlags)
		if same != diff.Empty() {
			t.Errorf("%s -> %s: same feature set = %v but diff empty = %v", v1, v2, same, diff.Empty())
		}
	}
}

func TestRegistry_Diff(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)

	d, err := r.Diff("6.0.195", "7.28.0")
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	wantAdded := []string{"host_api_7", "python_separate_package"}
	wantRemoved := []string{"host_api_6", "python_embedded", "rev_exec"}
	if !slices.Equal(d.Added, wantAdded) {
		t.Errorf("Added = %v, want %v", d.Added, wantAdded)
	}
	if !slices.Equal(d.Removed, wantRemoved) {
		t.Errorf("Removed = %v, want %v", d.Removed, wantRemoved)
	}

	back, err := r.Diff("7.28.0", "6.0.195")
	if err != nil {
		t.Fatalf("reverse Diff() error = %v", err)
	}
	if !slices.Equal(back.Added, wantRemoved) || !slices.Equal(back.Removed, wantAdded) {
		t.Errorf("reverse diff = %+v, want mirror of %+v", back, d)
	}

	if _, err := r.Diff("6.0.186", "7.0.0"); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Diff with unregistered version error = %v", err)
	}
}

func TestEntry_Defines(t *testing.T) {
	t.Parallel()

	e := Entry{Version: "6.0.185", FeatureFlags: []string{"rev_exec", "snapshots"}}
	want := []string{
		`host_api_version="6.0.185"`,
		`host_api_version="6"`,
		`host_api_feature="rev_exec"`,
		`host_api_feature="snapshots"`,
	}
	if got := e.Defines(); !slices.Equal(got, want) {
		t.Errorf("Defines() = %v, want %v", got, want)
	}
	if !e.HasFeature("snapshots") || e.HasFeature("python_embedded") {
		t.Error("HasFeature() mismatch")
	}
}

func TestEntries_ReturnsCopies(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)
	entries := r.Entries()
	entries[0].FeatureFlags[0] = "mutated"

	if r.Entries()[0].FeatureFlags[0] == "mutated" {
		t.Error("mutating Entries() result changed the registry")
	}
}

func TestNew_RejectsMalformedTables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		table []TableEntry
	}{
		{"empty", nil},
		{"short version", []TableEntry{{Version: "6.0"}}},
		{"prefixed version", []TableEntry{{Version: "v6.0.1"}}},
		{"duplicate", []TableEntry{{Version: "6.0.1"}, {Version: "6.0.1"}}},
		{"descending", []TableEntry{{Version: "6.0.2"}, {Version: "6.0.1"}}},
		{"remove missing flag", []TableEntry{{Version: "6.0.1", Removed: []string{"x"}}}},
		{"add present flag", []TableEntry{{Version: "6.0.1", Added: []string{"x"}}, {Version: "6.0.2", Added: []string{"x"}}}},
		{"two minimums", []TableEntry{{Version: "6.0.1", MinSupported: true}, {Version: "6.0.2", MinSupported: true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.table); !errors.Is(err, ErrInvalidTable) {
				t.Errorf("New() error = %v, want ErrInvalidTable", err)
			}
		})
	}
}

func TestNew_MinSupportedHidesOlderEntries(t *testing.T) {
	t.Parallel()

	r, err := New([]TableEntry{
		{Version: "1.0.0", Added: []string{"a"}, ForwardCompatible: true},
		{Version: "2.0.0", MinSupported: true, ForwardCompatible: true},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := r.Resolve("1.0.0"); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Resolve below min_supported error = %v", err)
	}
	res, err := r.Resolve("2.5.0")
	if err != nil {
		t.Fatalf("Resolve(2.5.0) error = %v", err)
	}
	if !slices.Equal(res.Entry.FeatureFlags, []string{"a"}) {
		t.Errorf("features = %v, want flags inherited from older rows", res.Entry.FeatureFlags)
	}
}

func TestLoadTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.cue")
	if err := os.WriteFile(good, []byte(`entries: [{version: "1.0.0", added: ["a"]}, {version: "1.1.0", added: ["b"]}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	table, err := LoadTable(good)
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}
	if len(table) != 2 || !table[1].ForwardCompatible || table[0].MinSupported {
		t.Errorf("LoadTable() = %+v, want schema defaults applied", table)
	}

	bad := filepath.Join(dir, "bad.cue")
	if err := os.WriteFile(bad, []byte(`entries: [{version: "1.0", added: ["Bad Flag"]}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTable(bad); err == nil || !strings.Contains(err.Error(), "bad.cue") {
		t.Errorf("LoadTable(bad) error = %v, want error naming the file", err)
	}
}

func TestRegistry_ConcurrentResolve(t *testing.T) {
	t.Parallel()

	r := defaultRegistry(t)
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, v := range []string{"6.0.185", "7.60.0", "6.0.167"} {
				if _, err := r.Resolve(v); err != nil {
					t.Errorf("Resolve(%s): %v", v, err)
				}
			}
		}()
	}
	wg.Wait()
}
