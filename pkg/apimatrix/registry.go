// SPDX-License-Identifier: MPL-2.0

// Package apimatrix maps host simulator API versions to the feature flags a
// module must be compiled with to run against them.
package apimatrix

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/mod/semver"
)

type (
	// Entry is a registered host API release with its cumulative feature set.
	Entry struct {
		Version           string
		FeatureFlags      []string
		MinSupported      bool
		ForwardCompatible bool
	}

	// Resolution is the outcome of Registry.Resolve.
	Resolution struct {
		Entry     Entry
		Requested string
		// Exact is set when Requested is itself a registered version.
		Exact bool
		// Beyond is set when Requested is newer than every registered version.
		Beyond bool
		// Warning is non-empty when the caller should tell the user the match
		// is approximate.
		Warning string
	}

	// FeatureDiff lists the flags gained and lost going From -> To.
	FeatureDiff struct {
		From    string
		To      string
		Added   []string
		Removed []string
	}

	// Registry is an ordered, immutable set of host API entries. It is safe
	// for concurrent use.
	Registry struct {
		entries []Entry
		minIdx  int
	}
)

// New builds a Registry from table rows, accumulating the added and removed
// flags of each row into that entry's effective feature set.
func New(table []TableEntry) (*Registry, error) {
	if len(table) == 0 {
		return nil, &TableError{Index: -1, Reason: "no entries"}
	}

	r := &Registry{entries: make([]Entry, 0, len(table))}
	minSeen := false
	var current []string

	for i, row := range table {
		if !isFullVersion(row.Version) {
			return nil, &TableError{Index: i, Version: row.Version, Reason: "version must be MAJOR.MINOR.PATCH"}
		}
		if i > 0 && compare(row.Version, table[i-1].Version) <= 0 {
			return nil, &TableError{
				Index:   i,
				Version: row.Version,
				Reason:  fmt.Sprintf("must be newer than the previous entry %s", table[i-1].Version),
			}
		}
		if row.MinSupported {
			if minSeen {
				return nil, &TableError{Index: i, Version: row.Version, Reason: "only one entry may be marked min_supported"}
			}
			minSeen = true
			r.minIdx = i
		}

		next := slices.Clone(current)
		for _, flag := range row.Removed {
			idx := slices.Index(next, flag)
			if idx < 0 {
				return nil, &TableError{Index: i, Version: row.Version, Reason: fmt.Sprintf("removes flag %q which is not present", flag)}
			}
			next = slices.Delete(next, idx, idx+1)
		}
		for _, flag := range row.Added {
			if slices.Contains(next, flag) {
				return nil, &TableError{Index: i, Version: row.Version, Reason: fmt.Sprintf("adds flag %q which is already present", flag)}
			}
			next = append(next, flag)
		}
		slices.Sort(next)
		current = next

		r.entries = append(r.entries, Entry{
			Version:           row.Version,
			FeatureFlags:      slices.Clone(current),
			MinSupported:      i == r.minIdx && row.MinSupported,
			ForwardCompatible: row.ForwardCompatible,
		})
	}
	if !minSeen {
		r.entries[0].MinSupported = true
	}
	return r, nil
}

// Entries returns a copy of the registered entries, oldest first.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.clone()
	}
	return out
}

// Oldest returns the oldest supported entry.
func (r *Registry) Oldest() Entry { return r.entries[r.minIdx].clone() }

// Newest returns the newest registered entry.
func (r *Registry) Newest() Entry { return r.entries[len(r.entries)-1].clone() }

// Lookup returns the entry registered for exactly version.
func (r *Registry) Lookup(version string) (Entry, bool) {
	idx, found := r.search(version)
	if !found {
		return Entry{}, false
	}
	return r.entries[idx].clone(), true
}

// Resolve picks the entry to build against for a requested host API version.
// An exact match always wins. A version between two entries uses the older
// one when it is forward compatible. A version newer than every entry uses
// the newest one and sets Beyond and Warning.
func (r *Registry) Resolve(requested string) (Resolution, error) {
	if !semver.IsValid(normalize(requested)) || strings.HasPrefix(requested, "v") {
		return Resolution{}, &UnsupportedVersionError{Requested: requested, Reason: "not a valid version"}
	}
	// Shorthands and build metadata would name the same build differently.
	if !isFullVersion(requested) {
		return Resolution{}, &UnsupportedVersionError{Requested: requested, Reason: "must be a full MAJOR.MINOR.PATCH version"}
	}

	oldest := r.entries[r.minIdx]
	if compare(requested, oldest.Version) < 0 {
		return Resolution{}, &UnsupportedVersionError{
			Requested: requested,
			Reason:    fmt.Sprintf("older than the oldest supported version %s", oldest.Version),
		}
	}

	idx, found := r.search(requested)
	if found {
		return Resolution{Entry: r.entries[idx].clone(), Requested: requested, Exact: true}, nil
	}

	newest := r.entries[len(r.entries)-1]
	if idx == len(r.entries) {
		return Resolution{
			Entry:     newest.clone(),
			Requested: requested,
			Beyond:    true,
			Warning: fmt.Sprintf("host API %s is newer than the newest registered version %s; building with %s features",
				requested, newest.Version, newest.Version),
		}, nil
	}

	// search returned the insertion point, so the floor entry is just before it.
	floor := r.entries[idx-1]
	if !floor.ForwardCompatible {
		return Resolution{}, &UnsupportedVersionError{
			Requested: requested,
			Reason:    fmt.Sprintf("nearest older version %s is not forward compatible", floor.Version),
		}
	}
	return Resolution{Entry: floor.clone(), Requested: requested}, nil
}

// Diff reports the feature flags that change between two registered versions.
// Either order is accepted.
func (r *Registry) Diff(from, to string) (FeatureDiff, error) {
	a, ok := r.Lookup(from)
	if !ok {
		return FeatureDiff{}, &UnsupportedVersionError{Requested: from, Reason: "not a registered version"}
	}
	b, ok := r.Lookup(to)
	if !ok {
		return FeatureDiff{}, &UnsupportedVersionError{Requested: to, Reason: "not a registered version"}
	}
	return FeatureDiff{
		From:    a.Version,
		To:      b.Version,
		Added:   subtract(b.FeatureFlags, a.FeatureFlags),
		Removed: subtract(a.FeatureFlags, b.FeatureFlags),
	}, nil
}

// Empty reports whether nothing changed.
func (d FeatureDiff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// Major returns the major component of the entry version.
func (e Entry) Major() string {
	return strings.TrimPrefix(semver.Major(normalize(e.Version)), "v")
}

// HasFeature reports whether flag is in the effective feature set.
func (e Entry) HasFeature(flag string) bool {
	_, found := slices.BinarySearch(e.FeatureFlags, flag)
	return found
}

// Defines returns the conditional-compilation defines for this entry: the
// full and major host API version followed by one define per feature flag.
func (e Entry) Defines() []string {
	defines := make([]string, 0, len(e.FeatureFlags)+2)
	defines = append(defines,
		fmt.Sprintf("host_api_version=%q", e.Version),
		fmt.Sprintf("host_api_version=%q", e.Major()),
	)
	for _, flag := range e.FeatureFlags {
		defines = append(defines, fmt.Sprintf("host_api_feature=%q", flag))
	}
	return defines
}

func (e Entry) clone() Entry {
	e.FeatureFlags = slices.Clone(e.FeatureFlags)
	return e
}

// search returns the index of version, or the index it would be inserted at.
func (r *Registry) search(version string) (int, bool) {
	return slices.BinarySearchFunc(r.entries, version, func(e Entry, v string) int {
		return compare(e.Version, v)
	})
}

func subtract(a, b []string) []string {
	var out []string
	for _, flag := range a {
		if !slices.Contains(b, flag) {
			out = append(out, flag)
		}
	}
	return out
}

func compare(a, b string) int { return semver.Compare(normalize(a), normalize(b)) }

func normalize(v string) string { return "v" + v }

func isFullVersion(v string) bool {
	n := normalize(v)
	return semver.IsValid(n) && semver.Canonical(n) == n
}
