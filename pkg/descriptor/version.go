// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"strings"

	"golang.org/x/mod/semver"
)

// CompareVersions compares two package versions using semantic version
// precedence. Both values must already be valid; invalid values sort first.
func CompareVersions(a, b string) int {
	return semver.Compare(normalizeVersion(a), normalizeVersion(b))
}

// normalizeVersion adds the "v" prefix required by the semver package.
func normalizeVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// validateVersion accepts full MAJOR.MINOR.PATCH versions with optional
// pre-release and build suffixes. Shorthands such as "1.2" and a leading "v"
// are rejected so that the canonical encoding has exactly one spelling.
func validateVersion(v string) error {
	invalid := &ValidationError{
		Field:  FieldVersion,
		Value:  v,
		Reason: "must be a semantic version MAJOR.MINOR.PATCH",
	}
	if v == "" || strings.HasPrefix(v, "v") {
		return invalid
	}
	norm := normalizeVersion(v)
	if !semver.IsValid(norm) {
		return invalid
	}
	if semver.Canonical(norm) != strings.TrimSuffix(norm, semver.Build(norm)) {
		return invalid
	}
	return nil
}
