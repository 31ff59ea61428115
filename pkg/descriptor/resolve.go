// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"slices"
	"strconv"
	"strings"
)

const (
	// ModeLenient ignores override keys outside the recognized set.
	ModeLenient Mode = iota
	// ModeStrict rejects override keys outside the recognized set.
	ModeStrict
)

// Recognized override keys. Each one replaces a single base metadata field.
const (
	OverridePrefix = "SIMPKG_PACKAGE_"

	OverrideName             = OverridePrefix + "NAME"
	OverrideNumericID        = OverridePrefix + "NUMBER"
	OverrideVersion          = OverridePrefix + "VERSION"
	OverrideBuildID          = OverridePrefix + "BUILD_ID"
	OverrideBuildIDNamespace = OverridePrefix + "BUILD_ID_NAMESPACE"
	OverrideConfidentiality  = OverridePrefix + "CONFIDENTIALITY"
	OverrideHost             = OverridePrefix + "HOST"
	OverrideDescription      = OverridePrefix + "DESCRIPTION"
	OverrideDocTitle         = OverridePrefix + "DOC_TITLE"
)

// Mode selects how Resolve treats unrecognized override keys.
type Mode int

// String returns the flag spelling of the mode.
func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "lenient"
}

// OverrideKeys returns the recognized override keys in a stable order.
func OverrideKeys() []string {
	return []string{
		OverrideName,
		OverrideNumericID,
		OverrideVersion,
		OverrideBuildID,
		OverrideBuildIDNamespace,
		OverrideConfidentiality,
		OverrideHost,
		OverrideDescription,
		OverrideDocTitle,
	}
}

// OverridesFromEnviron extracts override entries from an environment list in
// os.Environ() form. Every SIMPKG_PACKAGE_* entry is returned, recognized or
// not, so that strict resolution can reject misspelled keys.
func OverridesFromEnviron(environ []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, OverridePrefix) {
			continue
		}
		out[key] = value
	}
	return out
}

// Resolve merges base metadata with overrides, applies defaults and validates
// the result. It performs no I/O.
func Resolve(base Metadata, overrides map[string]string, mode Mode) (*Descriptor, error) {
	if mode == ModeStrict {
		known := OverrideKeys()
		unknown := make([]string, 0)
		for key := range overrides {
			if !slices.Contains(known, key) {
				unknown = append(unknown, key)
			}
		}
		if len(unknown) > 0 {
			slices.Sort(unknown)
			return nil, &ValidationError{
				Field:  unknown[0],
				Reason: "unrecognized override key",
			}
		}
	}

	d := &Descriptor{
		Name:             base.Name,
		NumericID:        base.NumericID,
		Version:          base.Version,
		BuildID:          base.BuildID,
		BuildIDNamespace: base.BuildIDNamespace,
		HostTriple:       base.HostTriple,
		Description:      base.Description,
		DocTitle:         base.DocTitle,
	}
	confidentiality := base.Confidentiality

	if v, ok := overrides[OverrideName]; ok {
		d.Name = v
	}
	if v, ok := overrides[OverrideNumericID]; ok {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, &ValidationError{Field: FieldNumericID, Value: v, Reason: "must be a positive integer"}
		}
		d.NumericID = id
	}
	if v, ok := overrides[OverrideVersion]; ok {
		d.Version = v
	}
	if v, ok := overrides[OverrideBuildID]; ok {
		d.BuildID = v
	}
	if v, ok := overrides[OverrideBuildIDNamespace]; ok {
		d.BuildIDNamespace = v
	}
	if v, ok := overrides[OverrideConfidentiality]; ok {
		confidentiality = v
	}
	if v, ok := overrides[OverrideHost]; ok {
		d.HostTriple = v
	}
	if v, ok := overrides[OverrideDescription]; ok {
		d.Description = v
	}
	if v, ok := overrides[OverrideDocTitle]; ok {
		d.DocTitle = v
	}

	if confidentiality == "" {
		d.Confidentiality = ConfidentialityPublic
	} else {
		c, err := ParseConfidentiality(confidentiality)
		if err != nil {
			return nil, err
		}
		d.Confidentiality = c
	}
	if d.BuildID == "" {
		d.BuildID = DefaultBuildID
	}
	if d.BuildIDNamespace == "" {
		d.BuildIDNamespace = DefaultBuildIDNamespace
	}
	if d.DocTitle == "" {
		d.DocTitle = d.Name
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
