// SPDX-License-Identifier: MPL-2.0

package descriptor

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// ConfidentialityPublic marks a package that may be distributed without restriction.
	ConfidentialityPublic Confidentiality = "Public"
	// ConfidentialityInternal marks a package limited to the producing organization.
	ConfidentialityInternal Confidentiality = "Internal"
	// ConfidentialityRestricted marks a package limited to named recipients.
	ConfidentialityRestricted Confidentiality = "Restricted"

	// DefaultBuildIDNamespace is used when neither metadata nor overrides name a namespace.
	DefaultBuildIDNamespace = "simpkg"
	// DefaultBuildID is used when neither metadata nor overrides carry a build id.
	DefaultBuildID = "0"

	// canonicalTag heads the canonical encoding. Bump it whenever the field list changes.
	canonicalTag = "simpkg.descriptor.v1"

	// Field names as reported by ValidationError.
	FieldName             = "name"
	FieldNumericID        = "numeric_id"
	FieldVersion          = "version"
	FieldBuildID          = "build_id"
	FieldBuildIDNamespace = "build_id_namespace"
	FieldConfidentiality  = "confidentiality"
	FieldHostTriple       = "host_triple"
	FieldDescription      = "description"
	FieldDocTitle         = "doc_title"
)

// ErrValidation is the sentinel error wrapped by ValidationError.
var ErrValidation = errors.New("invalid package descriptor")

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)

type (
	// Confidentiality is the distribution level of a package.
	Confidentiality string

	// ValidationError reports a descriptor field that failed validation.
	// It wraps ErrValidation for errors.Is() compatibility.
	ValidationError struct {
		Field  string
		Value  string
		Reason string
	}

	// Metadata is the base descriptor record as declared in the source tree.
	// Every field may still be replaced by an override before validation.
	Metadata struct {
		Name             string `json:"name" toml:"name"`
		NumericID        int64  `json:"numeric_id" toml:"numeric_id"`
		Version          string `json:"version" toml:"version"`
		BuildID          string `json:"build_id,omitempty" toml:"build_id,omitempty"`
		BuildIDNamespace string `json:"build_id_namespace,omitempty" toml:"build_id_namespace,omitempty"`
		Confidentiality  string `json:"confidentiality,omitempty" toml:"confidentiality,omitempty"`
		HostTriple       string `json:"host,omitempty" toml:"host,omitempty"`
		Description      string `json:"description,omitempty" toml:"description,omitempty"`
		DocTitle         string `json:"doc_title,omitempty" toml:"doc_title,omitempty"`
	}

	// Descriptor is the validated identity of one package build.
	// Field order here is also the order of the manifest JSON object.
	Descriptor struct {
		Name             string          `json:"name"`
		NumericID        int64           `json:"numeric_id"`
		Version          string          `json:"version"`
		BuildID          string          `json:"build_id"`
		BuildIDNamespace string          `json:"build_id_namespace"`
		Confidentiality  Confidentiality `json:"confidentiality"`
		HostTriple       string          `json:"host_triple"`
		Description      string          `json:"description,omitempty"`
		DocTitle         string          `json:"doc_title"`
	}
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Unwrap returns ErrValidation so callers can use errors.Is for programmatic detection.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// ParseConfidentiality maps a case-insensitive level name onto its canonical value.
func ParseConfidentiality(s string) (Confidentiality, error) {
	for _, c := range []Confidentiality{ConfidentialityPublic, ConfidentialityInternal, ConfidentialityRestricted} {
		if strings.EqualFold(strings.TrimSpace(s), string(c)) {
			return c, nil
		}
	}
	return "", &ValidationError{
		Field:  FieldConfidentiality,
		Value:  s,
		Reason: "must be one of Public, Internal, Restricted",
	}
}

// IsValid returns whether the Confidentiality is one of the canonical values,
// and a list of validation errors if it is not.
func (c Confidentiality) IsValid() (bool, []error) {
	switch c {
	case ConfidentialityPublic, ConfidentialityInternal, ConfidentialityRestricted:
		return true, nil
	}
	return false, []error{&ValidationError{
		Field:  FieldConfidentiality,
		Value:  string(c),
		Reason: "must be one of Public, Internal, Restricted",
	}}
}

// String returns the string representation of the Confidentiality.
func (c Confidentiality) String() string { return string(c) }

// Validate checks every field of the descriptor and returns the first
// violation as a *ValidationError.
func (d *Descriptor) Validate() error {
	if d == nil {
		return &ValidationError{Field: FieldName, Reason: "descriptor is missing"}
	}
	if !namePattern.MatchString(d.Name) {
		return &ValidationError{
			Field:  FieldName,
			Value:  d.Name,
			Reason: "must start with a letter and contain only letters, digits, '.', '_' or '-'",
		}
	}
	if d.NumericID <= 0 {
		return &ValidationError{
			Field:  FieldNumericID,
			Value:  strconv.FormatInt(d.NumericID, 10),
			Reason: "must be a positive integer",
		}
	}
	if err := validateVersion(d.Version); err != nil {
		return err
	}
	if strings.TrimSpace(d.BuildID) == "" {
		return &ValidationError{Field: FieldBuildID, Reason: "must not be empty"}
	}
	if strings.TrimSpace(d.BuildIDNamespace) == "" {
		return &ValidationError{Field: FieldBuildIDNamespace, Reason: "must not be empty"}
	}
	if ok, errs := d.Confidentiality.IsValid(); !ok {
		return errs[0]
	}
	if err := validateHostTriple(d.HostTriple); err != nil {
		return err
	}
	if strings.TrimSpace(d.DocTitle) == "" {
		return &ValidationError{Field: FieldDocTitle, Reason: "must not be empty"}
	}
	return nil
}

// Canonical returns the canonical byte encoding of the descriptor. Each field is
// written on its own line as "<field>:<byte length>:<value>" in a fixed order, so
// the encoding is unambiguous and independent of map iteration.
func (d *Descriptor) Canonical() []byte {
	var b strings.Builder
	b.WriteString(canonicalTag)
	b.WriteByte('\n')
	for _, f := range d.fields() {
		fmt.Fprintf(&b, "%s:%d:%s\n", f.name, len(f.value), f.value)
	}
	return []byte(b.String())
}

// Equal reports whether two descriptors have identical canonical encodings.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	return string(d.Canonical()) == string(other.Canonical())
}

type field struct {
	name  string
	value string
}

func (d *Descriptor) fields() []field {
	return []field{
		{FieldName, d.Name},
		{FieldNumericID, strconv.FormatInt(d.NumericID, 10)},
		{FieldVersion, d.Version},
		{FieldBuildID, d.BuildID},
		{FieldBuildIDNamespace, d.BuildIDNamespace},
		{FieldConfidentiality, string(d.Confidentiality)},
		{FieldHostTriple, d.HostTriple},
		{FieldDescription, d.Description},
		{FieldDocTitle, d.DocTitle},
	}
}

func validateHostTriple(triple string) error {
	parts := strings.Split(triple, "-")
	if len(parts) < 2 {
		return &ValidationError{
			Field:  FieldHostTriple,
			Value:  triple,
			Reason: "must be a target triple such as x86_64-unknown-linux-gnu",
		}
	}
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, " /\\") {
			return &ValidationError{
				Field:  FieldHostTriple,
				Value:  triple,
				Reason: "must be a target triple such as x86_64-unknown-linux-gnu",
			}
		}
	}
	return nil
}
