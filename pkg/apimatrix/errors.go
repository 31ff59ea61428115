// SPDX-License-Identifier: MPL-2.0

package apimatrix

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedVersion is returned when a requested host API version
	// cannot be mapped onto a registered entry.
	ErrUnsupportedVersion = errors.New("unsupported host API version")

	// ErrInvalidTable is returned by New for malformed tables.
	ErrInvalidTable = errors.New("invalid host API matrix")
)

type (
	// UnsupportedVersionError names the requested version and why it was refused.
	UnsupportedVersionError struct {
		Requested string
		Reason    string
	}

	// TableError identifies the table row New rejected. Index is -1 for
	// problems with the table as a whole.
	TableError struct {
		Index   int
		Version string
		Reason  string
	}
)

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("host API version %q is not supported: %s", e.Requested, e.Reason)
}

// Unwrap returns ErrUnsupportedVersion for errors.Is() compatibility.
func (e *UnsupportedVersionError) Unwrap() error { return ErrUnsupportedVersion }

func (e *TableError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("host API matrix: %s", e.Reason)
	}
	return fmt.Sprintf("host API matrix entry %d (%s): %s", e.Index, e.Version, e.Reason)
}

// Unwrap returns ErrInvalidTable for errors.Is() compatibility.
func (e *TableError) Unwrap() error { return ErrInvalidTable }
