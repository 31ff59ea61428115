// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath is returned for resource or entry paths that are not
	// clean, relative, slash-separated paths inside the archive.
	ErrInvalidPath = errors.New("invalid archive path")

	// ErrLayoutConflict is returned when two archive entries would occupy
	// the same location.
	ErrLayoutConflict = errors.New("archive layout conflict")

	// ErrCollision is returned when the output file already exists and the
	// collision policy forbids replacing it.
	ErrCollision = errors.New("output archive already exists")

	// ErrUntrusted is returned when an archive fails installer-side checks.
	ErrUntrusted = errors.New("untrusted package")
)

type (
	// InvalidPathError names a rejected path.
	InvalidPathError struct {
		Path   string
		Reason string
	}

	// LayoutConflictError names two inputs that map to clashing archive entries.
	LayoutConflictError struct {
		Path   string
		Other  string
		Reason string
	}

	// CollisionError names the output file that already exists.
	CollisionError struct {
		Path string
	}

	// UntrustedError explains why an archive was rejected.
	UntrustedError struct {
		Archive string
		Reason  string
		Err     error
	}
)

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid archive path %q: %s", e.Path, e.Reason)
}

// Unwrap returns ErrInvalidPath for errors.Is() compatibility.
func (e *InvalidPathError) Unwrap() error { return ErrInvalidPath }

func (e *LayoutConflictError) Error() string {
	if e.Other == "" || e.Other == e.Path {
		return fmt.Sprintf("layout conflict at %q: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("layout conflict between %q and %q: %s", e.Path, e.Other, e.Reason)
}

// Unwrap returns ErrLayoutConflict for errors.Is() compatibility.
func (e *LayoutConflictError) Unwrap() error { return ErrLayoutConflict }

func (e *CollisionError) Error() string {
	return fmt.Sprintf("output archive %s already exists", e.Path)
}

// Unwrap returns ErrCollision for errors.Is() compatibility.
func (e *CollisionError) Unwrap() error { return ErrCollision }

func (e *UntrustedError) Error() string {
	msg := e.Reason
	if e.Archive != "" {
		msg = e.Archive + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return "untrusted package: " + msg
}

// Unwrap exposes ErrUntrusted and the underlying cause.
func (e *UntrustedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUntrusted}
	}
	return []error{ErrUntrusted, e.Err}
}
