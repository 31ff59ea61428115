// SPDX-License-Identifier: MPL-2.0

package signing

import (
	"errors"
	"fmt"
)

var (
	// ErrKey is returned when signing key material is missing or malformed.
	ErrKey = errors.New("invalid signing key")

	// ErrIntegrity is returned when signing preconditions are violated or a
	// signature does not verify.
	ErrIntegrity = errors.New("integrity check failed")
)

type (
	// KeyError describes a problem with a signing key or public identity.
	KeyError struct {
		Source string // file path or "<pem>"; empty for in-memory keys
		Reason string
		Err    error
	}

	// IntegrityError describes a signing precondition or verification failure.
	IntegrityError struct {
		Reason string
		Err    error
	}
)

func (e *KeyError) Error() string {
	msg := e.Reason
	if e.Source != "" {
		msg = fmt.Sprintf("%s: %s", e.Source, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return "signing key: " + msg
}

// Unwrap exposes both ErrKey and the underlying cause.
func (e *KeyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrKey}
	}
	return []error{ErrKey, e.Err}
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity: %s: %v", e.Reason, e.Err)
	}
	return "integrity: " + e.Reason
}

// Unwrap exposes both ErrIntegrity and the underlying cause.
func (e *IntegrityError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrIntegrity}
	}
	return []error{ErrIntegrity, e.Err}
}
