// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrInvalidDocument is the sentinel wrapped by every *ValidationError.
var ErrInvalidDocument = errors.New("invalid CUE document")

// ValidationError reports one or more problems in a user document. Issues
// holds one "path: message" line per CUE error.
type ValidationError struct {
	FilePath string
	Issues   []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch len(e.Issues) {
	case 0:
		return e.FilePath + ": invalid document"
	case 1:
		return fmt.Sprintf("%s: %s", e.FilePath, e.Issues[0])
	default:
		return fmt.Sprintf("%s: validation failed:\n  %s", e.FilePath, strings.Join(e.Issues, "\n  "))
	}
}

// Unwrap returns ErrInvalidDocument.
func (e *ValidationError) Unwrap() error { return ErrInvalidDocument }

// FormatError turns a CUE error into a *ValidationError whose issues are
// prefixed with JSON-style paths such as "entries[3].version".
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}

	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return &ValidationError{FilePath: filePath, Issues: []string{err.Error()}}
	}

	issues := make([]string, 0, len(list))
	for _, e := range list {
		path := formatPath(e.Path())
		msg := e.Error()
		if path != "" {
			// CUE sometimes repeats the dotted path at the front of the message.
			dotted := strings.Join(e.Path(), ".")
			msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, dotted), ":"))
			msg = path + ": " + msg
		}
		issues = append(issues, msg)
	}
	return &ValidationError{FilePath: filePath, Issues: issues}
}

// formatPath renders ["entries", "3", "version"] as "entries[3].version".
func formatPath(path []string) string {
	var b strings.Builder
	for i, part := range path {
		if i > 0 && isIndex(part) {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CheckFileSize fails when data is larger than maxSize.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", filename, len(data), maxSize)
	}
	return nil
}
