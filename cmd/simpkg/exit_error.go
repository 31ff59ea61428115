// SPDX-License-Identifier: MPL-2.0

package cmd

import "fmt"

// Exit codes.
const (
	exitFailure   = 1
	exitUntrusted = 2
)

// ExitError carries a process exit code out of a RunE handler. When Err is
// nil the command has already reported the failure itself.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error { return e.Err }
