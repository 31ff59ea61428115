// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"errors"
	"fmt"
)

// Build stages in execution order.
const (
	StageResolving   Stage = "resolving"
	StageMatrixCheck Stage = "matrix-check"
	StageCompiling   Stage = "compiling"
	StageSigning     Stage = "signing"
	StageAssembling  Stage = "assembling"
	StageDone        Stage = "done"
)

// ErrBuild is wrapped by every *BuildError.
var ErrBuild = errors.New("build failed")

type (
	// Stage is one step of a build.
	Stage string

	// BuildError is the terminal failure of a build: the stage that aborted
	// and the error it returned, unchanged.
	BuildError struct {
		Stage Stage
		// HostAPIVersion is the requested target of the failed build.
		HostAPIVersion string
		Cause          error
	}
)

// Stages returns the stages in execution order, StageDone last.
func Stages() []Stage {
	return []Stage{StageResolving, StageMatrixCheck, StageCompiling, StageSigning, StageAssembling, StageDone}
}

func (s Stage) String() string { return string(s) }

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() (bool, []error) {
	for _, known := range Stages() {
		if s == known {
			return true, nil
		}
	}
	return false, []error{fmt.Errorf("unknown build stage %q", string(s))}
}

func (e *BuildError) Error() string {
	if e.HostAPIVersion == "" {
		return fmt.Sprintf("build failed at stage %s: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("build for host API %s failed at stage %s: %v", e.HostAPIVersion, e.Stage, e.Cause)
}

// Unwrap exposes ErrBuild and the stage cause.
func (e *BuildError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrBuild}
	}
	return []error{ErrBuild, e.Cause}
}
