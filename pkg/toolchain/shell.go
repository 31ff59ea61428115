// SPDX-License-Identifier: MPL-2.0

package toolchain

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Shell runs a build command through an embedded POSIX shell interpreter, so
// builds behave the same on every platform simpkg runs on.
type Shell struct {
	Command string
	// Artifact is the library path the command produces, relative to the
	// source directory. When empty, LibraryFileName of the package name is
	// looked up in the source directory.
	Artifact string
}

// Compile implements Compiler.
func (s Shell) Compile(ctx context.Context, req Request) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if strings.TrimSpace(s.Command) == "" {
		return Artifact{}, &CompileError{Reason: "no build command configured"}
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(s.Command), "build")
	if err != nil {
		return Artifact{}, &CompileError{Command: s.Command, Reason: "cannot parse build command", Err: err}
	}

	env := append(append([]string(nil), req.Environ...), BuildEnv(req.HostAPI, req.Descriptor.HostTriple)...)
	stdout, stderr := req.Stdout, req.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	runner, err := interp.New(
		interp.Dir(req.SourceDir),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, stdout, stderr),
	)
	if err != nil {
		return Artifact{}, &CompileError{Command: s.Command, Reason: "cannot start build shell", Err: err}
	}

	if err := runner.Run(ctx, prog); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Artifact{}, ctxErr
		}
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return Artifact{}, &CompileError{Command: s.Command, ExitCode: int(status), Reason: "build command failed"}
		}
		return Artifact{}, &CompileError{Command: s.Command, Reason: "build command failed", Err: err}
	}

	rel := s.Artifact
	if rel == "" {
		rel = LibraryFileName(req.Descriptor.Name, req.Descriptor.HostTriple)
	}
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(req.SourceDir, filepath.FromSlash(rel))
	}
	art, err := readArtifact(path, filepath.Base(path))
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			ce.Command = s.Command
		}
		return Artifact{}, err
	}
	return art, nil
}
