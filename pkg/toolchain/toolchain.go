// SPDX-License-Identifier: MPL-2.0

// Package toolchain is the boundary to the compiler that produces module
// libraries. simpkg never compiles code itself; it either picks up a library
// that was already built or runs the build command declared by the source.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/simpkg/simpkg/pkg/apimatrix"
	"github.com/simpkg/simpkg/pkg/descriptor"
)

// MaxArtifactSize bounds the size of a module library read into memory.
const MaxArtifactSize = 512 << 20

// Environment variables exported to build commands.
const (
	EnvHostAPIVersion  = "SIMPKG_HOST_API_VERSION"
	EnvHostAPIFeatures = "SIMPKG_HOST_API_FEATURES"
	EnvCfgFlags        = "SIMPKG_CFG_FLAGS"
	EnvHostTriple      = "SIMPKG_HOST_TRIPLE"
)

// ErrCompile is wrapped by every *CompileError.
var ErrCompile = errors.New("module compilation failed")

type (
	// Request describes one compilation.
	Request struct {
		// SourceDir is the working directory of the build.
		SourceDir  string
		Descriptor *descriptor.Descriptor
		HostAPI    apimatrix.Entry
		// Environ is the base environment in os.Environ() form.
		Environ []string
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// Artifact is a compiled module library. Data is a private copy; the
	// file at Path is never modified.
	Artifact struct {
		Name string
		Path string
		Data []byte
	}

	// Compiler produces an Artifact for a Request.
	Compiler interface {
		Compile(ctx context.Context, req Request) (Artifact, error)
	}

	// CompileError reports a failed build command or unusable artifact.
	CompileError struct {
		Command  string
		ExitCode int
		Reason   string
		Err      error
	}
)

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString(e.Reason)
	if e.Command != "" {
		fmt.Fprintf(&b, " (command %q", e.Command)
		if e.ExitCode != 0 {
			fmt.Fprintf(&b, ", exit status %d", e.ExitCode)
		}
		b.WriteByte(')')
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes ErrCompile and the underlying cause.
func (e *CompileError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCompile}
	}
	return []error{ErrCompile, e.Err}
}

// BuildEnv returns the variables exported to a build command targeting entry
// on host triple.
func BuildEnv(entry apimatrix.Entry, hostTriple string) []string {
	cfg := make([]string, 0, len(entry.Defines()))
	for _, d := range entry.Defines() {
		cfg = append(cfg, "--cfg "+d)
	}
	return []string{
		EnvHostAPIVersion + "=" + entry.Version,
		EnvHostAPIFeatures + "=" + strings.Join(entry.FeatureFlags, ","),
		EnvCfgFlags + "=" + strings.Join(cfg, " "),
		EnvHostTriple + "=" + hostTriple,
	}
}

// LibraryFileName returns the platform file name of a module library:
// lib<name>.so, lib<name>.dylib on Apple targets and <name>.dll on Windows.
// Dashes in name become underscores, as compilers emit them.
func LibraryFileName(name, hostTriple string) string {
	base := strings.ReplaceAll(name, "-", "_")
	switch {
	case strings.Contains(hostTriple, "windows"):
		return base + ".dll"
	case strings.Contains(hostTriple, "apple") || strings.Contains(hostTriple, "darwin"):
		return "lib" + base + ".dylib"
	default:
		return "lib" + base + ".so"
	}
}

// readArtifact loads a library file without modifying it.
func readArtifact(path, name string) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, &CompileError{Reason: "artifact not found", Err: err}
	}
	if !info.Mode().IsRegular() {
		return Artifact{}, &CompileError{Reason: fmt.Sprintf("artifact %s is not a regular file", path)}
	}
	if info.Size() == 0 {
		return Artifact{}, &CompileError{Reason: fmt.Sprintf("artifact %s is empty", path)}
	}
	if info.Size() > MaxArtifactSize {
		return Artifact{}, &CompileError{Reason: fmt.Sprintf("artifact %s is %d bytes, above the %d byte limit", path, info.Size(), MaxArtifactSize)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, &CompileError{Reason: "read artifact", Err: err}
	}
	return Artifact{Name: name, Path: path, Data: data}, nil
}

// NativeHostTriple returns the target triple of the machine simpkg runs on.
// It is the default host triple when the metadata does not name one.
func NativeHostTriple() string {
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	case "386":
		arch = "i686"
	}
	switch runtime.GOOS {
	case "darwin":
		return arch + "-apple-darwin"
	case "windows":
		return arch + "-pc-windows-msvc"
	default:
		return arch + "-unknown-" + runtime.GOOS + "-gnu"
	}
}
