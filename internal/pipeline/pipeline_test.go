// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/simpkg/simpkg/pkg/apimatrix"
	"github.com/simpkg/simpkg/pkg/archive"
	"github.com/simpkg/simpkg/pkg/channel"
	"github.com/simpkg/simpkg/pkg/descriptor"
	"github.com/simpkg/simpkg/pkg/signing"
	"github.com/simpkg/simpkg/pkg/toolchain"
)

type stubCompiler struct {
	data []byte
	err  error

	mu    sync.Mutex
	calls []toolchain.Request
}

func (c *stubCompiler) Compile(_ context.Context, req toolchain.Request) (toolchain.Artifact, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	if c.err != nil {
		return toolchain.Artifact{}, c.err
	}
	return toolchain.Artifact{Name: "libdemo.so", Data: c.data}, nil
}

func testKey(t *testing.T) *signing.Key {
	t.Helper()
	seed := bytes.Repeat([]byte{7}, ed25519.SeedSize)
	key, err := signing.NewKey(ed25519.NewKeyFromSeed(seed))
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func testBuilder(t *testing.T, opts ...Option) *Builder {
	t.Helper()
	reg, err := apimatrix.Default()
	if err != nil {
		t.Fatal(err)
	}
	return NewBuilder(reg, opts...)
}

func testRequest(t *testing.T, target string) (Request, *stubCompiler) {
	t.Helper()
	c := &stubCompiler{data: bytes.Repeat([]byte{0x7f, 'E', 'L', 'F'}, 3*1024)}
	return Request{
		SourceDir: t.TempDir(),
		Metadata: descriptor.Metadata{
			Name:            "demo",
			NumericID:       1001,
			Version:         "1.0.0",
			Confidentiality: "Public",
			HostTriple:      "x86_64-unknown-linux-gnu",
		},
		HostAPIVersion: target,
		Compiler:       c,
		Key:            testKey(t),
		OutputDir:      t.TempDir(),
		Collision:      archive.CollisionFail,
	}, c
}

func assertNoOutput(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("output directory not empty: %v", names)
	}
}

func requireBuildError(t *testing.T, err error, stage Stage) *BuildError {
	t.Helper()
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v (%T), want *BuildError", err, err)
	}
	if be.Stage != stage {
		t.Errorf("Stage = %s, want %s (cause: %v)", be.Stage, stage, be.Cause)
	}
	if !errors.Is(err, ErrBuild) {
		t.Error("BuildError should wrap ErrBuild")
	}
	return be
}

func TestBuild_Success(t *testing.T) {
	t.Parallel()

	req, compiler := testRequest(t, "6.0.185")
	res, err := testBuilder(t).Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if !slices.Equal(res.Transitions, Stages()) {
		t.Errorf("Transitions = %v, want %v", res.Transitions, Stages())
	}
	want := filepath.Join(req.OutputDir, "demo-1.0.0-api6.0.185-x86_64-unknown-linux-gnu.spkg")
	if res.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", res.OutputPath, want)
	}
	if res.RunID == "" {
		t.Error("RunID is empty")
	}

	pkg, err := archive.VerifyFile(res.OutputPath, req.Key.Identity())
	if err != nil {
		t.Fatalf("VerifyFile() error = %v", err)
	}
	m, err := pkg.ParsedManifest()
	if err != nil {
		t.Fatal(err)
	}
	if m.FormatVersion != 1 {
		t.Errorf("format_version = %d, want 1", m.FormatVersion)
	}
	if len(m.Resources) != 1 || m.Resources[0].Size != 12*1024 {
		t.Errorf("Resources = %+v, want the artifact only", m.Resources)
	}
	if m.HostAPI.Version != "6.0.185" || m.HostAPI.Requested != "" {
		t.Errorf("HostAPI = %+v", m.HostAPI)
	}
	if m.Descriptor.DocTitle != "demo" || m.Descriptor.BuildID != descriptor.DefaultBuildID {
		t.Errorf("Descriptor defaults not applied: %+v", m.Descriptor)
	}

	if len(compiler.calls) != 1 {
		t.Fatalf("compiler called %d times", len(compiler.calls))
	}
	call := compiler.calls[0]
	if call.HostAPI.Version != "6.0.185" || !call.HostAPI.HasFeature("breakpoint_query") {
		t.Errorf("compiler HostAPI = %+v", call.HostAPI)
	}
	if call.SourceDir != req.SourceDir {
		t.Errorf("compiler SourceDir = %q", call.SourceDir)
	}
}

func TestBuild_UnsupportedVersion(t *testing.T) {
	t.Parallel()

	req, compiler := testRequest(t, "5.0.0")
	res, err := testBuilder(t).Build(context.Background(), req)
	requireBuildError(t, err, StageMatrixCheck)
	if !errors.Is(err, apimatrix.ErrUnsupportedVersion) {
		t.Errorf("error = %v, want ErrUnsupportedVersion", err)
	}
	if len(compiler.calls) != 0 {
		t.Error("compiler must not run after a failed matrix check")
	}
	if !slices.Equal(res.Transitions, []Stage{StageResolving, StageMatrixCheck}) {
		t.Errorf("Transitions = %v", res.Transitions)
	}
	assertNoOutput(t, req.OutputDir)
}

func TestBuild_LayoutConflict(t *testing.T) {
	t.Parallel()

	req, _ := testRequest(t, "6.0.185")
	req.Resources = []archive.Resource{
		{Path: "bin/mod.so", Data: []byte("a")},
		{Path: "bin/mod.so", Data: []byte("b")},
	}
	_, err := testBuilder(t).Build(context.Background(), req)
	requireBuildError(t, err, StageAssembling)
	var lce *archive.LayoutConflictError
	if !errors.As(err, &lce) {
		t.Errorf("error = %v, want *LayoutConflictError", err)
	}
	assertNoOutput(t, req.OutputDir)
}

func TestBuild_InvalidConfidentiality(t *testing.T) {
	t.Parallel()

	req, _ := testRequest(t, "6.0.185")
	req.Overrides = map[string]string{descriptor.OverrideConfidentiality: "Top-Secret"}
	_, err := testBuilder(t).Build(context.Background(), req)
	requireBuildError(t, err, StageResolving)
	var ve *descriptor.ValidationError
	if !errors.As(err, &ve) || ve.Field != descriptor.FieldConfidentiality {
		t.Errorf("error = %v, want ValidationError on confidentiality", err)
	}
	assertNoOutput(t, req.OutputDir)
}

func TestBuild_StageFailures(t *testing.T) {
	t.Parallel()

	compileErr := &toolchain.CompileError{Reason: "build command failed", ExitCode: 2}

	tests := []struct {
		name    string
		mutate  func(*Request)
		stage   Stage
		wantErr error
	}{
		{
			name: "strict unknown override",
			mutate: func(r *Request) {
				r.Mode = descriptor.ModeStrict
				r.Overrides = map[string]string{"SIMPKG_PACKAGE_VERSON": "2.0.0"}
			},
			stage:   StageResolving,
			wantErr: descriptor.ErrValidation,
		},
		{
			name:    "compiler fails",
			mutate:  func(r *Request) { r.Compiler = &stubCompiler{err: compileErr} },
			stage:   StageCompiling,
			wantErr: toolchain.ErrCompile,
		},
		{
			name:    "no compiler",
			mutate:  func(r *Request) { r.Compiler = nil },
			stage:   StageCompiling,
			wantErr: toolchain.ErrCompile,
		},
		{
			name:    "missing key",
			mutate:  func(r *Request) { r.Key = nil },
			stage:   StageSigning,
			wantErr: signing.ErrKey,
		},
		{
			name:    "empty artifact",
			mutate:  func(r *Request) { r.Compiler = &stubCompiler{data: []byte{}} },
			stage:   StageSigning,
			wantErr: signing.ErrIntegrity,
		},
		{
			name: "escaping resource",
			mutate: func(r *Request) {
				r.Resources = []archive.Resource{{Path: "../etc/passwd", Data: []byte("x")}}
			},
			stage:   StageAssembling,
			wantErr: archive.ErrInvalidPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, _ := testRequest(t, "6.0.185")
			tt.mutate(&req)
			_, err := testBuilder(t).Build(context.Background(), req)
			requireBuildError(t, err, tt.stage)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v in chain", err, tt.wantErr)
			}
			assertNoOutput(t, req.OutputDir)
		})
	}
}

func TestBuild_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := testRequest(t, "6.0.185")
	_, err := testBuilder(t).Build(ctx, req)
	requireBuildError(t, err, StageResolving)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	assertNoOutput(t, req.OutputDir)
}

func TestBuild_Collision(t *testing.T) {
	t.Parallel()

	b := testBuilder(t)
	req, _ := testRequest(t, "6.0.185")
	first, err := b.Build(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(first.OutputPath)
	if err != nil {
		t.Fatal(err)
	}

	_, err = b.Build(context.Background(), req)
	requireBuildError(t, err, StageAssembling)
	if !errors.Is(err, archive.ErrCollision) {
		t.Errorf("error = %v, want ErrCollision", err)
	}

	req.Collision = archive.CollisionOverwrite
	second, err := b.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build() with overwrite error = %v", err)
	}
	after, err := os.ReadFile(second.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("rebuilding identical inputs produced different archive bytes")
	}
}

func TestBuild_BeyondNewestWarns(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	b := testBuilder(t, WithLogger(log.New(&buf)))
	req, _ := testRequest(t, "9.1.0")
	res, err := b.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !res.HostAPI.Beyond {
		t.Error("Resolution.Beyond = false")
	}
	if !strings.Contains(buf.String(), "WARN") {
		t.Errorf("expected a warning in the log:\n%s", buf.String())
	}
	m, err := res.Package.ParsedManifest()
	if err != nil {
		t.Fatal(err)
	}
	if m.HostAPI.Requested != "9.1.0" || m.HostAPI.Version != res.HostAPI.Entry.Version {
		t.Errorf("HostAPI = %+v", m.HostAPI)
	}
	if filepath.Base(res.OutputPath) != "demo-1.0.0-api9.1.0-x86_64-unknown-linux-gnu.spkg" {
		t.Errorf("OutputPath = %q", res.OutputPath)
	}
}

func TestBuild_Channel(t *testing.T) {
	t.Parallel()

	idx := &channel.Index{Releases: []channel.Release{{Name: "other", NumericID: 1001, Version: "1.0.0"}}}
	req, _ := testRequest(t, "6.0.185")
	_, err := testBuilder(t, WithChannel(idx)).Build(context.Background(), req)
	requireBuildError(t, err, StageResolving)
	if !errors.Is(err, channel.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}

	idx = &channel.Index{}
	if _, err := testBuilder(t, WithChannel(idx)).Build(context.Background(), req); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []channel.Release{{Name: "demo", NumericID: 1001, Version: "1.0.0"}}
	if !slices.Equal(idx.Releases, want) {
		t.Errorf("Releases = %+v, want %+v", idx.Releases, want)
	}
}

func TestBuildAll(t *testing.T) {
	t.Parallel()

	idx := &channel.Index{}
	b := testBuilder(t, WithJobs(2), WithChannel(idx))
	out := t.TempDir()
	targets := []string{"6.0.163", "5.0.0", "6.0.185", "7.0.0"}
	reqs := make([]Request, len(targets))
	for i, target := range targets {
		reqs[i], _ = testRequest(t, target)
		reqs[i].OutputDir = out
	}

	results, err := b.BuildAll(context.Background(), reqs)
	if err == nil {
		t.Fatal("BuildAll() expected the 5.0.0 build to fail")
	}
	requireBuildError(t, err, StageMatrixCheck)
	if len(results) != len(reqs) {
		t.Fatalf("len(results) = %d", len(results))
	}
	for i, res := range results {
		if i == 1 {
			if res.OutputPath != "" {
				t.Errorf("failed build reported output %q", res.OutputPath)
			}
			continue
		}
		if _, err := archive.VerifyFile(res.OutputPath, reqs[i].Key.Identity()); err != nil {
			t.Errorf("target %s: VerifyFile() error = %v", targets[i], err)
		}
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("output has %d files, want 3", len(entries))
	}
	if len(idx.Releases) != 1 {
		t.Errorf("channel releases = %+v, want a single entry", idx.Releases)
	}
}

func TestStage_IsValid(t *testing.T) {
	t.Parallel()

	for _, s := range Stages() {
		if ok, _ := s.IsValid(); !ok {
			t.Errorf("%s.IsValid() = false", s)
		}
	}
	if ok, errs := Stage("failed").IsValid(); ok || len(errs) != 1 {
		t.Error("unknown stage should be invalid")
	}
}

func TestBuild_NonCanonicalTarget(t *testing.T) {
	t.Parallel()

	for _, target := range []string{"7", "7.0", "6.0.185+local"} {
		t.Run(target, func(t *testing.T) {
			t.Parallel()

			req, compiler := testRequest(t, target)
			_, err := testBuilder(t).Build(context.Background(), req)
			requireBuildError(t, err, StageMatrixCheck)
			if !errors.Is(err, apimatrix.ErrUnsupportedVersion) {
				t.Errorf("error = %v, want ErrUnsupportedVersion", err)
			}
			if len(compiler.calls) != 0 {
				t.Error("compiler must not run for a rejected target")
			}
			assertNoOutput(t, req.OutputDir)
		})
	}
}

func TestBuildAll_SharedSourceDirShellBuilds(t *testing.T) {
	t.Parallel()

	// Every build writes the same library path in the same tree; the loop
	// keeps the file written but not yet read for a while.
	shell := toolchain.Shell{
		Command:  `printf %s "$SIMPKG_HOST_API_VERSION" > libdemo.so; i=0; while [ "$i" -lt 300 ]; do i=$((i+1)); done`,
		Artifact: "libdemo.so",
	}
	src := t.TempDir()
	out := t.TempDir()
	targets := []string{"6.0.185", "7.38.0", "7.57.0"}

	for round := range 3 {
		reqs := make([]Request, len(targets))
		for i, target := range targets {
			reqs[i], _ = testRequest(t, target)
			reqs[i].SourceDir = src
			reqs[i].OutputDir = out
			reqs[i].Compiler = shell
			reqs[i].Collision = archive.CollisionOverwrite
		}

		results, err := testBuilder(t, WithJobs(len(targets))).BuildAll(context.Background(), reqs)
		if err != nil {
			t.Fatalf("round %d: BuildAll() error = %v", round, err)
		}
		for i, res := range results {
			if got := string(res.Package.Artifact); got != targets[i] {
				t.Errorf("round %d: archive for %s holds a library built for %q", round, targets[i], got)
			}
		}
	}
}

func TestBuildAll_ChannelConflictBetweenConcurrentBuilds(t *testing.T) {
	t.Parallel()

	idx := &channel.Index{}
	b := testBuilder(t, WithJobs(2), WithChannel(idx))
	out := t.TempDir()

	first, _ := testRequest(t, "6.0.185")
	second, _ := testRequest(t, "6.0.185")
	second.Metadata.Name = "other"
	first.OutputDir, second.OutputDir = out, out

	results, err := b.BuildAll(context.Background(), []Request{first, second})
	if !errors.Is(err, channel.ErrConflict) {
		t.Fatalf("BuildAll() error = %v, want ErrConflict", err)
	}
	requireBuildError(t, err, StageResolving)

	written := 0
	for _, res := range results {
		if res.OutputPath != "" {
			written++
		}
	}
	if written != 1 {
		t.Errorf("%d archives written, want exactly 1", written)
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("output has %d files, want 1", len(entries))
	}
	if len(idx.Releases) != 1 {
		t.Errorf("channel releases = %+v, want a single entry", idx.Releases)
	}
}
