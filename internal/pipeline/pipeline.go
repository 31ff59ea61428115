// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/simpkg/simpkg/pkg/apimatrix"
	"github.com/simpkg/simpkg/pkg/archive"
	"github.com/simpkg/simpkg/pkg/channel"
	"github.com/simpkg/simpkg/pkg/descriptor"
	"github.com/simpkg/simpkg/pkg/signing"
	"github.com/simpkg/simpkg/pkg/toolchain"
)

type (
	// Request is one (package, host API version) build.
	Request struct {
		// SourceDir is the working directory of the compiler.
		SourceDir string
		Metadata  descriptor.Metadata
		// Overrides are SIMPKG_PACKAGE_* entries applied over Metadata.
		Overrides map[string]string
		Mode      descriptor.Mode
		// HostAPIVersion is the target simulator host API version.
		HostAPIVersion string
		Compiler       toolchain.Compiler
		Key            *signing.Key
		Resources      []archive.Resource
		OutputDir      string
		Collision      archive.CollisionPolicy
		// Environ is the base environment handed to the compiler.
		Environ []string
		// Stdout and Stderr receive compiler output; nil discards it.
		Stdout io.Writer
		Stderr io.Writer
	}

	// Result describes a finished build.
	Result struct {
		// RunID correlates the log lines of one build.
		RunID      string
		Descriptor *descriptor.Descriptor
		HostAPI    apimatrix.Resolution
		Package    *archive.PackageArchive
		OutputPath string
		// Transitions lists every stage entered, StageDone last.
		Transitions []Stage
		Duration    time.Duration
	}

	// Builder runs builds against a shared, read-only version matrix.
	Builder struct {
		registry *apimatrix.Registry
		logger   *log.Logger
		jobs     int

		mu      sync.Mutex
		channel *channel.Index
		// pending holds descriptors that passed the channel check and
		// whose builds have not finished yet.
		pending []*descriptor.Descriptor

		// sources serializes compilation per source directory, since build
		// commands write their library into the tree.
		sources sync.Map // string -> *sync.Mutex
	}

	// Option configures a Builder.
	Option func(*Builder)
)

// WithLogger sets the logger. Builds log nothing by default.
func WithLogger(l *log.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithJobs bounds the number of concurrent builds in BuildAll. Zero or less
// means one per CPU.
func WithJobs(n int) Option {
	return func(b *Builder) { b.jobs = n }
}

// WithChannel checks every descriptor against a release channel index and
// records each successful build in it. Descriptors of builds still in flight
// count as released for the check, so concurrent builds cannot both claim a
// name or id. The index is updated in memory only.
func WithChannel(idx *channel.Index) Option {
	return func(b *Builder) { b.channel = idx }
}

// NewBuilder creates a Builder using registry for the matrix check.
func NewBuilder(registry *apimatrix.Registry, opts ...Option) *Builder {
	b := &Builder{registry: registry}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.New(io.Discard)
	}
	if b.jobs <= 0 {
		b.jobs = runtime.GOMAXPROCS(0)
	}
	return b
}

// run carries the state of one build between stages.
type run struct {
	req    Request
	logger *log.Logger
	res    *Result

	artifact toolchain.Artifact
	block    *signing.Block
	// release ends the channel reservation taken in the resolving stage.
	release func(succeeded bool)
}

// Build runs req through every stage. On failure it returns the partial
// Result (its Transitions end at the failed stage) and a *BuildError.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	id := uuid.NewString()
	r := &run{
		req:    req,
		logger: b.logger.With("run", id[:8], "target", req.HostAPIVersion),
		res:    &Result{RunID: id},
	}

	steps := []struct {
		stage Stage
		fn    func(context.Context, *run) error
	}{
		{StageResolving, b.resolve},
		{StageMatrixCheck, b.matrixCheck},
		{StageCompiling, b.compile},
		{StageSigning, b.sign},
		{StageAssembling, b.assemble},
	}
	for _, step := range steps {
		r.res.Transitions = append(r.res.Transitions, step.stage)
		r.logger.Debug("entering stage", "stage", step.stage)
		err := ctx.Err()
		if err == nil {
			err = step.fn(ctx, r)
		}
		if err != nil {
			if r.release != nil {
				r.release(false)
			}
			r.res.Duration = time.Since(start)
			r.logger.Error("build failed", "stage", step.stage, "err", err)
			return r.res, &BuildError{Stage: step.stage, HostAPIVersion: req.HostAPIVersion, Cause: err}
		}
	}

	r.res.Transitions = append(r.res.Transitions, StageDone)
	r.res.Duration = time.Since(start)
	if r.release != nil {
		r.release(true)
	}
	r.logger.Info("package written",
		"path", r.res.OutputPath,
		"host_api", r.res.HostAPI.Entry.Version,
		"duration", r.res.Duration.Round(time.Millisecond))
	return r.res, nil
}

func (b *Builder) resolve(_ context.Context, r *run) error {
	d, err := descriptor.Resolve(r.req.Metadata, r.req.Overrides, r.req.Mode)
	if err != nil {
		return err
	}
	if b.channel != nil {
		release, err := b.reserve(d)
		if err != nil {
			return err
		}
		r.release = release
	}
	r.res.Descriptor = d
	r.logger.Debug("descriptor resolved", "name", d.Name, "version", d.Version, "host", d.HostTriple)
	return nil
}

func (b *Builder) matrixCheck(_ context.Context, r *run) error {
	if b.registry == nil {
		return errors.New("no version matrix configured")
	}
	res, err := b.registry.Resolve(r.req.HostAPIVersion)
	if err != nil {
		return err
	}
	if res.Warning != "" {
		r.logger.Warn(res.Warning, "requested", res.Requested, "using", res.Entry.Version)
	} else if !res.Exact {
		r.logger.Info("using forward-compatible host API", "requested", res.Requested, "using", res.Entry.Version)
	}
	r.res.HostAPI = res
	return nil
}

func (b *Builder) compile(ctx context.Context, r *run) error {
	if r.req.Compiler == nil {
		return &toolchain.CompileError{Reason: "no compiler or prebuilt artifact configured"}
	}
	unlock := b.lockSource(r.req.SourceDir)
	defer unlock()

	art, err := r.req.Compiler.Compile(ctx, toolchain.Request{
		SourceDir:  r.req.SourceDir,
		Descriptor: r.res.Descriptor,
		HostAPI:    r.res.HostAPI.Entry,
		Environ:    r.req.Environ,
		Stdout:     r.req.Stdout,
		Stderr:     r.req.Stderr,
	})
	if err != nil {
		return err
	}
	r.artifact = art
	r.logger.Debug("artifact ready", "name", art.Name, "size", len(art.Data))
	return nil
}

func (b *Builder) sign(_ context.Context, r *run) error {
	block, err := signing.Sign(r.artifact.Data, r.res.Descriptor, r.req.Key)
	if err != nil {
		return err
	}
	r.block = block
	r.logger.Debug("artifact signed", "algorithm", block.Algorithm, "digest", block.Digest)
	return nil
}

func (b *Builder) assemble(ctx context.Context, r *run) error {
	hostAPI := archive.HostAPI{
		Version:  r.res.HostAPI.Entry.Version,
		Features: r.res.HostAPI.Entry.FeatureFlags,
	}
	if !r.res.HostAPI.Exact {
		hostAPI.Requested = r.res.HostAPI.Requested
	}
	pkg, err := archive.Assemble(archive.Input{
		Descriptor:   r.res.Descriptor,
		HostAPI:      hostAPI,
		ArtifactName: r.artifact.Name,
		Artifact:     r.artifact.Data,
		Signature:    r.block,
		Resources:    r.req.Resources,
	})
	if err != nil {
		return err
	}

	out := filepath.Join(r.req.OutputDir, archive.OutputName(r.res.Descriptor, r.req.HostAPIVersion))
	if err := archive.Write(ctx, pkg, out, r.req.Collision); err != nil {
		return err
	}
	r.res.Package = pkg
	r.res.OutputPath = out
	return nil
}

// reserve checks d against the channel index and the builds still in
// flight, then holds d until the returned release is called. A successful
// build is recorded in the index.
func (b *Builder) reserve(d *descriptor.Descriptor) (func(succeeded bool), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	view := channel.Index{Releases: slices.Clone(b.channel.Releases)}
	for _, p := range b.pending {
		view.Releases = append(view.Releases, channel.Release{Name: p.Name, NumericID: p.NumericID, Version: p.Version})
	}
	if err := view.Check(d); err != nil {
		return nil, err
	}
	b.pending = append(b.pending, d)

	return func(succeeded bool) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.pending = slices.DeleteFunc(b.pending, func(p *descriptor.Descriptor) bool { return p == d })
		if !succeeded {
			return
		}
		if err := b.channel.Add(d); err != nil {
			b.logger.Warn("channel index not updated", "name", d.Name, "err", err)
		}
	}, nil
}

// lockSource takes the compile lock of a source directory.
func (b *Builder) lockSource(dir string) (unlock func()) {
	if dir == "" {
		return func() {}
	}
	v, _ := b.sources.LoadOrStore(filepath.Clean(dir), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// BuildAll runs independent builds concurrently, at most WithJobs at a time.
// Every request runs to completion regardless of the others; results are
// index-aligned with reqs and the returned error joins every *BuildError.
func (b *Builder) BuildAll(ctx context.Context, reqs []Request) ([]*Result, error) {
	results := make([]*Result, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(b.jobs)
	for i, req := range reqs {
		g.Go(func() error {
			results[i], errs[i] = b.Build(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}
