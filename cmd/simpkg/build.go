// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/simpkg/simpkg/internal/config"
	"github.com/simpkg/simpkg/internal/pipeline"
	"github.com/simpkg/simpkg/internal/source"
	"github.com/simpkg/simpkg/internal/watch"
	"github.com/simpkg/simpkg/pkg/archive"
	"github.com/simpkg/simpkg/pkg/channel"
	"github.com/simpkg/simpkg/pkg/descriptor"
	"github.com/simpkg/simpkg/pkg/signing"
	"github.com/simpkg/simpkg/pkg/toolchain"
)

type buildOptions struct {
	targets  []string
	artifact string
	watch    bool
}

func newBuildCommand(app *App) *cobra.Command {
	var opts buildOptions
	cmd := &cobra.Command{
		Use:   "build [dir]",
		Short: "Build signed package archives for one or more host API versions",
		Long: `Build resolves the package descriptor from simpkg.toml or simpkg.cue plus
SIMPKG_PACKAGE_* environment overrides, checks every --target against the
version matrix, compiles the module, signs it and writes one archive per
target into the output directory.

Without --target the newest registered host API version is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return app.runBuild(cmd.Context(), cmd.OutOrStdout(), dir, opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&opts.targets, "target", "t", nil, "target host API version (repeatable)")
	f.StringVar(&opts.artifact, "artifact", "", "use an already compiled library instead of running the build command")
	f.BoolVarP(&opts.watch, "watch", "w", false, "rebuild whenever the source tree changes")
	f.String("key", "", "PEM private key used for signing")
	f.StringP("out", "o", "", "output directory")
	f.Bool("strict", false, "reject unknown SIMPKG_PACKAGE_* overrides")
	f.String("on-collision", "", "when the archive exists: fail or overwrite")
	f.String("channel-index", "", "release channel index to check and update")
	f.String("matrix", "", "version matrix table (CUE) replacing the built-in one")
	f.IntP("jobs", "j", 0, "concurrent builds (0 = one per CPU)")
	return cmd
}

func (a *App) runBuild(ctx context.Context, stdout io.Writer, dir string, opts buildOptions) error {
	if err := a.buildOnce(ctx, stdout, dir, opts); err != nil && !opts.watch {
		return err
	}
	if !opts.watch {
		return nil
	}

	src, err := source.Load(dir)
	if err != nil {
		a.report(a.stderr, actionable(err, "load module source", dir))
		return &ExitError{Code: exitFailure}
	}
	// Rebuilds replace the archives of the previous round.
	a.cfg.OnCollision = config.CollisionOverwrite
	w, err := watch.New(watch.Config{
		Dir:    src.Dir,
		Ignore: watchIgnores(src, a.buildDescriptorHint(src), opts.artifact, a.cfg.OutputDir),
		Logger: a.logger,
		OnChange: func(ctx context.Context, changed []string) error {
			a.logger.Debug("rebuilding", "changed", len(changed))
			return a.buildOnce(ctx, stdout, dir, opts)
		},
	})
	if err != nil {
		return err
	}
	a.logger.Info("watching for changes", "dir", src.Dir)
	return w.Run(ctx)
}

// buildOnce performs one build round for every target.
func (a *App) buildOnce(ctx context.Context, stdout io.Writer, dir string, opts buildOptions) error {
	reqs, builder, idx, err := a.prepareBuild(dir, opts)
	if err != nil {
		a.report(a.stderr, actionable(err, "prepare build", dir))
		return &ExitError{Code: exitFailure}
	}

	results, buildErr := builder.BuildAll(ctx, reqs)
	for _, res := range results {
		if res == nil || res.OutputPath == "" {
			continue
		}
		fmt.Fprintf(stdout, "%s %s\n", SuccessStyle.Render("✓"), res.OutputPath)
	}

	if idx != nil && len(idx.Releases) > 0 {
		if err := idx.Save(a.cfg.ChannelIndex); err != nil {
			a.report(a.stderr, actionable(err, "update channel index", a.cfg.ChannelIndex))
			return &ExitError{Code: exitFailure}
		}
	}
	if buildErr != nil {
		a.reportBuildErrors(a.stderr, buildErr)
		return &ExitError{Code: exitFailure}
	}
	return nil
}

// prepareBuild loads everything shared by the build round: source metadata,
// resources, signing key, compiler, matrix and channel index.
func (a *App) prepareBuild(dir string, opts buildOptions) ([]pipeline.Request, *pipeline.Builder, *channel.Index, error) {
	src, err := source.Load(dir)
	if err != nil {
		return nil, nil, nil, err
	}
	meta := a.defaultMetadata(src)
	resources, err := src.ReadResources()
	if err != nil {
		return nil, nil, nil, err
	}

	if a.cfg.KeyFile == "" {
		return nil, nil, nil, &signing.KeyError{Reason: "no signing key configured; pass --key or set key_file"}
	}
	key, err := signing.LoadKeyFile(a.cfg.KeyFile)
	if err != nil {
		return nil, nil, nil, err
	}

	compiler, err := compilerFor(src, opts.artifact)
	if err != nil {
		return nil, nil, nil, err
	}
	collision, err := archive.ParseCollisionPolicy(string(a.cfg.OnCollision))
	if err != nil {
		return nil, nil, nil, err
	}
	reg, err := a.registry()
	if err != nil {
		return nil, nil, nil, err
	}

	builderOpts := []pipeline.Option{pipeline.WithLogger(a.logger), pipeline.WithJobs(a.cfg.Jobs)}
	var idx *channel.Index
	if a.cfg.ChannelIndex != "" {
		idx, err = channel.Load(a.cfg.ChannelIndex)
		if err != nil {
			return nil, nil, nil, err
		}
		builderOpts = append(builderOpts, pipeline.WithChannel(idx))
	}

	targets := opts.targets
	if len(targets) == 0 {
		newest := reg.Newest().Version
		a.logger.Info("no --target given, using newest host API", "version", newest)
		targets = []string{newest}
	}

	mode := descriptor.ModeLenient
	if a.cfg.Strict {
		mode = descriptor.ModeStrict
	}
	var compilerOut io.Writer = io.Discard
	if a.verbose() {
		compilerOut = a.stderr
	}

	reqs := make([]pipeline.Request, 0, len(targets))
	for _, target := range targets {
		reqs = append(reqs, pipeline.Request{
			SourceDir:      src.Dir,
			Metadata:       meta,
			Overrides:      descriptor.OverridesFromEnviron(a.Environ),
			Mode:           mode,
			HostAPIVersion: target,
			Compiler:       compiler,
			Key:            key,
			Resources:      resources,
			OutputDir:      a.cfg.OutputDir,
			Collision:      collision,
			Environ:        a.Environ,
			Stdout:         compilerOut,
			Stderr:         compilerOut,
		})
	}
	return reqs, pipeline.NewBuilder(reg, builderOpts...), idx, nil
}

// defaultMetadata fills the metadata fields that have environment-derived
// defaults: the build id from git and the host triple from the running
// machine.
func (a *App) defaultMetadata(src *source.Source) descriptor.Metadata {
	meta := src.Metadata
	if meta.BuildID == "" {
		rev, err := source.GitRevision(src.Dir)
		if err != nil {
			a.logger.Warn("cannot read git revision", "err", err)
		} else if rev != "" {
			meta.BuildID = rev
		}
	}
	if meta.HostTriple == "" {
		meta.HostTriple = toolchain.NativeHostTriple()
	}
	return meta
}

// buildDescriptorHint returns the metadata a build would resolve, used to
// predict the library file name. Override errors are left to the build.
func (a *App) buildDescriptorHint(src *source.Source) descriptor.Metadata {
	meta := a.defaultMetadata(src)
	d, err := descriptor.Resolve(meta, descriptor.OverridesFromEnviron(a.Environ), descriptor.ModeLenient)
	if err != nil {
		return meta
	}
	meta.Name, meta.HostTriple = d.Name, d.HostTriple
	return meta
}

// watchIgnores lists the paths a build writes inside the source tree: the
// output directory and the library produced by the build command. Events for them must not
// trigger another rebuild.
func watchIgnores(src *source.Source, meta descriptor.Metadata, artifactFlag, outputDir string) []string {
	var ignore []string
	inTree := func(p string) (string, bool) {
		rel, err := filepath.Rel(src.Dir, p)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", false
		}
		return escapeGlob(filepath.ToSlash(rel)), true
	}

	if rel, ok := inTree(absPath(outputDir)); ok {
		ignore = append(ignore, rel, rel+"/**")
	}

	// Only the build command writes a library; prebuilt ones stay watched.
	if artifactFlag == "" && src.Build.Command != "" {
		artifact := filepath.FromSlash(src.Build.Artifact)
		if artifact == "" {
			artifact = toolchain.LibraryFileName(meta.Name, meta.HostTriple)
		}
		if !filepath.IsAbs(artifact) {
			artifact = filepath.Join(src.Dir, artifact)
		}
		if rel, ok := inTree(artifact); ok {
			ignore = append(ignore, rel)
		}
	}
	return ignore
}

// escapeGlob quotes doublestar metacharacters so p matches only itself.
func escapeGlob(p string) string {
	var b strings.Builder
	for _, r := range p {
		if strings.ContainsRune(`*?[]{}\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func compilerFor(src *source.Source, artifact string) (toolchain.Compiler, error) {
	switch {
	case artifact != "":
		return toolchain.Prebuilt{Path: absPath(artifact)}, nil
	case src.Build.Command != "":
		return toolchain.Shell{Command: src.Build.Command, Artifact: src.Build.Artifact}, nil
	case src.Build.Artifact != "":
		return toolchain.Prebuilt{Path: src.Build.Artifact}, nil
	default:
		return nil, &toolchain.CompileError{Reason: "nothing to package: set build.command or build.artifact, or pass --artifact"}
	}
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
