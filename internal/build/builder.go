// Package build orchestrates contract builds: it reads a package manifest,
// plans the compile, zk-compile and link steps, runs them with sibling
// cancellation, and publishes the outputs atomically.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"

	"github.com/papapumpkin/pbcbuild/internal/artifact"
	"github.com/papapumpkin/pbcbuild/internal/link"
	"github.com/papapumpkin/pbcbuild/internal/manifest"
	"github.com/papapumpkin/pbcbuild/internal/telemetry"
	"github.com/papapumpkin/pbcbuild/internal/toolchain"
	"github.com/papapumpkin/pbcbuild/internal/zkc"
)

// Options selects what a build produces.
type Options struct {
	Mode              toolchain.Mode
	Features          []string
	NoDefaultFeatures bool
	// OutDir overrides the output directory. Empty means DefaultOutDir.
	OutDir string
	// Jobs bounds concurrent package builds in BuildAll. Zero means GOMAXPROCS.
	Jobs int
}

// Result is the outcome of building one package.
type Result struct {
	Package string
	Dir     string
	OutDir  string
	// Outputs are the published file paths, in publish order.
	Outputs   []string
	Artifacts []*artifact.Artifact
	Duration  time.Duration
	Err       error
}

// StepEvent reports a step starting or finishing.
type StepEvent struct {
	Package  string
	Step     Step
	Done     bool
	Duration time.Duration
	Err      error
}

// ProgressFunc receives step events. It may be called from several
// goroutines at once.
type ProgressFunc func(StepEvent)

// Builder runs package builds. A Builder is safe for concurrent use; the
// compilers it holds must be too.
type Builder struct {
	Compiler    toolchain.Compiler
	ZkCompiler  zkc.Compiler
	Compression link.Compression
	Logger      io.Writer // nil = os.Stderr
	Verbose     bool
	Telemetry   *telemetry.Emitter
	Progress    ProgressFunc
}

// Option configures a Builder.
type Option func(*Builder)

// WithCompiler sets the contract compiler.
func WithCompiler(c toolchain.Compiler) Option {
	return func(b *Builder) { b.Compiler = c }
}

// WithZkCompiler sets the ZK computation compiler.
func WithZkCompiler(c zkc.Compiler) Option {
	return func(b *Builder) { b.ZkCompiler = c }
}

// WithCompression sets how linked package sections are stored.
func WithCompression(c link.Compression) Option {
	return func(b *Builder) { b.Compression = c }
}

// WithLogger sets the verbose log destination.
func WithLogger(w io.Writer, verbose bool) Option {
	return func(b *Builder) { b.Logger, b.Verbose = w, verbose }
}

// WithTelemetry records build events to em.
func WithTelemetry(em *telemetry.Emitter) Option {
	return func(b *Builder) { b.Telemetry = em }
}

// WithProgress sets the step event callback.
func WithProgress(fn ProgressFunc) Option {
	return func(b *Builder) { b.Progress = fn }
}

// New returns a Builder configured by opts.
func New(opts ...Option) *Builder {
	b := &Builder{Compression: link.CompressionNone}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Builder) logger() io.Writer {
	if b.Logger != nil {
		return b.Logger
	}
	return os.Stderr
}

func (b *Builder) logf(format string, args ...any) {
	if b.Verbose {
		fmt.Fprintf(b.logger(), "[build] "+format+"\n", args...)
	}
}

// DefaultOutDir is where a package's outputs go unless overridden:
// <pkg>/target/wasm32-unknown-unknown/<mode>.
func DefaultOutDir(m *manifest.Manifest, mode toolchain.Mode) string {
	return filepath.Join(m.Dir, "target", toolchain.DefaultTriple, string(mode))
}

// scratchDir holds compiler intermediates, kept apart from the output
// directory so a failed build never leaves files there.
func scratchDir(m *manifest.Manifest) string {
	return filepath.Join(m.Dir, "target", "pbcbuild")
}

// outputs collects what the steps of one build produced. Each step writes
// only its own field; errgroup.Wait orders those writes before any read.
type outputs struct {
	contract *artifact.Artifact
	zk       *artifact.Artifact
	final    *artifact.Artifact
}

// Build builds the package in dir. The manifest is validated before any
// compiler runs. On failure nothing is written to the output directory
// and the error is a *StageError.
func (b *Builder) Build(ctx context.Context, dir string, opts Options) (*Result, error) {
	start := time.Now()
	buildID := telemetry.NewBuildID()
	res := &Result{Package: filepath.Base(dir), Dir: dir}
	if opts.Mode == "" {
		opts.Mode = toolchain.ModeDebug
	}

	b.Telemetry.Record(telemetry.KindBuildStart, buildID, res.Package, "", map[string]any{
		"dir": dir, "mode": opts.Mode, "features": opts.Features,
	})
	err := b.build(ctx, buildID, res, opts)
	res.Duration = time.Since(start)
	res.Err = err

	done := map[string]any{"duration_ms": res.Duration.Milliseconds(), "outputs": res.Outputs}
	if err != nil {
		done["error"] = err.Error()
		done["stage"] = stageOf(err)
	}
	b.Telemetry.Record(telemetry.KindBuildDone, buildID, res.Package, "", done)
	if err != nil {
		return res, err
	}
	return res, nil
}

func (b *Builder) build(ctx context.Context, buildID string, res *Result, opts Options) error {
	m, err := manifest.LoadAndValidate(res.Dir)
	if err != nil {
		return &StageError{Stage: StageManifest, Package: res.Package, Err: err}
	}
	res.Package = m.Package.Name

	target := toolchain.Target{
		Manifest:          m,
		Mode:              opts.Mode,
		Features:          opts.Features,
		NoDefaultFeatures: opts.NoDefaultFeatures,
		Dir:               scratchDir(m),
	}
	// Reject bad feature sets before starting any compiler or fetch.
	if _, err := toolchain.Resolve(target); err != nil {
		return &StageError{Stage: StageCompile, Package: m.Package.Name, Err: err}
	}

	plan, err := NewPlan(m)
	if err != nil {
		return &StageError{Stage: StageManifest, Package: m.Package.Name, Err: err}
	}
	waves, err := plan.Waves()
	if err != nil {
		return &StageError{Stage: StageManifest, Package: m.Package.Name, Err: err}
	}
	if b.Compiler == nil {
		return &StageError{Stage: StageCompile, Package: m.Package.Name, Err: errors.New("no contract compiler configured")}
	}
	if plan.HasZk && b.ZkCompiler == nil {
		return &StageError{Stage: StageZkCompile, Package: m.Package.Name, Err: errors.New("no zk compiler configured")}
	}

	out := &outputs{}
	for i, wave := range waves {
		b.logf("%s: wave %d: %v", m.Package.Name, i+1, wave)
		g, gctx := errgroup.WithContext(ctx)
		for _, step := range wave {
			g.Go(func() error {
				return b.runStep(gctx, buildID, step, m, target, out)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	res.OutDir = opts.OutDir
	if res.OutDir == "" {
		res.OutDir = DefaultOutDir(m, opts.Mode)
	}
	files := publishSet(out)
	res.Artifacts = files

	toWrite := make([]artifact.File, 0, len(files)+1)
	for _, a := range files {
		toWrite = append(toWrite, artifact.File{Name: a.FileName(), Data: a.Data})
	}
	if out.contract.ABI != nil {
		toWrite = append(toWrite, artifact.File{
			Name: out.contract.Name + "." + string(artifact.KindABI),
			Data: out.contract.ABI,
		})
	}
	// Outputs of an earlier build with other features or without ZK must
	// not linger next to this one.
	paths, err := artifact.WriteAll(res.OutDir, toWrite, artifact.OutputNames(m.CrateName())...)
	if err != nil {
		return &StageError{Stage: StagePublish, Package: m.Package.Name, Err: err}
	}
	res.Outputs = paths
	return nil
}

// publishSet lists the artifacts a finished build publishes: the contract
// module alone, or the contract, ZK bytecode and linked package.
func publishSet(out *outputs) []*artifact.Artifact {
	if out.zk == nil {
		return []*artifact.Artifact{out.final}
	}
	return []*artifact.Artifact{out.contract, out.zk, out.final}
}

func (b *Builder) runStep(ctx context.Context, buildID string, step Step, m *manifest.Manifest, target toolchain.Target, out *outputs) error {
	pkg := m.Package.Name
	start := time.Now()
	b.Telemetry.Record(telemetry.KindStepStart, buildID, pkg, string(step), nil)
	b.progress(StepEvent{Package: pkg, Step: step})

	err := b.execStep(ctx, step, m, target, out)
	if err != nil {
		err = &StageError{Stage: step.Stage(), Package: pkg, Err: err}
	}

	d := time.Since(start)
	data := map[string]any{"duration_ms": d.Milliseconds()}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Telemetry.Record(telemetry.KindStepDone, buildID, pkg, string(step), data)
	b.progress(StepEvent{Package: pkg, Step: step, Done: true, Duration: d, Err: err})
	return err
}

func (b *Builder) execStep(ctx context.Context, step Step, m *manifest.Manifest, target toolchain.Target, out *outputs) error {
	var err error
	switch step {
	case StepCompile:
		out.contract, err = b.Compiler.Compile(ctx, target)
	case StepZkCompile:
		out.zk, err = b.ZkCompiler.Compile(ctx, zkc.Job{
			Package:  m.Package.Name,
			Name:     m.CrateName(),
			Source:   m.ZkComputePath(),
			Compiler: m.Compiler(),
			Dir:      filepath.Join(target.Dir, "zk", string(target.Mode)),
		})
	case StepLink:
		out.final, err = link.Link(out.contract, out.zk, link.Options{Compression: b.Compression})
	case StepPlace:
		out.final, err = link.Link(out.contract, nil, link.Options{})
	default:
		err = fmt.Errorf("unknown step %q", step)
	}
	return err
}

func (b *Builder) progress(e StepEvent) {
	if b.Progress != nil {
		b.Progress(e)
	}
}

// BuildAll builds every package in dirs on a pool of at most opts.Jobs
// workers. A failing package does not stop the others. Results are
// returned in the order of dirs.
func (b *Builder) BuildAll(ctx context.Context, dirs []string, opts Options) []*Result {
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	results := make([]*Result, len(dirs))
	p := pool.New().WithMaxGoroutines(jobs)
	for i, dir := range dirs {
		p.Go(func() {
			results[i], _ = b.Build(ctx, dir, opts)
		})
	}
	p.Wait()
	return results
}

// Failed returns the results that carry an error.
func Failed(results []*Result) []*Result {
	var failed []*Result
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
