// Package toolchain compiles a contract's entry source to a bytecode module
// by driving the external language toolchain.
package toolchain

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/papapumpkin/pbcbuild/internal/artifact"
	"github.com/papapumpkin/pbcbuild/internal/features"
	"github.com/papapumpkin/pbcbuild/internal/manifest"
	"github.com/papapumpkin/pbcbuild/internal/process"
)

// DefaultTriple is the sandboxed instruction format contracts target.
const DefaultTriple = "wasm32-unknown-unknown"

// ABIFeature is the feature that makes the toolchain emit an ABI file.
const ABIFeature = "abi"

// Mode selects the optimization profile.
type Mode string

const (
	// ModeDebug validates and compiles without optimizing.
	ModeDebug Mode = "debug"
	// ModeRelease compiles with optimizations.
	ModeRelease Mode = "release"
)

// ParseMode maps the --release flag to a Mode.
func ParseMode(release bool) Mode {
	if release {
		return ModeRelease
	}
	return ModeDebug
}

// Target is one compilation request. It is created per build invocation
// and discarded once the artifact is emitted.
type Target struct {
	Manifest          *manifest.Manifest
	Mode              Mode
	Features          []string
	NoDefaultFeatures bool
	// Dir is the scratch directory the toolchain writes into.
	Dir string
}

// Compiler produces a contract artifact for a target.
type Compiler interface {
	Compile(ctx context.Context, t Target) (*artifact.Artifact, error)
}

// Resolve computes the feature set a target enables and rejects unknown
// features and enabled exclusive groups.
func Resolve(t Target) (features.Set, error) {
	m := t.Manifest
	g, err := m.FeatureGraph()
	if err != nil {
		return features.Set{}, &UnsupportedFeatureCombinationError{
			Package: m.Package.Name, Requested: t.Features, Err: err,
		}
	}
	set, err := g.Resolve(t.Features, !t.NoDefaultFeatures)
	if err != nil {
		return features.Set{}, &UnsupportedFeatureCombinationError{
			Package: m.Package.Name, Requested: t.Features, Err: err,
		}
	}
	if conflicts := features.Conflicts(set, m.Package.Metadata.Build.ExclusiveFeatures); len(conflicts) > 0 {
		return features.Set{}, &UnsupportedFeatureCombinationError{
			Package: m.Package.Name, Requested: t.Features, Conflicts: conflicts,
		}
	}
	return set, nil
}

// Cargo compiles contracts with `cargo build` for the wasm target.
type Cargo struct {
	CargoPath string
	Triple    string
	Logger    io.Writer // nil = os.Stderr
	Verbose   bool
}

// NewCargo returns a Cargo compiler using the default target triple.
func NewCargo(cargoPath string, logger io.Writer, verbose bool) *Cargo {
	return &Cargo{CargoPath: cargoPath, Triple: DefaultTriple, Logger: logger, Verbose: verbose}
}

func (c *Cargo) runner() *process.Runner {
	return &process.Runner{Logger: c.Logger, Verbose: c.Verbose, Tag: "cargo"}
}

func (c *Cargo) triple() string {
	if c.Triple != "" {
		return c.Triple
	}
	return DefaultTriple
}

// buildArgs constructs the cargo arguments for a target.
func (c *Cargo) buildArgs(t Target) []string {
	args := []string{
		"build", "--lib",
		"--target", c.triple(),
		"--manifest-path", filepath.Join(t.Manifest.Dir, manifest.FileName),
		"--target-dir", t.Dir,
		"--message-format", "short",
	}
	if t.Mode == ModeRelease {
		args = append(args, "--release")
	}
	if t.NoDefaultFeatures {
		args = append(args, "--no-default-features")
	}
	if len(t.Features) > 0 {
		args = append(args, "--features", strings.Join(t.Features, ","))
	}
	return args
}

// OutputDir is where cargo leaves the module for a target.
func (c *Cargo) OutputDir(t Target) string {
	return filepath.Join(t.Dir, c.triple(), string(t.Mode))
}

// Compile runs cargo and reads back the module (and ABI with the abi feature).
func (c *Cargo) Compile(ctx context.Context, t Target) (*artifact.Artifact, error) {
	set, err := Resolve(t)
	if err != nil {
		return nil, err
	}

	pkg := t.Manifest.Package.Name
	res, err := c.runner().Run(ctx, process.Command{
		Path: c.CargoPath,
		Args: c.buildArgs(t),
		Dir:  t.Manifest.Dir,
	})
	if err != nil {
		return nil, &CompilationError{Package: pkg, Diagnostic: res.Diagnostic(), Err: err}
	}

	crate := t.Manifest.CrateName()
	outDir := c.OutputDir(t)
	modPath := filepath.Join(outDir, crate+"."+string(artifact.KindContract))
	data, err := os.ReadFile(modPath)
	if err != nil {
		return nil, &CompilationError{Package: pkg, Err: fmt.Errorf("toolchain produced no module: %w", err)}
	}
	if !artifact.IsWasm(data) {
		return nil, &CompilationError{Package: pkg, Err: fmt.Errorf("%s is not a wasm module", modPath)}
	}

	a := artifact.New(artifact.KindContract, crate, data)
	if set.Has(ABIFeature) {
		abi, err := os.ReadFile(filepath.Join(outDir, crate+"."+string(artifact.KindABI)))
		if err != nil {
			return nil, &CompilationError{Package: pkg, Err: fmt.Errorf("abi feature enabled but no ABI was emitted: %w", err)}
		}
		a.ABI = abi
	}
	return a, nil
}

// Validate checks that cargo is installed and returns its version line.
func (c *Cargo) Validate() (string, error) {
	return c.runner().Probe(c.CargoPath, "--version")
}
