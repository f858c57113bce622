package zkc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/papapumpkin/pbcbuild/internal/artifact"
	"github.com/papapumpkin/pbcbuild/internal/manifest"
	"github.com/papapumpkin/pbcbuild/internal/process"
)

// Job is one ZK compilation request.
type Job struct {
	Package string
	// Name is the crate name the output is named after.
	Name string
	// Source is the path of the ZK computation source.
	Source   string
	Compiler *manifest.CompilerRef
	// Dir is the scratch directory the compiler writes into.
	Dir string
}

// Compiler produces a ZK bytecode artifact for a job.
type Compiler interface {
	Compile(ctx context.Context, job Job) (*artifact.Artifact, error)
}

// Java runs the cached compiler bundle with a Java runtime:
// java -jar <bundle> <source> <output>.
type Java struct {
	JavaPath string
	Cache    *Cache
	Logger   io.Writer // nil = os.Stderr
	Verbose  bool
}

// NewJava returns a Java compiler that resolves bundles through cache.
func NewJava(javaPath string, cache *Cache, logger io.Writer, verbose bool) *Java {
	return &Java{JavaPath: javaPath, Cache: cache, Logger: logger, Verbose: verbose}
}

func (j *Java) runner() *process.Runner {
	return &process.Runner{Logger: j.Logger, Verbose: j.Verbose, Tag: "zkc"}
}

// Compile ensures the bundle is cached, then compiles job.Source. Fetch
// failures are returned as *CompilerFetchError untouched.
func (j *Java) Compile(ctx context.Context, job Job) (*artifact.Artifact, error) {
	if j.Cache == nil {
		return nil, errors.New("zkc: no compiler cache configured")
	}
	bundle, err := j.Cache.Ensure(ctx, job.Compiler)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		return nil, &ZkCompilationError{Source: job.Source, Err: err}
	}
	out := filepath.Join(job.Dir, job.Name+"."+string(artifact.KindZk))
	// A stale output from an earlier run must not pass for this one.
	_ = os.Remove(out)

	res, err := j.runner().Run(ctx, process.Command{
		Path: j.JavaPath,
		Args: []string{"-jar", bundle, job.Source, out},
		Dir:  filepath.Dir(job.Source),
	})
	if err != nil {
		return nil, &ZkCompilationError{Source: job.Source, Diagnostic: res.Diagnostic(), Err: err}
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, &ZkCompilationError{Source: job.Source, Err: fmt.Errorf("compiler produced no output: %w", err)}
	}
	if len(data) == 0 {
		return nil, &ZkCompilationError{Source: job.Source, Err: errors.New("compiler produced empty output")}
	}
	return artifact.New(artifact.KindZk, job.Name, data), nil
}

// Validate checks that the Java runtime is installed and returns the first
// line of its version banner.
func (j *Java) Validate() (string, error) {
	out, err := j.runner().Probe(j.JavaPath, "-version")
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(out, "\n")
	return first, nil
}
