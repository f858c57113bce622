package manifest

import (
	"errors"
	"strings"
)

// Sentinel errors for manifest loading and validation.
var (
	// ErrNoManifest indicates no Cargo.toml was found in the package root.
	ErrNoManifest = errors.New("Cargo.toml not found in package directory")
	// ErrMalformedManifest is wrapped by every MalformedManifestError.
	ErrMalformedManifest = errors.New("malformed manifest")
	// ErrInconsistentZk is wrapped by every InconsistentZkDeclarationError.
	ErrInconsistentZk = errors.New("inconsistent zero-knowledge declaration")
	// ErrMissingField indicates a required field (e.g. package.name) is empty.
	ErrMissingField = errors.New("required field missing")
	// ErrInvalidVersion indicates a version string that is not semver.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrUnreadableSource indicates a declared source path cannot be read.
	ErrUnreadableSource = errors.New("source file not readable")
	// ErrUnsupportedCrateType indicates crate-type lacks the linkable module kind.
	ErrUnsupportedCrateType = errors.New("unsupported crate-type")
	// ErrInvalidCompilerRef indicates a malformed zkcompiler reference.
	ErrInvalidCompilerRef = errors.New("invalid zkcompiler reference")
	// ErrInvalidDependency indicates a malformed [dependencies] entry.
	ErrInvalidDependency = errors.New("invalid dependency")
	// ErrInvalidFeatures indicates a broken [features] table.
	ErrInvalidFeatures = errors.New("invalid features")
)

// Problem is one field-level defect found while validating a manifest.
type Problem struct {
	Field string
	Err   error
}

// String returns "field: message", or just the message for
// manifest-level problems.
func (p Problem) String() string {
	if p.Field == "" {
		return p.Err.Error()
	}
	return p.Field + ": " + p.Err.Error()
}

// MalformedManifestError reports a manifest that cannot be parsed or is
// missing required, well-formed fields. It carries every problem found.
type MalformedManifestError struct {
	Path     string
	Problems []Problem
}

// Error returns the manifest path followed by each problem.
func (e *MalformedManifestError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return e.Path + ": malformed manifest: " + strings.Join(parts, "; ")
}

// Unwrap exposes ErrMalformedManifest and each problem's error to errors.Is.
func (e *MalformedManifestError) Unwrap() []error {
	errs := make([]error, 0, len(e.Problems)+1)
	errs = append(errs, ErrMalformedManifest)
	for _, p := range e.Problems {
		errs = append(errs, p.Err)
	}
	return errs
}

// InconsistentZkDeclarationError reports a manifest that declares a ZK
// compute path without a compiler reference, or the reverse.
type InconsistentZkDeclarationError struct {
	Path           string
	HasComputePath bool
	HasCompiler    bool
}

// Error explains which half of the declaration is missing.
func (e *InconsistentZkDeclarationError) Error() string {
	if e.HasComputePath {
		return e.Path + ": package.metadata.zk declares zk-compute-path but package.metadata.zkcompiler is missing"
	}
	return e.Path + ": package.metadata.zkcompiler is declared but package.metadata.zk has no zk-compute-path"
}

// Unwrap returns ErrInconsistentZk.
func (e *InconsistentZkDeclarationError) Unwrap() error {
	return ErrInconsistentZk
}
