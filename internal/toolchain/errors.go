package toolchain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for contract compilation.
var (
	// ErrCompilation is wrapped by every CompilationError.
	ErrCompilation = errors.New("compilation failed")
	// ErrUnsupportedFeatures is wrapped by every UnsupportedFeatureCombinationError.
	ErrUnsupportedFeatures = errors.New("unsupported feature combination")
)

// CompilationError reports a toolchain failure. Error returns the
// toolchain's own diagnostic text unmodified.
type CompilationError struct {
	Package    string
	Diagnostic string
	Err        error
}

// Error returns the toolchain diagnostic verbatim when there is one.
func (e *CompilationError) Error() string {
	if e.Diagnostic != "" {
		return e.Diagnostic
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ErrCompilation.Error()
}

// Unwrap exposes ErrCompilation and the underlying cause.
func (e *CompilationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCompilation}
	}
	return []error{ErrCompilation, e.Err}
}

// UnsupportedFeatureCombinationError reports requested features that are
// unknown or that enable a mutually exclusive group.
type UnsupportedFeatureCombinationError struct {
	Package   string
	Requested []string
	// Conflicts lists each exclusive group found enabled together.
	Conflicts [][]string
	Err       error
}

// Error names the conflicting groups, or the resolution failure.
func (e *UnsupportedFeatureCombinationError) Error() string {
	if len(e.Conflicts) > 0 {
		groups := make([]string, 0, len(e.Conflicts))
		for _, c := range e.Conflicts {
			groups = append(groups, "["+strings.Join(c, ", ")+"]")
		}
		return fmt.Sprintf("%s: mutually exclusive features enabled together: %s",
			e.Package, strings.Join(groups, " "))
	}
	return fmt.Sprintf("%s: features %v: %v", e.Package, e.Requested, e.Err)
}

// Unwrap exposes ErrUnsupportedFeatures and the underlying cause.
func (e *UnsupportedFeatureCombinationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnsupportedFeatures}
	}
	return []error{ErrUnsupportedFeatures, e.Err}
}
