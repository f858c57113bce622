package zkc

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for compiler acquisition and ZK compilation.
var (
	// ErrCompilerFetch is wrapped by every CompilerFetchError.
	ErrCompilerFetch = errors.New("compiler fetch failed")
	// ErrZkCompilation is wrapped by every ZkCompilationError.
	ErrZkCompilation = errors.New("zk compilation failed")
	// ErrChecksumMismatch means downloaded or cached bytes do not match
	// the pinned or recorded digest.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrInvalidRef means the compiler reference cannot form a cache key.
	ErrInvalidRef = errors.New("invalid compiler reference")
)

// CompilerFetchError reports that the external compiler could not be
// obtained, either because the host was unreachable or because it
// refused the request.
type CompilerFetchError struct {
	URL      string
	Version  string
	Attempts int
	Err      error
}

// Error includes the version, URL and attempt count.
func (e *CompilerFetchError) Error() string {
	return fmt.Sprintf("fetch zk compiler %s from %s (%d attempt(s)): %v", e.Version, e.URL, e.Attempts, e.Err)
}

// Unwrap exposes ErrCompilerFetch and the underlying cause.
func (e *CompilerFetchError) Unwrap() []error {
	return []error{ErrCompilerFetch, e.Err}
}

// ZkCompilationError reports a failure of the external ZK compiler. Error
// returns the compiler's own diagnostic text unmodified.
type ZkCompilationError struct {
	Source     string
	Diagnostic string
	Err        error
}

// Error returns the compiler diagnostic verbatim when there is one.
func (e *ZkCompilationError) Error() string {
	if e.Diagnostic != "" {
		return e.Diagnostic
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Source, ErrZkCompilation)
}

// Unwrap exposes ErrZkCompilation and the underlying cause.
func (e *ZkCompilationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrZkCompilation}
	}
	return []error{ErrZkCompilation, e.Err}
}

// StatusError is a non-200 answer from the compiler host.
type StatusError struct {
	Code   int
	Status string
}

// Error returns the HTTP status line.
func (e *StatusError) Error() string {
	return "unexpected HTTP status " + e.Status
}

// Temporary reports whether the request is worth repeating: rate limits
// and server-side failures are, any other client error is not.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}
