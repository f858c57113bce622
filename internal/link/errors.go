package link

import (
	"errors"
	"fmt"
)

// ErrLink is wrapped by every LinkError.
var ErrLink = errors.New("link failed")

// LinkError reports that the contract and ZK artifacts could not be
// combined, or that a linked package is structurally invalid.
type LinkError struct {
	Package string
	Err     error
}

// Error returns the failure prefixed with the package name when known.
func (e *LinkError) Error() string {
	if e.Package == "" {
		return fmt.Sprintf("link: %v", e.Err)
	}
	return fmt.Sprintf("link %s: %v", e.Package, e.Err)
}

// Unwrap exposes ErrLink and the underlying cause.
func (e *LinkError) Unwrap() []error {
	return []error{ErrLink, e.Err}
}

func linkErr(pkg, format string, args ...any) *LinkError {
	return &LinkError{Package: pkg, Err: fmt.Errorf(format, args...)}
}
