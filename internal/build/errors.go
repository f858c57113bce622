package build

import (
	"errors"
	"fmt"
)

// Stage names the part of a build that failed.
type Stage string

// Stages, in the order a build passes through them.
const (
	StageManifest  Stage = "manifest"
	StageCompile   Stage = "compile"
	StageZkCompile Stage = "zk-compile"
	StageLink      Stage = "link"
	StagePlace     Stage = "place"
	StagePublish   Stage = "publish"
)

// ErrNoPackages is returned by Discover when a directory holds no contract
// packages.
var ErrNoPackages = errors.New("no contract packages found")

// StageError prefixes a failure with the stage it came from. The wrapped
// error keeps its own type, so errors.As still finds e.g. a
// *zkc.CompilerFetchError underneath.
type StageError struct {
	Stage   Stage
	Package string
	Err     error
}

// Error returns the stage followed by the underlying message.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap returns the stage's own error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// stageOf returns the stage of err, or "" when err is not a *StageError.
func stageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
