// Package process runs external toolchain commands (cargo, java) with
// captured output, context cancellation and their own process session.
package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the process
// is killed.
const waitDelay = 2 * time.Second

// Command describes one subprocess invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the parent environment.
	Env []string
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Diagnostic returns the text a failing tool printed: stderr when present,
// otherwise stdout.
func (r Result) Diagnostic() string {
	if s := strings.TrimSpace(string(r.Stderr)); s != "" {
		return s
	}
	return strings.TrimSpace(string(r.Stdout))
}

// Runner executes commands. Logger receives the command line when
// Verbose is set; nil means os.Stderr.
type Runner struct {
	Logger  io.Writer
	Verbose bool
	// Tag prefixes verbose log lines, e.g. "cargo".
	Tag string
}

func (r *Runner) logger() io.Writer {
	if r.Logger != nil {
		return r.Logger
	}
	return os.Stderr
}

// Run executes c and waits for it. A non-zero exit returns the exec error
// alongside the captured output, so callers can surface the diagnostic.
func (r *Runner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	isolate(cmd)
	// Orphans that escaped the session may keep the output pipes open.
	cmd.WaitDelay = waitDelay
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.Verbose {
		fmt.Fprintf(r.logger(), "[%s] running: %s\n", r.tag(), c)
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s: %w", c.Path, ctxErr)
		}
		return res, fmt.Errorf("%s: %w", c.Path, err)
	}
	return res, nil
}

// Probe runs path with args and returns its trimmed combined output. It is
// used to check that a tool is installed.
func (r *Runner) Probe(path string, args ...string) (string, error) {
	cmd := exec.Command(path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s not usable: %w", path, err)
	}
	version := strings.TrimSpace(string(out))
	if r.Verbose {
		fmt.Fprintf(r.logger(), "[%s] version: %s\n", r.tag(), version)
	}
	return version, nil
}

func (r *Runner) tag() string {
	if r.Tag != "" {
		return r.Tag
	}
	return "exec"
}
