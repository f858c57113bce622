//go:build !windows

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// isolate places the subprocess in its own session so toolchain children
// cannot read from the parent's controlling terminal. Cancellation kills
// the whole session, which is also the process group Setsid creates, so
// compilers spawned by cargo or java die with it.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
}
