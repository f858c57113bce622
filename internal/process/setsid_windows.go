//go:build windows

package process

import "os/exec"

// isolate kills only the direct child on cancel; Windows has no Setsid.
func isolate(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
}
