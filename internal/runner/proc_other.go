//go:build !unix

package runner

import (
	"os/exec"
	"time"
)

// configureProcess kills the direct child on cancel. Process groups are not
// available here, so grace only bounds how long Wait holds the pipes.
func configureProcess(cmd *exec.Cmd, grace time.Duration) func() {
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = grace + 2*time.Second
	return func() {}
}
