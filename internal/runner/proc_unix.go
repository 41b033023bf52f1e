//go:build unix

package runner

import (
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// configureProcess puts the command in its own process group so that
// cancellation reaches the launcher and every child it spawned. With a
// positive grace the group gets SIGTERM first and SIGKILL after grace.
// The returned func stops a pending escalation once the command has exited.
func configureProcess(cmd *exec.Cmd, grace time.Duration) func() {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)

	if grace <= 0 {
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	} else {
		cmd.Cancel = func() error {
			processGroupID := -cmd.Process.Pid
			if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
				// Group already gone or unsignalable, escalate
				return syscall.Kill(processGroupID, syscall.SIGKILL)
			}
			mu.Lock()
			timer = time.AfterFunc(grace, func() {
				// ESRCH from an exited group is harmless
				_ = syscall.Kill(processGroupID, syscall.SIGKILL)
			})
			mu.Unlock()
			return nil
		}
		// Bounds Wait when a process outside the group still holds our pipes
		cmd.WaitDelay = grace + 2*time.Second
	}

	return func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}
}
