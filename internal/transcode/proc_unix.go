//go:build unix

package transcode

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the command in its own process group so a timeout
// kills ffmpeg and anything it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
