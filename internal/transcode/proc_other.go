//go:build !unix

package transcode

import "os/exec"

// configureProcess keeps exec's default cancel, which kills the direct child.
func configureProcess(cmd *exec.Cmd) {}
