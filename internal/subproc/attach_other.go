//go:build !linux

package subproc

import "os/exec"

// startAttached has no way to hold the child before it runs here, so
// attach is called as soon as the child exists.
func startAttached(cmd *exec.Cmd, attach func(pid int)) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	attach(cmd.Process.Pid)
	return nil
}
