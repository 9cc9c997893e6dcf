package subproc

import (
	"os/exec"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
)

// startAttached starts cmd under ptrace. The kernel stops a traced child
// with SIGTRAP right after a successful exec, so attach runs before the
// new program executes a single instruction. The child is then detached
// and continues normally.
func startAttached(cmd *exec.Cmd, attach func(pid int)) error {
	// ptrace requests must come from the thread that became the tracer
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cmd.SysProcAttr.Ptrace = true
	if err := cmd.Start(); err != nil {
		if errors.Is(err, syscall.EPERM) {
			return errors.Wrapf(ErrTraceDenied, "%v", err)
		}
		return err
	}
	pid := cmd.Process.Pid

	var ws syscall.WaitStatus
	for {
		_, err := syscall.Wait4(pid, &ws, 0, nil)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			_ = cmd.Process.Kill()
			return errors.Wrap(err, "waiting for traced child to stop")
		}
		break
	}
	if !ws.Stopped() {
		return errors.Errorf("traced child did not stop after exec (status %#x)", uint32(ws))
	}

	attach(pid)

	if err := syscall.PtraceDetach(pid); err != nil {
		_ = cmd.Process.Kill()
		return errors.Wrap(err, "detaching from child")
	}
	return nil
}
