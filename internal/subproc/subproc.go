// Package subproc starts and controls the child processes sirun measures.
// Every child leads its own process group so that termination reaches
// anything it forked.
package subproc

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// ErrTimedOut is returned by Wait when the context deadline expired and
// the process group was killed.
var ErrTimedOut = errors.New("process timed out")

// ErrTraceDenied is wrapped in the SpawnError of a child that needed an
// Attach hook when the host does not allow tracing it.
var ErrTraceDenied = errors.New("tracing the child is not permitted")

// SpawnError reports that a command could not be started at all, as
// opposed to starting and exiting unsuccessfully.
type SpawnError struct {
	Args []string
	Err  error
}

func (e *SpawnError) Error() string {
	name := "<empty>"
	if len(e.Args) > 0 {
		name = e.Args[0]
	}
	return fmt.Sprintf("spawning %s: %v", name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Spec describes one child process.
type Spec struct {
	Args []string
	// Env is layered over the current process environment.
	Env map[string]string
	// Stdout and Stderr receive the child's output; nil discards it.
	Stdout io.Writer
	Stderr io.Writer
	// Attach, when set, is called with the child's pid after exec and
	// before the child runs any of its own code.
	Attach func(pid int)
}

// Spawner starts processes. The zero value is ready to use.
type Spawner struct{}

// Start launches the process described by spec.
func (Spawner) Start(spec Spec) (*Process, error) {
	if len(spec.Args) == 0 {
		return nil, &SpawnError{Err: errors.New("empty command")}
	}
	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &Process{
		cmd:  cmd,
		args: spec.Args,
		done: make(chan struct{}),
	}
	p.start = time.Now()
	start := cmd.Start
	if spec.Attach != nil {
		start = func() error { return startAttached(cmd, spec.Attach) }
	}
	if err := start(); err != nil {
		return nil, &SpawnError{Args: spec.Args, Err: err}
	}

	go func() {
		p.waitErr = cmd.Wait()
		p.end = time.Now()
		close(p.done)
	}()
	return p, nil
}

// Process is a started child.
type Process struct {
	cmd        *exec.Cmd
	args       []string
	start, end time.Time
	done       chan struct{}
	waitErr    error
}

// Pid returns the child's process id, which is also its process group id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Wait blocks until the child exits. If ctx ends while the child is still
// running, the whole process group is killed from a separate goroutine;
// Wait then returns the exit together with ErrTimedOut for a deadline or
// ctx.Err() for cancellation. A child that was already reaped is never
// signalled and its exit is reported as is.
func (p *Process) Wait(ctx context.Context) (*Exit, error) {
	var killed bool
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		select {
		case <-p.done:
			return
		default:
		}
		killed = true
		_ = p.Kill()
	})
	<-p.done
	if !stop() {
		<-fired
	}

	exit, err := p.exit()
	if err != nil {
		return nil, err
	}
	if killed {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return exit, ErrTimedOut
		}
		return exit, ctx.Err()
	}
	return exit, nil
}

func (p *Process) exit() (*Exit, error) {
	if p.waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(p.waitErr, &exitErr) {
			return nil, errors.Wrapf(p.waitErr, "waiting for %s", p.args[0])
		}
	}
	state := p.cmd.ProcessState
	e := &Exit{
		Code:  state.ExitCode(),
		Wall:  p.end.Sub(p.start),
		State: state,
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		e.Signal = ws.Signal()
	}
	return e, nil
}

// Kill sends SIGKILL to the child's process group without waiting.
func (p *Process) Kill() error {
	pid := p.cmd.Process.Pid
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) {
		err = p.cmd.Process.Kill()
		if err == nil || errors.Is(err, os.ErrProcessDone) {
			return nil
		}
	}
	return errors.Wrapf(err, "killing %s (pid %d)", p.args[0], pid)
}

// Exit describes how a child terminated.
type Exit struct {
	// Code is the exit status, or -1 when the child was killed by a signal.
	Code   int
	Signal syscall.Signal
	// Wall is the time from spawn to reaping on the monotonic clock.
	Wall  time.Duration
	State *os.ProcessState
}

func (e *Exit) Success() bool { return e.Code == 0 }

func (e *Exit) String() string {
	if e.Signal != 0 {
		return fmt.Sprintf("killed by signal %d (%s)", int(e.Signal), e.Signal)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overlay[key]; ok {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overlay[k])
	}
	return env
}
