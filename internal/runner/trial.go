// Package runner drives one benchmark plan through setup, service, the
// measured iterations and teardown, and schedules plans one after another.
package runner

import (
	"bytes"
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jpillora/backoff"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/signalnine/sirun/internal/config"
	"github.com/signalnine/sirun/internal/env"
	"github.com/signalnine/sirun/internal/result"
	"github.com/signalnine/sirun/internal/statsd"
	"github.com/signalnine/sirun/internal/subproc"
	"github.com/signalnine/sirun/internal/usage"
)

// ErrTimeout means an iteration outlived the plan's timeout. Nothing is
// reported for that plan.
var ErrTimeout = errors.New("run timed out")

// State is a step of the plan lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StateSettingUp       State = "setting_up"
	StateStartingService State = "starting_service"
	StateRunning         State = "running"
	StateTornDown        State = "torn_down"
	StateFinished        State = "finished"
	StateAborted         State = "aborted"
)

// Spawner starts child processes.
type Spawner interface {
	Start(subproc.Spec) (*subproc.Process, error)
}

type Runner struct {
	Spawner Spawner
	// Stdout and Stderr receive the output of every child unless NoStdio
	// is set.
	Stdout    io.Writer
	Stderr    io.Writer
	NoStdio   bool
	SkipSetup bool
	Version   string
	// RetryInterval is the pause between failed setup attempts.
	RetryInterval time.Duration

	NewCounter     func() usage.Counter
	FindCachegrind func() (*usage.Cachegrind, error)
}

// New returns a runner configured from settings.
func New(s *env.Settings) *Runner {
	return &Runner{
		Spawner:        subproc.Spawner{},
		Stdout:         os.Stdout,
		Stderr:         os.Stderr,
		NoStdio:        s.NoStdio,
		SkipSetup:      s.SkipSetup,
		Version:        s.Version,
		RetryInterval:  time.Second,
		NewCounter:     usage.NewCounter,
		FindCachegrind: usage.FindCachegrind,
	}
}

// ExitReason classifies how a measured child ended.
func ExitReason(exit *subproc.Exit, timedOut bool) string {
	switch {
	case timedOut:
		return "timeout"
	case exit == nil:
		return "unknown"
	case exit.Signal != 0:
		return "killed"
	case exit.Code == 0:
		return "completed"
	default:
		return "failed"
	}
}

type execution struct {
	plan    *config.Plan
	env     map[string]string
	service *subproc.Process
	state   State
}

func (e *execution) enter(s State) {
	e.state = s
	grip.Debug(message.Fields{
		"message": "plan state",
		"state":   string(s),
		"name":    e.plan.Name,
		"variant": e.plan.Variant,
	})
}

// Run executes plan and returns its document. A timeout in any iteration
// discards every iteration and returns ErrTimeout.
func (r *Runner) Run(ctx context.Context, plan config.Plan) (*result.Document, error) {
	x := &execution{plan: &plan}
	x.enter(StateIdle)

	rcv, err := statsd.Listen(plan.StatsdPort)
	if err != nil {
		x.enter(StateAborted)
		return nil, err
	}
	defer func() {
		grip.Warning(message.WrapError(rcv.Close(), "closing statsd receiver"))
	}()

	x.env = make(map[string]string, len(plan.Env)+1)
	for k, v := range plan.Env {
		x.env[k] = v
	}
	x.env[env.VarStatsdPort] = strconv.Itoa(rcv.Port())

	if len(plan.Setup) > 0 && !r.SkipSetup {
		x.enter(StateSettingUp)
		if err := r.setup(ctx, x); err != nil {
			x.enter(StateAborted)
			return nil, err
		}
	}

	if len(plan.Service) > 0 {
		x.enter(StateStartingService)
		x.service, err = r.Spawner.Start(r.spec(plan.Service, x.env))
		if err != nil {
			r.abort(ctx, x)
			return nil, errors.Wrap(err, "starting service")
		}
		grip.Info(message.Fields{
			"message": "service started",
			"pid":     x.service.Pid(),
			"variant": plan.Variant,
		})
	}

	x.enter(StateRunning)
	doc := &result.Document{
		Name:       plan.Name,
		Version:    r.Version,
		Variant:    plan.Variant,
		Iterations: make([]result.Iteration, 0, plan.Iterations),
	}
	for i := 0; i < plan.Iterations; i++ {
		it, err := r.iterate(ctx, x, rcv, i)
		if err != nil {
			r.abort(ctx, x)
			return nil, err
		}
		doc.Iterations = append(doc.Iterations, it)
	}

	if plan.Cachegrind {
		n, err := r.cachegrind(ctx, x)
		if err != nil {
			r.abort(ctx, x)
			return nil, err
		}
		doc.Instructions = n
	}

	r.teardown(ctx, x)
	r.finish(x)
	return doc, nil
}

func (r *Runner) spec(args []string, childEnv map[string]string) subproc.Spec {
	s := subproc.Spec{Args: args, Env: childEnv}
	if !r.NoStdio {
		s.Stdout = r.Stdout
		s.Stderr = r.Stderr
	}
	return s
}

// setup reruns the setup command at a fixed interval until it exits
// zero. Only a spawn failure or ctx ends the loop early.
func (r *Runner) setup(ctx context.Context, x *execution) error {
	b := &backoff.Backoff{Min: r.RetryInterval, Max: r.RetryInterval, Factor: 1}
	for {
		p, err := r.Spawner.Start(r.spec(x.plan.Setup, x.env))
		if err != nil {
			return errors.Wrap(err, "running setup")
		}
		exit, err := p.Wait(ctx)
		if err != nil {
			return errors.Wrap(err, "running setup")
		}
		if exit.Success() {
			return nil
		}
		delay := b.Duration()
		grip.Info(message.Fields{
			"message": "setup not ready, retrying",
			"exit":    exit.String(),
			"attempt": int(b.Attempt()),
			"retry":   delay.String(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "running setup")
		}
	}
}

func (r *Runner) iterate(ctx context.Context, x *execution, rcv *statsd.Receiver, n int) (result.Iteration, error) {
	plan := x.plan
	spec := r.spec(plan.Run, x.env)

	var (
		counter   usage.Counter
		attachErr error
	)
	if plan.Instructions {
		counter = r.NewCounter()
		defer counter.Close()
		spec.Attach = func(pid int) {
			attachErr = counter.Attach(pid)
		}
	}

	rcv.Begin()
	p, err := r.Spawner.Start(spec)
	if errors.Is(err, subproc.ErrTraceDenied) {
		grip.Warning(message.WrapError(err, "instruction counting unavailable, running untraced"))
		spec.Attach = nil
		attachErr = usage.ErrCounterUnavailable
		p, err = r.Spawner.Start(spec)
	}
	if err != nil {
		rcv.End()
		return nil, errors.Wrapf(err, "iteration %d", n)
	}

	waitCtx := ctx
	if plan.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, plan.Timeout)
		defer cancel()
	}
	exit, err := p.Wait(waitCtx)
	metrics := rcv.End()
	if errors.Is(err, subproc.ErrTimedOut) {
		grip.Error(message.Fields{
			"message": "run exceeded timeout, discarding results",
			"timeout": plan.Timeout.String(),
			"variant": plan.Variant,
			"reason":  ExitReason(exit, true),
		})
		return nil, errors.Wrapf(ErrTimeout, "iteration %d exceeded %s", n, plan.Timeout)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "iteration %d", n)
	}
	if !exit.Success() {
		grip.Warning(message.Fields{
			"message":   "run exited unsuccessfully",
			"iteration": n,
			"variant":   plan.Variant,
			"exit":      exit.String(),
			"reason":    ExitReason(exit, false),
		})
	}

	it := result.Iteration(metrics)
	for k, v := range usage.FromExit(exit).Metrics() {
		it[k] = v
	}
	if counter != nil {
		if attachErr == nil {
			var count uint64
			count, attachErr = counter.Read()
			if attachErr == nil {
				it[usage.KeyInstructions] = float64(count)
			}
		}
		grip.WarningWhen(attachErr != nil, message.WrapError(attachErr, message.Fields{
			"message":   "instructions omitted",
			"iteration": n,
		}))
	}
	return it, nil
}

// cachegrind runs the plan once more under valgrind and returns the
// simulated instruction count, or nil when valgrind is missing.
func (r *Runner) cachegrind(ctx context.Context, x *execution) (*float64, error) {
	cg, err := r.FindCachegrind()
	if err != nil {
		grip.Warning(message.WrapError(err, "cachegrind requested but unavailable"))
		return nil, nil
	}
	var stderr bytes.Buffer
	spec := r.spec(cg.Command(x.plan.Run), x.env)
	spec.Stderr = &stderr
	p, err := r.Spawner.Start(spec)
	if err != nil {
		return nil, errors.Wrap(err, "running cachegrind")
	}
	if _, err := p.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "running cachegrind")
	}
	n, err := usage.ParseCachegrind(&stderr)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// teardown runs once and is never retried. Its outcome is logged only.
func (r *Runner) teardown(ctx context.Context, x *execution) {
	if len(x.plan.Teardown) == 0 || r.SkipSetup {
		return
	}
	x.enter(StateTornDown)
	p, err := r.Spawner.Start(r.spec(x.plan.Teardown, x.env))
	if err != nil {
		grip.Error(message.WrapError(err, "starting teardown"))
		return
	}
	exit, err := p.Wait(context.WithoutCancel(ctx))
	if err != nil {
		grip.Error(message.WrapError(err, "waiting for teardown"))
		return
	}
	grip.Log(levelFor(exit), message.Fields{
		"message": "teardown finished",
		"exit":    exit.String(),
	})
}

// finish kills the service group without waiting for it.
func (r *Runner) finish(x *execution) {
	if x.service != nil {
		grip.Error(message.WrapError(x.service.Kill(), "killing service"))
	}
	if x.state != StateAborted {
		x.enter(StateFinished)
	}
}

func (r *Runner) abort(ctx context.Context, x *execution) {
	x.enter(StateAborted)
	r.teardown(ctx, x)
	x.state = StateAborted
	r.finish(x)
}

func levelFor(exit *subproc.Exit) level.Priority {
	if exit.Success() {
		return level.Info
	}
	return level.Warning
}
