package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/browserun/internal/converge"
	"github.com/loykin/browserun/internal/env"
	"github.com/loykin/browserun/internal/metrics"
)

// Process supervises one OS child process at a time. The same instance can be
// started again after a run settles.
type Process struct {
	spec Spec
	opts Options
	envs *env.Env

	mu     sync.Mutex
	cmd    *exec.Cmd // nil when no run is in flight
	run    *run      // current run, nil when idle
	last   *run      // most recent run, kept so Wait reports its result
	status Status

	pipeMu sync.Mutex
	piped  map[sinkKey]*pipeMeta
}

// run tracks one spawn. done is closed exactly once when the run settles.
type run struct {
	command string
	exited  bool
	streams []*os.File
	once    sync.Once
	done    chan struct{}
	err     error
}

func New(spec Spec) *Process { return NewWithOptions(spec, Options{}) }

func NewWithOptions(spec Spec, opts Options) *Process {
	return &Process{
		spec:  spec,
		opts:  opts,
		envs:  env.New(),
		piped: make(map[sinkKey]*pipeMeta),
	}
}

// Spec returns the process description.
func (p *Process) Spec() Spec { return p.spec }

// Running reports whether a spawned process has not exited yet.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningLocked()
}

func (p *Process) runningLocked() bool {
	return p.cmd != nil && p.cmd.Process != nil && p.run != nil && !p.run.exited
}

// PID returns the pid of the running process or 0.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.runningLocked() {
		return 0
	}
	return p.cmd.Process.Pid
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	s := p.status
	s.Running = p.runningLocked()
	p.mu.Unlock()
	return s
}

// Run starts the process and blocks until the run settles. It returns nil
// immediately when the process is already running.
func (p *Process) Run(ctx context.Context) error {
	if p.Running() {
		return nil
	}
	if err := p.Start(ctx); err != nil {
		return err
	}
	return p.Wait(ctx)
}

// Start resolves the command and spawns it. The run keeps going in the
// background; Wait reports how it ended.
func (p *Process) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runningLocked() {
		return nil
	}

	name := p.spec.DisplayName()
	command, ok := resolveCommand(p.spec.Command)
	if !ok {
		return &CommandNotFoundError{Name: name, Candidates: p.spec.Command}
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return &SpawnError{Name: name, Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return &SpawnError{Name: name, Err: err}
	}

	// #nosec G204 -- command candidates come from trusted configuration
	cmd := exec.Command(command, p.spec.Args...)
	cmd.Env = p.envs.Merge(p.spec.Env)
	cmd.Stdout = outW
	cmd.Stderr = errW
	configureSysProcAttr(cmd)

	startErr := cmd.Start()
	// the child holds its own copies of the write ends
	_ = outW.Close()
	_ = errW.Close()
	if startErr != nil {
		_ = outR.Close()
		_ = errR.Close()
		return &SpawnError{Name: name, Err: startErr}
	}

	r := &run{command: command, streams: []*os.File{outR, errR}, done: make(chan struct{})}
	p.cmd = cmd
	p.run = r
	p.last = r
	p.status = Status{
		Name:      name,
		Command:   command,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		Runs:      p.status.Runs + 1,
	}
	metrics.IncProcessStart(name)

	exitCh := make(chan error, 1)
	closeCh := make(chan struct{})
	go p.waitExit(r, cmd, exitCh)
	go p.waitClose(r, outR, errR, closeCh)
	go p.track(r, exitCh, closeCh)
	return nil
}

// Wait blocks until the most recent run settles and returns its outcome.
// It returns nil when the process was never started.
func (p *Process) Wait(ctx context.Context) error {
	p.mu.Lock()
	r := p.last
	p.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitExit reaps the child and reports its exit. Termination by signal is not
// treated as a failure.
func (p *Process) waitExit(r *run, cmd *exec.Cmd, exitCh chan<- error) {
	err := cmd.Wait()
	p.mu.Lock()
	r.exited = true
	p.status.StoppedAt = time.Now()
	p.mu.Unlock()

	var ee *exec.ExitError
	switch {
	case err == nil:
		exitCh <- nil
	case errors.As(err, &ee):
		if code := ee.ExitCode(); code > 0 {
			exitCh <- &ExitError{Command: r.command, Code: code}
			return
		}
		exitCh <- nil
	default:
		exitCh <- &SpawnError{Name: p.spec.DisplayName(), Err: err}
	}
}

// waitClose forwards both output streams and signals once both reached EOF.
func (p *Process) waitClose(r *run, outR, errR *os.File, closeCh chan<- struct{}) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); p.forward(r, streamStdout, outR) }()
	go func() { defer wg.Done(); p.forward(r, streamStderr, errR) }()
	wg.Wait()
	close(closeCh)
}

// track settles the run once exit and close were both observed, or as soon as
// exit reports an error.
func (p *Process) track(r *run, exitCh <-chan error, closeCh <-chan struct{}) {
	exited, closed := false, false
	for !exited || !closed {
		select {
		case err := <-exitCh:
			if err != nil {
				p.settle(r, err)
				return
			}
			exited = true
		case <-closeCh:
			closed = true
			closeCh = nil
		}
	}
	p.settle(r, nil)
}

// settle finishes a run exactly once: the handle is cleared, the output streams
// are released and waiters are woken.
func (p *Process) settle(r *run, err error) {
	r.once.Do(func() {
		p.mu.Lock()
		if p.run == r {
			p.cmd = nil
			p.run = nil
		}
		p.status.ExitErr = err
		p.mu.Unlock()

		for _, f := range r.streams {
			_ = f.Close()
		}
		code := 0
		if c, ok := IsExitError(err); ok {
			code = c
		}
		metrics.IncProcessExit(p.spec.DisplayName(), code)
		r.err = err
		close(r.done)
	})
}

// Kill signals the process (SIGTERM when sig is nil) and waits for it to exit.
// When the process outlives Options.KillTimeout the signal is escalated to
// SIGKILL and the wait repeats. Without Options.KillAttempts this loops until the
// process is gone or ctx is done.
func (p *Process) Kill(ctx context.Context, sig os.Signal) error {
	if !p.Running() {
		return nil
	}
	if sig == nil {
		sig = syscall.SIGTERM
	}
	name := p.spec.DisplayName()
	for attempt := 0; ; attempt++ {
		p.signal(sig)
		err := converge.When(ctx, p.opts.killTimeout(), func() bool { return !p.Running() })
		if err == nil {
			return nil
		}
		if !errors.Is(err, converge.ErrTimeout) {
			return err
		}
		if p.opts.KillAttempts > 0 && attempt >= p.opts.KillAttempts {
			return &SpawnError{Name: name, Err: ErrKillAbandoned}
		}
		metrics.IncKillEscalation(name)
		p.opts.logger().Warn("process did not exit, escalating", "name", name, "signal", sig.String(), "attempt", attempt+1)
		sig = syscall.SIGKILL
	}
}

func (p *Process) signal(sig os.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.runningLocked() {
		return
	}
	signalGroup(p.cmd.Process, sig)
}
