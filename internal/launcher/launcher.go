// Package launcher starts the configured browsers against the client URL and
// tears them down again.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/browserun/internal/logger"
	"github.com/loykin/browserun/internal/process"
	"github.com/loykin/browserun/internal/state"
	"golang.org/x/sync/errgroup"
)

// Expecter records launches the run has to wait for.
type Expecter interface {
	ExpectLaunch(state.Launch)
}

// Options configures a Launcher.
type Options struct {
	Browsers     []Browser
	Logs         logger.Config // File.Dir enables per-browser log files
	Output       io.Writer     // when set, browser output is also copied here
	KillTimeout  time.Duration
	KillAttempts int
	Logger       *slog.Logger
}

// Launcher owns one process supervisor per configured browser.
type Launcher struct {
	opts  Options
	store Expecter
	log   *slog.Logger

	mu        sync.Mutex
	instances []*instance
}

type instance struct {
	launch  state.Launch
	proc    *process.Process
	sinks   process.Sinks
	closers []io.Closer
	profile string

	killing bool
}

func New(opts Options, store Expecter) *Launcher {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Launcher{opts: opts, store: store, log: log}
}

// Launch starts every configured browser pointed at clientURL with a fresh
// launch id. It stops at the first browser that fails to start; browsers
// started before that keep running until Kill.
func (l *Launcher) Launch(ctx context.Context, clientURL string) error {
	for _, b := range l.opts.Browsers {
		if err := l.launch(ctx, b, clientURL); err != nil {
			return err
		}
	}
	return nil
}

func (l *Launcher) launch(ctx context.Context, b Browser, clientURL string) error {
	id := uuid.NewString()
	target, err := withLaunch(clientURL, id)
	if err != nil {
		return err
	}
	inst := &instance{launch: state.Launch{ID: id, Name: b.Name}}
	spec, err := l.spec(b, target, inst)
	if err != nil {
		return err
	}
	inst.proc = process.NewWithOptions(spec, process.Options{
		KillTimeout:  l.opts.KillTimeout,
		KillAttempts: l.opts.KillAttempts,
		Logger:       l.log,
	})

	l.store.ExpectLaunch(inst.launch)
	l.log.Debug("launching browser", "browser", b.Name, "launch", id)
	if err := inst.proc.Start(ctx); err != nil {
		inst.cleanup()
		return fmt.Errorf("launch %s: %w", b.Name, err)
	}
	if err := l.pipe(b.Name, inst); err != nil {
		l.log.Warn("browser output not captured", "browser", b.Name, "error", err)
	}

	l.mu.Lock()
	l.instances = append(l.instances, inst)
	l.mu.Unlock()
	go l.watch(b.Name, inst)
	return nil
}

func (l *Launcher) spec(b Browser, target string, inst *instance) (process.Spec, error) {
	spec := process.Spec{Name: b.Name, Env: b.envMap()}
	if len(b.Command) > 0 {
		spec.Command = b.Command
		spec.Args = append(append([]string(nil), b.Args...), target)
		return spec, nil
	}
	def, ok := builtins[b.Name]
	if !ok {
		return spec, fmt.Errorf("browser %q has no command and is not built in", b.Name)
	}
	profile, err := os.MkdirTemp("", "browserun-"+b.Name+"-")
	if err != nil {
		return spec, fmt.Errorf("browser %s profile: %w", b.Name, err)
	}
	inst.profile = profile
	spec.Command = def.candidates()
	spec.Args = append(def.args(profile, target), b.Args...)
	return spec, nil
}

func (l *Launcher) pipe(name string, inst *instance) error {
	var stdout, stderr []io.Writer
	if l.opts.Logs.File.Dir != "" || l.opts.Logs.File.StdoutPath != "" || l.opts.Logs.File.StderrPath != "" {
		out, errw, err := l.opts.Logs.ProcessWriters(name)
		if err != nil {
			return err
		}
		if out != nil {
			stdout = append(stdout, out)
			inst.closers = append(inst.closers, out)
		}
		if errw != nil {
			stderr = append(stderr, errw)
			inst.closers = append(inst.closers, errw)
		}
	}
	if l.opts.Output != nil {
		stdout = append(stdout, l.opts.Output)
		stderr = append(stderr, l.opts.Output)
	}
	if len(stdout) > 0 {
		inst.sinks.Stdout = io.MultiWriter(stdout...)
	}
	if len(stderr) > 0 {
		inst.sinks.Stderr = io.MultiWriter(stderr...)
	}
	inst.proc.Pipe(inst.sinks)
	return nil
}

// watch logs browsers that end on their own.
func (l *Launcher) watch(name string, inst *instance) {
	err := inst.proc.Wait(context.Background())
	l.mu.Lock()
	killing := inst.killing
	l.mu.Unlock()
	switch {
	case killing:
	case err != nil:
		l.log.Error("browser exited", "browser", name, "launch", inst.launch.ID, "error", err)
	default:
		l.log.Warn("browser exited before the run ended", "browser", name, "launch", inst.launch.ID)
	}
}

// Kill stops every launched browser concurrently and releases their logs and
// profiles. Calling it again is a no-op.
func (l *Launcher) Kill(ctx context.Context) error {
	l.mu.Lock()
	insts := l.instances
	l.instances = nil
	for _, inst := range insts {
		inst.killing = true
	}
	l.mu.Unlock()

	err := killAll(ctx, insts, func(ctx context.Context, inst *instance) error {
		if err := inst.proc.Kill(ctx, nil); err != nil {
			return fmt.Errorf("kill %s: %w", inst.launch.Name, err)
		}
		return nil
	})
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, inst := range insts {
		inst.proc.Unpipe(inst.sinks)
		if err := inst.cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// killAll runs kill for every instance at once. The group shares no
// cancellation: one failed kill must not cut the escalation of the others short.
func killAll(ctx context.Context, insts []*instance, kill func(context.Context, *instance) error) error {
	var g errgroup.Group
	for _, inst := range insts {
		g.Go(func() error { return kill(ctx, inst) })
	}
	return g.Wait()
}

func (inst *instance) cleanup() error {
	var errs []error
	for _, c := range inst.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	inst.closers = nil
	if inst.profile != "" {
		if err := os.RemoveAll(inst.profile); err != nil {
			errs = append(errs, err)
		}
		inst.profile = ""
	}
	return errors.Join(errs...)
}

// Launches lists the launches of the browsers currently owned.
func (l *Launcher) Launches() []state.Launch {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]state.Launch, len(l.instances))
	for i, inst := range l.instances {
		out[i] = inst.launch
	}
	return out
}

// PIDs maps browser names to the pids of running browsers. Names repeat when
// a browser is configured twice, so the launch id is appended to later ones.
func (l *Launcher) PIDs() map[string]int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int32, len(l.instances))
	for _, inst := range l.instances {
		pid := inst.proc.PID()
		if pid == 0 {
			continue
		}
		key := inst.launch.Name
		if _, dup := out[key]; dup {
			key += "-" + inst.launch.ID[:8]
		}
		out[key] = int32(pid)
	}
	return out
}

func withLaunch(clientURL, id string) (string, error) {
	u, err := url.Parse(clientURL)
	if err != nil {
		return "", fmt.Errorf("client url: %w", err)
	}
	q := u.Query()
	q.Set("launch", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
