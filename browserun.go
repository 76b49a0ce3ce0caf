// Package browserun runs in-browser test suites: it launches browsers against
// a proxied copy of the app under test, injects a test framework adapter and
// follows the run as adapters report back over websockets.
package browserun

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/loykin/browserun/internal/adapter"
	"github.com/loykin/browserun/internal/config"
	"github.com/loykin/browserun/internal/coordinator"
	"github.com/loykin/browserun/internal/history"
	"github.com/loykin/browserun/internal/launcher"
	"github.com/loykin/browserun/internal/logger"
	"github.com/loykin/browserun/internal/metrics"
	"github.com/loykin/browserun/internal/plugin"
	"github.com/loykin/browserun/internal/process"
	"github.com/loykin/browserun/internal/reporter"
	"github.com/loykin/browserun/internal/server"
	"github.com/loykin/browserun/internal/state"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.FileConfig

type RunState = state.RunState

type BrowserState = state.BrowserState

type Test = state.Test

type Browser = launcher.Browser

type Spec = process.Spec

type Process = process.Process

type Sinks = process.Sinks

// NewProcess returns a supervisor for one external command.
func NewProcess(s Spec) *Process { return process.New(s) }

// LoadConfig reads a config file with BROWSERUN_ env overrides applied.
func LoadConfig(path string) (*Config, error) { return config.LoadFile(path) }

// DefaultConfig is the configuration used without a config file.
func DefaultConfig() (*Config, error) { return config.LoadFile("") }

// APIBase is where the run state is exposed on the client server.
const APIBase = "/api"

// Runner owns one test run assembled from a Config.
type Runner struct {
	c      *coordinator.Coordinator
	store  *state.Store
	client *server.Client
	proxy  *server.Proxy
	api    *server.Router
	exit   chan int
}

// NewRunner wires servers, launcher, plugins and reporters for a run.
// Reporter output goes to out.
func NewRunner(fc *Config, out io.Writer) (*Runner, error) {
	log := logger.New(fc.Log)
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	r := &Runner{store: state.NewStore(), exit: make(chan int, 1)}
	sockets := server.NewSockets(log)
	r.client = server.NewClient(fc.Client, sockets, log)
	r.api = server.NewRouter(APIBase, func() any { return r.store.State() }, sockets)
	r.client.Mount(r.api)
	r.proxy = server.NewProxy(fc.Proxy, log)

	browsers, err := fc.BrowserEnv()
	if err != nil {
		return nil, fmt.Errorf("browser env: %w", err)
	}
	l := launcher.New(launcher.Options{
		Browsers:     browsers,
		Logs:         fc.Log,
		KillTimeout:  fc.KillTimeout,
		KillAttempts: fc.KillAttempts,
		Logger:       log,
	}, r.store)

	ad, err := adapter.New(fc.Adapter, adapter.LocalResolver{Dirs: fc.AdapterDirs}, log)
	if err != nil {
		return nil, err
	}
	plugins := plugin.NewManager(log, ad)
	if fc.History.DSN != "" {
		sink, err := history.NewSinkFromDSN(fc.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		plugins.Add(history.NewPlugin(sink, log))
	}

	rep, err := reporter.New(fc.Reporters, out, log)
	if err != nil {
		return nil, err
	}

	var sampler *metrics.Sampler
	if fc.Metrics.SampleInterval > 0 {
		sampler = metrics.NewSampler(fc.Metrics.SampleInterval, l.PIDs)
	}

	r.c, err = coordinator.New(coordinator.Deps{
		Store:    r.store,
		Client:   r.client,
		Proxy:    r.proxy,
		Sockets:  sockets,
		Launcher: l,
		Plugins:  plugins,
		Reporter: rep,
	}, coordinator.Options{
		Once:         fc.Once,
		ReadyTimeout: fc.ReadyTimeout,
		Exit:         func(status int) { r.exit <- status },
		Sampler:      sampler,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Start brings the run up and waits for the launched browsers to connect.
// On error the run has already been stopped with status 1.
func (r *Runner) Start(ctx context.Context) error { return r.c.Start(ctx) }

// Stop tears the run down. Only the first call has an effect.
func (r *Runner) Stop(ctx context.Context, status int) { r.c.Stop(ctx, status) }

// Done is closed once the run stopped.
func (r *Runner) Done() <-chan struct{} { return r.c.Done() }

// State returns the current run state.
func (r *Runner) State() RunState { return r.store.State() }

// ClientURL is the address browsers are pointed at.
func (r *Runner) ClientURL() string { return r.client.URL() }

// APIHandler serves the JSON endpoints under APIBase on their own, so they can
// be mounted into another server next to the client server.
func (r *Runner) APIHandler() http.Handler { return r.api.Handler() }

// ProxyURL is the address of the proxied app.
func (r *Runner) ProxyURL() string { return r.proxy.URL() }

// Run starts the run and blocks until it stops on its own or ctx is
// cancelled. It returns the status the run ended with.
func (r *Runner) Run(ctx context.Context) (int, error) {
	if err := r.Start(ctx); err != nil {
		return <-r.exit, err
	}
	select {
	case <-r.Done():
	case <-ctx.Done():
		r.Stop(context.Background(), interruptStatus(r.State()))
	}
	return <-r.exit, nil
}

// interruptStatus is the status of a run stopped from outside: the run's own
// status when it finished, 1 otherwise.
func interruptStatus(s RunState) int {
	if s.Finished {
		return s.Status
	}
	return 1
}
