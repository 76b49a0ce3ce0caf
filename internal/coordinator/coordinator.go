// Package coordinator drives one test run: it brings the transports, plugins
// and browsers up in order, decides which adapter sockets receive the run
// signal as the state evolves, and tears everything down again.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/browserun/internal/converge"
	"github.com/loykin/browserun/internal/metrics"
	"github.com/loykin/browserun/internal/plugin"
	"github.com/loykin/browserun/internal/reporter"
	"github.com/loykin/browserun/internal/server"
	"github.com/loykin/browserun/internal/state"
)

// DefaultReadyTimeout bounds how long launched browsers get to connect.
const DefaultReadyTimeout = 10 * time.Second

var (
	ErrLaunchTimeout  = errors.New("launched browsers did not connect")
	ErrAlreadyStarted = errors.New("coordinator already started")
)

// Transport is a server the coordinator starts and stops.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	URL() string
}

// ProxyTransport is the proxy server: a transport that accepts injections.
type ProxyTransport interface {
	Transport
	Inject(server.Injection)
}

// Launcher starts and kills the configured browsers.
type Launcher interface {
	Launch(ctx context.Context, clientURL string) error
	Kill(ctx context.Context) error
}

// Plugins is the plugin manager.
type Plugins interface {
	Setup(h plugin.Host) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Deps are the pieces a coordinator orchestrates.
type Deps struct {
	Store    *state.Store
	Client   Transport
	Proxy    ProxyTransport
	Sockets  plugin.Sockets
	Launcher Launcher
	Plugins  Plugins
	Reporter reporter.Reporter
}

// Options tune a run.
type Options struct {
	// Once stops the run as soon as every browser finished.
	Once         bool
	ReadyTimeout time.Duration
	// Exit is called with the final status at the end of Stop.
	Exit    func(status int)
	Sampler *metrics.Sampler
	Logger  *slog.Logger
}

// Coordinator owns one run.
type Coordinator struct {
	Deps
	opts Options
	log  *slog.Logger

	phase    atomic.Int32
	stopOnce sync.Once
	done     chan struct{}
	status   atomic.Int32
}

// New wires the run together: plugins are set up against the transports, the
// store is observed by the reporter and the transition handler, and the launch
// handshake is bound on the sockets.
func New(deps Deps, opts Options) (*Coordinator, error) {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if deps.Store == nil {
		deps.Store = state.NewStore()
	}
	c := &Coordinator{Deps: deps, opts: opts, log: opts.Logger, done: make(chan struct{})}

	c.Store.Observe(func(prev, next state.RunState) {
		if c.Reporter != nil {
			c.Reporter.Process(prev, next)
		}
		c.handleUpdate(prev, next)
	})

	if c.Plugins != nil {
		if err := c.Plugins.Setup(plugin.Host{Client: c.Client, Proxy: c.Proxy, Sockets: c.Sockets, Store: c.Store}); err != nil {
			return nil, err
		}
	}

	c.Sockets.On("client/connect", func(m server.Meta, args server.Args) {
		c.handshake(m, args.String(0), true)
	})
	c.Sockets.On("adapter/connect", func(m server.Meta, args server.Args) {
		if id := args.String(0); id != "" {
			c.handshake(m, id, false)
		}
	})
	return c, nil
}

// handshake records which launch a socket belongs to and tells that socket
// where the proxied app lives.
func (c *Coordinator) handshake(m server.Meta, launchID string, always bool) {
	if launchID != "" {
		c.Store.UpdateLaunched(state.Meta{SocketID: m.ID, UserAgent: m.UserAgent}, launchID)
	} else if !always {
		return
	}
	if err := c.Sockets.Send(m.ID, "proxy:connected", c.Proxy.URL()); err != nil {
		c.log.Warn("proxy address not delivered", "socket", m.ID, "error", err)
	}
}

// handleUpdate decides which sockets receive the run signal. The first time
// the run becomes ready every socket recorded in that state gets it. After
// that a browser that turns waiting gets it on its sockets that are new in
// this transition, so no socket is ever signalled twice. Recipients always
// come from the state, never from room membership: the hub joins a socket to
// its room before the socket's mutation is dispatched.
func (c *Coordinator) handleUpdate(prev, next state.RunState) {
	if c.opts.Once && next.Finished && !prev.Finished {
		// observers run inside the dispatch; teardown must not wait on it
		go c.Stop(context.Background(), next.Status)
		return
	}
	if !next.Ready {
		return
	}
	if !prev.Ready {
		n := 0
		for _, b := range next.Browsers {
			for _, s := range b.Sockets {
				if c.signal(s.ID) {
					n++
				}
			}
		}
		metrics.IncRunSignal("broadcast")
		c.log.Debug("run kickoff", "sockets", n)
		return
	}
	if prev.BrowsersRev == next.BrowsersRev {
		return
	}
	for _, b := range next.Browsers {
		old, existed := prev.Browser(b.ID)
		if !b.Waiting || (existed && old.Waiting) {
			continue
		}
		for _, s := range b.Sockets {
			if existed && old.HasSocket(s.ID) {
				continue
			}
			if c.signal(s.ID) {
				metrics.IncRunSignal("targeted")
			}
		}
	}
}

func (c *Coordinator) signal(socket string) bool {
	if err := c.Sockets.Send(socket, "run"); err != nil {
		c.log.Warn("run signal not delivered", "socket", socket, "error", err)
		return false
	}
	return true
}

// Phase reports the lifecycle phase.
func (c *Coordinator) Phase() Phase { return Phase(c.phase.Load()) }

// Done is closed once Stop finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Status is the status Stop was called with.
func (c *Coordinator) Status() int { return int(c.status.Load()) }

// Start brings the run up: plugins, proxy, client, then the browsers, and
// waits for them to connect. Any failure is logged and tears the run down with
// status 1 before it is returned.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.phase.CompareAndSwap(int32(NotStarted), int32(Starting)) {
		return ErrAlreadyStarted
	}
	if err := c.start(ctx); err != nil {
		c.log.Error(err.Error())
		c.Stop(context.WithoutCancel(ctx), 1)
		return err
	}
	c.phase.CompareAndSwap(int32(Starting), int32(Running))
	c.log.Debug("starting tests")
	return nil
}

func (c *Coordinator) start(ctx context.Context) error {
	if c.Plugins != nil {
		c.log.Debug("starting plugins")
		if err := c.Plugins.Start(ctx); err != nil {
			return err
		}
	}
	c.log.Debug("starting proxy server")
	if err := c.Proxy.Start(ctx); err != nil {
		return err
	}
	c.log.Debug("starting client server")
	if err := c.Client.Start(ctx); err != nil {
		return err
	}
	if c.opts.Sampler != nil {
		c.opts.Sampler.Start(ctx)
	}
	c.log.Debug("launching browsers")
	if err := c.Launcher.Launch(ctx, c.Client.URL()); err != nil {
		return err
	}

	began := time.Now()
	err := converge.When(ctx, c.opts.ReadyTimeout, c.Store.Ready)
	metrics.ObserveReadinessWait(time.Since(began).Seconds())
	if errors.Is(err, converge.ErrTimeout) {
		return fmt.Errorf("%w within %s", ErrLaunchTimeout, c.opts.ReadyTimeout)
	}
	return err
}

// Stop tears the run down: browsers, client, proxy, plugins, then the exit
// callback. Only the first call does anything; stage failures are logged.
func (c *Coordinator) Stop(ctx context.Context, status int) {
	c.stopOnce.Do(func() {
		c.phase.Store(int32(Stopping))
		c.status.Store(int32(status))
		c.log.Debug("shutting down", "status", status)

		c.stage("closing browsers", func() error { return c.Launcher.Kill(ctx) })
		if c.opts.Sampler != nil {
			c.opts.Sampler.Stop()
		}
		c.stage("stopping client server", func() error { return c.Client.Stop(ctx) })
		c.stage("stopping proxy server", func() error { return c.Proxy.Stop(ctx) })
		if c.Plugins != nil {
			c.stage("stopping plugins", func() error { return c.Plugins.Stop(ctx) })
		}

		c.phase.Store(int32(Stopped))
		if c.opts.Exit != nil {
			c.opts.Exit(status)
		}
		close(c.done)
	})
}

func (c *Coordinator) stage(name string, fn func() error) {
	c.log.Debug(name)
	if err := fn(); err != nil {
		c.log.Warn(name+" failed", "error", err)
	}
}
