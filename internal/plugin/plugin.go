// Package plugin runs the optional pieces that hook into a run: each plugin
// gets access to the transports and the store during Setup, and is started and
// stopped together with the run.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loykin/browserun/internal/server"
	"github.com/loykin/browserun/internal/state"
)

// Client is the part of the client server plugins use.
type Client interface {
	URL() string
}

// Proxy is the part of the proxy server plugins use.
type Proxy interface {
	URL() string
	Inject(server.Injection)
}

// Sockets is the socket hub as seen by plugins and the coordinator.
type Sockets interface {
	On(event string, h server.Handler)
	Send(id, event string, args ...any) error
	Broadcast(room, event string, args ...any) int
}

// Host is what a plugin receives during Setup.
type Host struct {
	Client  Client
	Proxy   Proxy
	Sockets Sockets
	Store   *state.Store
}

// Plugin is one unit of optional run behavior.
type Plugin interface {
	Name() string
	Setup(h Host) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager runs plugins in registration order and stops them in reverse.
type Manager struct {
	plugins []Plugin
	log     *slog.Logger
}

func NewManager(log *slog.Logger, plugins ...Plugin) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{plugins: plugins, log: log}
}

// Add appends a plugin.
func (m *Manager) Add(p Plugin) { m.plugins = append(m.plugins, p) }

// Names lists registered plugins in order.
func (m *Manager) Names() []string {
	out := make([]string, len(m.plugins))
	for i, p := range m.plugins {
		out[i] = p.Name()
	}
	return out
}

// Setup calls Setup on every plugin and stops at the first error.
func (m *Manager) Setup(h Host) error {
	for _, p := range m.plugins {
		if err := p.Setup(h); err != nil {
			return fmt.Errorf("plugin %s setup: %w", p.Name(), err)
		}
	}
	return nil
}

// Start starts every plugin and stops at the first error.
func (m *Manager) Start(ctx context.Context) error {
	for _, p := range m.plugins {
		m.log.Debug("starting plugin", "plugin", p.Name())
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("plugin %s start: %w", p.Name(), err)
		}
	}
	return nil
}

// Stop stops every plugin in reverse order and returns all errors joined.
func (m *Manager) Stop(ctx context.Context) error {
	var errs []error
	for i := len(m.plugins) - 1; i >= 0; i-- {
		p := m.plugins[i]
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s stop: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
