// Package adapter wires an in-page test framework adapter into the run: it
// resolves the adapter bundle, has the proxy inject it, and maps the adapter's
// socket events onto store mutations.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loykin/browserun/internal/plugin"
	"github.com/loykin/browserun/internal/server"
	"github.com/loykin/browserun/internal/state"
)

// ScriptPath is the virtual path the adapter bundle is served from.
const ScriptPath = "/adapter.js"

// Plugin is the adapter plugin.
type Plugin struct {
	opts Options
	log  *slog.Logger
}

// New merges opts over the defaults for opts.Name and resolves the module
// unless one is given. Files referenced by the defaults are located through r
// and served by the proxy from their local copy.
func New(opts Options, r Resolver, log *slog.Logger) (*Plugin, error) {
	if log == nil {
		log = slog.Default()
	}
	def, err := serveDefaults(Defaults[opts.Name], r)
	if err != nil {
		return nil, err
	}
	opts = Merge(def, opts)
	if opts.Module == "" {
		if r == nil {
			return nil, &NotFoundError{Name: opts.Name}
		}
		module, err := r.Resolve(opts.Name)
		if err != nil {
			return nil, err
		}
		opts.Module = module
	}
	return &Plugin{opts: opts, log: log}, nil
}

// serveDefaults returns def with every script file resolved to a local path
// and exposed at the root of the proxy.
func serveDefaults(def Options, r Resolver) (Options, error) {
	resolve := func(list []server.Script) ([]server.Script, error) {
		out := make([]server.Script, 0, len(list))
		for _, s := range list {
			if s.Inline || s.Src == "" || s.Serve != "" {
				out = append(out, s)
				continue
			}
			fr, ok := r.(FileResolver)
			if !ok {
				return nil, &NotFoundError{Name: s.Src}
			}
			p, err := fr.ResolveFile(s.Src)
			if err != nil {
				return nil, err
			}
			s.Serve = p
			s.Src = "/" + strings.TrimPrefix(s.Src, "/")
			out = append(out, s)
		}
		return out, nil
	}
	var err error
	if def.Inject.Head, err = resolve(def.Inject.Head); err != nil {
		return def, err
	}
	if def.Inject.Body, err = resolve(def.Inject.Body); err != nil {
		return def, err
	}
	return def, nil
}

func (p *Plugin) Name() string { return "adapter" }

// Options returns the effective options.
func (p *Plugin) Options() Options { return p.opts }

// Setup injects the adapter bundle and its init call after any configured
// head scripts, and binds the adapter events to the store.
func (p *Plugin) Setup(h plugin.Host) error {
	payload, err := json.Marshal(p.opts.payload(h.Client.URL()))
	if err != nil {
		return fmt.Errorf("adapter payload: %w", err)
	}
	inject := p.opts.Inject
	inject.Head = append(append([]server.Script(nil), inject.Head...),
		server.Script{Src: ScriptPath, Serve: p.opts.Module},
		server.Script{Inline: true, InnerContent: fmt.Sprintf("__browserun__.default.init(%s)", payload)},
	)
	h.Proxy.Inject(inject)

	store := h.Store
	h.Sockets.On("adapter/connect", func(m server.Meta, _ server.Args) {
		store.ConnectBrowser(meta(m))
	})
	h.Sockets.On("adapter/disconnect", func(m server.Meta, _ server.Args) {
		store.DisconnectBrowser(meta(m))
	})
	h.Sockets.On("adapter/start", func(m server.Meta, args server.Args) {
		var info state.RunInfo
		p.decode(args, "adapter/start", &info)
		store.StartTests(meta(m), info)
	})
	h.Sockets.On("adapter/update", func(m server.Meta, args server.Args) {
		var t state.Test
		if !p.decode(args, "adapter/update", &t) {
			return
		}
		store.UpdateTests(meta(m), t)
	})
	h.Sockets.On("adapter/end", func(m server.Meta, args server.Args) {
		var res state.Results
		p.decode(args, "adapter/end", &res)
		store.EndTests(meta(m), res)
	})
	return nil
}

func (p *Plugin) decode(args server.Args, event string, v any) bool {
	if err := args.Decode(0, v); err != nil {
		p.log.Warn("bad adapter event", "event", event, "error", err)
		return false
	}
	return true
}

func (p *Plugin) Start(context.Context) error { return nil }
func (p *Plugin) Stop(context.Context) error  { return nil }

func meta(m server.Meta) state.Meta {
	return state.Meta{SocketID: m.ID, UserAgent: m.UserAgent}
}
