package coordinator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/loykin/browserun/internal/plugin"
	"github.com/loykin/browserun/internal/server"
)

// journal records calls across fakes so ordering can be asserted.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.calls = append(j.calls, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type fakeTransport struct {
	name     string
	url      string
	j        *journal
	startErr error
	injected []server.Injection
}

func (f *fakeTransport) Start(context.Context) error {
	f.j.add(f.name + ".start")
	return f.startErr
}
func (f *fakeTransport) Stop(context.Context) error {
	f.j.add(f.name + ".stop")
	return nil
}
func (f *fakeTransport) URL() string                { return f.url }
func (f *fakeTransport) Inject(in server.Injection) { f.injected = append(f.injected, in) }

type fakeLauncher struct {
	j        *journal
	onLaunch func(url string)
	err      error
}

func (f *fakeLauncher) Launch(_ context.Context, url string) error {
	f.j.add("launch " + url)
	if f.onLaunch != nil {
		f.onLaunch(url)
	}
	return f.err
}
func (f *fakeLauncher) Kill(context.Context) error {
	f.j.add("kill")
	return nil
}

type journalPlugin struct{ j *journal }

func (f *journalPlugin) Name() string                { return "journal" }
func (f *journalPlugin) Setup(plugin.Host) error     { f.j.add("plugin.setup"); return nil }
func (f *journalPlugin) Start(context.Context) error { f.j.add("plugin.start"); return nil }
func (f *journalPlugin) Stop(context.Context) error  { f.j.add("plugin.stop"); return nil }

type sent struct {
	socket string
	event  string
	args   []any
}

// fakeSockets records outbound messages and lets tests fire inbound events.
// The adapter room is tracked the same way the real hub does it.
type fakeSockets struct {
	mu         sync.Mutex
	handlers   map[string][]server.Handler
	adapters   map[string]bool
	sends      []sent
	broadcasts []string
}

func newFakeSockets() *fakeSockets {
	return &fakeSockets{handlers: map[string][]server.Handler{}, adapters: map[string]bool{}}
}

func (f *fakeSockets) On(event string, h server.Handler) {
	f.mu.Lock()
	f.handlers[event] = append(f.handlers[event], h)
	f.mu.Unlock()
}

func (f *fakeSockets) Send(id, event string, args ...any) error {
	f.mu.Lock()
	f.sends = append(f.sends, sent{socket: id, event: event, args: args})
	f.mu.Unlock()
	return nil
}

func (f *fakeSockets) Broadcast(room, event string, args ...any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, room+":"+event)
	if room == "adapter" {
		return len(f.adapters)
	}
	return 0
}

func (f *fakeSockets) fire(event string, m server.Meta, args ...any) {
	var raw server.Args
	for _, a := range args {
		b, _ := json.Marshal(a)
		raw = append(raw, b)
	}
	f.mu.Lock()
	if event == "adapter/connect" {
		f.adapters[m.ID] = true
	}
	hs := append([]server.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(m, raw)
	}
}

func (f *fakeSockets) sendsOf(event string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sends {
		if s.event == event {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSockets) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}
