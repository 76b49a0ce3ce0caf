package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/browserun/internal/plugin"
	"github.com/loykin/browserun/internal/state"
)

const queueSize = 64

// Plugin records the result of every browser that finishes, plus one summary
// row when the whole run finishes. Writes happen on a background goroutine so
// store observers never wait on the sink.
type Plugin struct {
	sink  Sink
	runID string
	log   *slog.Logger

	mu      sync.Mutex
	queue   chan Event
	done    chan struct{}
	stopped bool
}

func NewPlugin(sink Sink, log *slog.Logger) *Plugin {
	if log == nil {
		log = slog.Default()
	}
	return &Plugin{sink: sink, runID: uuid.NewString(), log: log}
}

func (p *Plugin) Name() string { return "history" }

// RunID identifies this run in the recorded rows.
func (p *Plugin) RunID() string { return p.runID }

func (p *Plugin) Setup(h plugin.Host) error {
	if h.Store == nil {
		return errors.New("history plugin needs a store")
	}
	h.Store.Observe(p.observe)
	return nil
}

func (p *Plugin) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue != nil {
		return nil
	}
	p.queue = make(chan Event, queueSize)
	p.done = make(chan struct{})
	go p.drain(p.queue, p.done)
	return nil
}

// Stop flushes queued events and closes the sink when it is closable.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.queue != nil
	if started {
		close(p.queue)
	}
	done := p.done
	p.mu.Unlock()

	if started {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c, ok := p.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *Plugin) drain(queue <-chan Event, done chan<- struct{}) {
	defer close(done)
	for e := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), httpSinkTimeout)
		if err := p.sink.Send(ctx, e); err != nil {
			p.log.Warn("history send failed", "event", e.Type, "browser", e.Record.Browser, "error", err)
		}
		cancel()
	}
}

func (p *Plugin) observe(prev, next state.RunState) {
	now := time.Now()
	for _, b := range next.Browsers {
		old, ok := prev.Browser(b.ID)
		if b.Finished && !(ok && old.Finished) {
			p.enqueue(Event{Type: EventBrowserEnd, OccurredAt: now, Record: p.record(b)})
		}
	}
	if next.Finished && !prev.Finished {
		rec := Record{RunID: p.runID, Browser: "*", UserAgent: "*", Status: next.Status}
		for _, b := range next.Browsers {
			r := p.record(b)
			rec.Total += r.Total
			rec.Passed += r.Passed
			rec.Failed += r.Failed
			rec.Skipped += r.Skipped
		}
		p.enqueue(Event{Type: EventRunEnd, OccurredAt: now, Record: rec})
	}
}

func (p *Plugin) record(b state.BrowserState) Record {
	r := Record{RunID: p.runID, Browser: b.Name, UserAgent: b.ID, Total: len(b.Tests)}
	if b.Launched != nil {
		r.Launch = b.Launched.ID
	}
	for _, t := range b.Tests {
		switch t.State {
		case state.TestPassed:
			r.Passed++
		case state.TestFailed:
			r.Failed++
		case state.TestSkipped:
			r.Skipped++
		}
	}
	if r.Failed > 0 {
		r.Status = 1
	}
	return r
}

func (p *Plugin) enqueue(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue == nil || p.stopped {
		return
	}
	select {
	case p.queue <- e:
	default:
		p.log.Warn("history queue full, dropping event", "event", e.Type)
	}
}
