// Package reporter turns state transitions into user facing output.
package reporter

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/loykin/browserun/internal/state"
)

// Reporter receives every state transition in mutation order.
type Reporter interface {
	Process(prev, next state.RunState)
}

// Multi fans a transition out to several reporters.
type Multi []Reporter

func (m Multi) Process(prev, next state.RunState) {
	for _, r := range m {
		r.Process(prev, next)
	}
}

// New builds the named reporters. Known names are "dot" and "log".
func New(names []string, w io.Writer, log *slog.Logger) (Multi, error) {
	var out Multi
	for _, name := range names {
		switch name {
		case "dot":
			out = append(out, NewDot(w))
		case "log":
			out = append(out, NewLog(log))
		default:
			return nil, fmt.Errorf("unknown reporter %q", name)
		}
	}
	return out, nil
}

// completed reports tests of b that reached a final state in this transition.
func completed(prev state.BrowserState, b state.BrowserState) []state.Test {
	before := make(map[string]state.TestState, len(prev.Tests))
	for _, t := range prev.Tests {
		before[t.ID] = t.State
	}
	var out []state.Test
	for _, t := range b.Tests {
		if !final(t.State) {
			continue
		}
		if old, ok := before[t.ID]; ok && final(old) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func final(s state.TestState) bool {
	return s == state.TestPassed || s == state.TestFailed || s == state.TestSkipped
}

type counts struct{ passed, failed, skipped int }

func count(b state.BrowserState) counts {
	var c counts
	for _, t := range b.Tests {
		switch t.State {
		case state.TestPassed:
			c.passed++
		case state.TestFailed:
			c.failed++
		case state.TestSkipped:
			c.skipped++
		}
	}
	return c
}
