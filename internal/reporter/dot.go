package reporter

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/loykin/browserun/internal/state"
)

var (
	colorSuccess = lipgloss.Color("#10B981")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#9CA3AF")
)

// Dot prints one character per finished test and a summary once the run is
// finished.
type Dot struct {
	w io.Writer

	mu      sync.Mutex
	pass    lipgloss.Style
	fail    lipgloss.Style
	muted   lipgloss.Style
	bold    lipgloss.Style
	printed bool
}

// NewDot writes to w. Colors are only used when w is a terminal.
func NewDot(w io.Writer) *Dot {
	r := lipgloss.NewRenderer(w)
	return &Dot{
		w:     w,
		pass:  r.NewStyle().Foreground(colorSuccess),
		fail:  r.NewStyle().Foreground(colorError),
		muted: r.NewStyle().Foreground(colorMuted),
		bold:  r.NewStyle().Bold(true),
	}
}

func (d *Dot) Process(prev, next state.RunState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev.BrowsersRev != next.BrowsersRev {
		for _, b := range next.Browsers {
			old, _ := prev.Browser(b.ID)
			for _, t := range completed(old, b) {
				d.printed = true
				switch t.State {
				case state.TestPassed:
					_, _ = io.WriteString(d.w, d.pass.Render("."))
				case state.TestFailed:
					_, _ = io.WriteString(d.w, d.fail.Render("F"))
				default:
					_, _ = io.WriteString(d.w, d.muted.Render("-"))
				}
			}
		}
	}

	if next.Finished && !prev.Finished {
		d.summary(next)
	}
}

func (d *Dot) summary(s state.RunState) {
	var sb strings.Builder
	if d.printed {
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	for _, b := range s.Browsers {
		c := count(b)
		line := fmt.Sprintf("%s: %s, %s", d.bold.Render(b.Name),
			d.pass.Render(fmt.Sprintf("%d passed", c.passed)),
			d.failStyle(c.failed).Render(fmt.Sprintf("%d failed", c.failed)))
		if c.skipped > 0 {
			line += ", " + d.muted.Render(fmt.Sprintf("%d skipped", c.skipped))
		}
		sb.WriteString(line + "\n")
		for _, t := range b.Tests {
			if t.State != state.TestFailed {
				continue
			}
			name := strings.Join(append(append([]string(nil), t.Path...), t.Name), " > ")
			sb.WriteString("  " + d.fail.Render("✖ "+name) + "\n")
			if t.Error != "" {
				for _, ln := range strings.Split(strings.TrimRight(t.Error, "\n"), "\n") {
					sb.WriteString("    " + d.muted.Render(ln) + "\n")
				}
			}
		}
	}
	_, _ = io.WriteString(d.w, sb.String())
	d.printed = false
}

func (d *Dot) failStyle(n int) lipgloss.Style {
	if n > 0 {
		return d.fail
	}
	return d.muted
}
