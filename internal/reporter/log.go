package reporter

import (
	"log/slog"

	"github.com/loykin/browserun/internal/state"
)

// Log writes structured records for browser connects, test starts and ends.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{log: log}
}

func (l *Log) Process(prev, next state.RunState) {
	if next.Ready && !prev.Ready {
		l.log.Info("run ready", "browsers", len(next.Browsers), "sockets", next.Sockets())
	}
	if prev.BrowsersRev != next.BrowsersRev {
		for _, b := range next.Browsers {
			old, existed := prev.Browser(b.ID)
			switch {
			case len(b.Sockets) > len(old.Sockets):
				l.log.Info("browser connected", "browser", b.Name, "sockets", len(b.Sockets))
			case existed && len(b.Sockets) < len(old.Sockets):
				l.log.Info("browser disconnected", "browser", b.Name, "sockets", len(b.Sockets))
			}
			if b.Launched != nil && (old.Launched == nil || old.Launched.ID != b.Launched.ID) {
				l.log.Debug("browser launched", "browser", b.Name, "launch", b.Launched.ID)
			}
			if b.Running && !old.Running {
				l.log.Info("tests started", "browser", b.Name, "tests", len(b.Tests))
			}
			if b.Finished && !old.Finished {
				c := count(b)
				l.log.Info("tests finished", "browser", b.Name, "passed", c.passed, "failed", c.failed, "skipped", c.skipped)
			}
		}
	}
	if next.Finished && !prev.Finished {
		l.log.Info("run finished", "status", next.Status)
	}
}
