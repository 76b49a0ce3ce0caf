package process

import (
	"io"
	"log/slog"
	"time"
)

// DefaultKillTimeout bounds each wait for the process to go away after a signal.
const DefaultKillTimeout = 2 * time.Second

// Spec describes a logical child process.
// Command lists candidates in order; the first one found is used. Candidates that
// contain a path separator are checked on the filesystem, bare names on PATH.
type Spec struct {
	Name    string            `json:"name" mapstructure:"name"`
	Command []string          `json:"command" mapstructure:"command"`
	Args    []string          `json:"args" mapstructure:"args"`
	Env     map[string]string `json:"env" mapstructure:"env"` // merged over the OS environment
}

// DisplayName returns Name or a generic placeholder.
func (s Spec) DisplayName() string {
	if s.Name == "" {
		return "child process"
	}
	return s.Name
}

// Options tune supervision behaviour. The zero value is usable.
type Options struct {
	// KillTimeout is how long Kill waits for the process to exit before
	// escalating to SIGKILL. Defaults to DefaultKillTimeout.
	KillTimeout time.Duration
	// KillAttempts caps the number of forceful escalations. Zero means retry forever.
	KillAttempts int
	Logger       *slog.Logger
}

func (o Options) killTimeout() time.Duration {
	if o.KillTimeout <= 0 {
		return DefaultKillTimeout
	}
	return o.KillTimeout
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Sinks names the writers a process's output is forwarded to. Either may be nil.
// Sinks are compared by identity, so they must be comparable values (pointers,
// *os.File and the like).
type Sinks struct {
	Stdout io.Writer
	Stderr io.Writer
}
