package process

import (
	"errors"
	"fmt"
	"strings"
)

// ErrKillAbandoned is returned by Kill when Options.KillAttempts is set and the
// process survived that many forceful signals.
var ErrKillAbandoned = errors.New("process did not terminate")

// CommandNotFoundError reports that no command candidate could be resolved.
type CommandNotFoundError struct {
	Name       string
	Candidates []string
}

func (e *CommandNotFoundError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("command not found for %s", e.Name)
	}
	return fmt.Sprintf("command not found for %s (tried %s)", e.Name, strings.Join(e.Candidates, ", "))
}

// ExitError reports a nonzero exit code.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s failed with exit code %d", e.Command, e.Code)
}

// SpawnError wraps failures of the OS process layer (start or wait).
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Name, e.Err) }

func (e *SpawnError) Unwrap() error { return e.Err }

// IsExitError reports whether err carries a nonzero exit code and returns it.
func IsExitError(err error) (int, bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code, true
	}
	return 0, false
}
