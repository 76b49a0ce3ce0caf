package process

import (
	"os"
	"os/exec"
	"strings"
)

// resolveCommand picks the first candidate that exists. Bare names are returned
// as given and looked up again by exec when spawning.
func resolveCommand(candidates []string) (string, bool) {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if strings.ContainsAny(c, `/\`) {
			if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
				return c, true
			}
			continue
		}
		if _, err := exec.LookPath(c); err == nil {
			return c, true
		}
	}
	return "", false
}

// Resolve returns the first candidate that can be executed.
func Resolve(candidates []string) (string, bool) { return resolveCommand(candidates) }
