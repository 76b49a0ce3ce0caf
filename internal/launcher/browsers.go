package launcher

import (
	"runtime"
	"strings"

	"github.com/loykin/browserun/internal/process"
)

// Browser is one configured browser. Command may be left empty for the
// built-in browsers, in which case the known executable locations and flags
// are used. Custom browsers get the target URL appended to Args. Env holds
// KEY=VALUE pairs; a later pair overrides an earlier one.
type Browser struct {
	Name    string   `mapstructure:"name"`
	Command []string `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Env     []string `mapstructure:"env"`
}

func (b Browser) envMap() map[string]string {
	if len(b.Env) == 0 {
		return nil
	}
	m := make(map[string]string, len(b.Env))
	for _, kv := range b.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// definition is a built-in browser: where to find it and how to start it.
type definition struct {
	commands map[string][]string // GOOS -> candidates
	args     func(profile, url string) []string
}

func chromeArgs(headless bool) func(string, string) []string {
	return func(profile, url string) []string {
		args := []string{
			"--user-data-dir=" + profile,
			"--no-first-run",
			"--no-default-browser-check",
			"--disable-background-timer-throttling",
			"--disable-renderer-backgrounding",
		}
		if headless {
			args = append(args, "--headless=new", "--disable-gpu", "--remote-debugging-port=0")
		}
		return append(args, url)
	}
}

func firefoxArgs(headless bool) func(string, string) []string {
	return func(profile, url string) []string {
		args := []string{"-profile", profile, "-no-remote", "-new-instance"}
		if headless {
			args = append(args, "-headless")
		}
		return append(args, url)
	}
}

var chromeCommands = map[string][]string{
	"darwin": {"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome", "/Applications/Chromium.app/Contents/MacOS/Chromium"},
	"linux":  {"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
}

var firefoxCommands = map[string][]string{
	"darwin":  {"/Applications/Firefox.app/Contents/MacOS/firefox"},
	"linux":   {"firefox"},
	"windows": {`C:\Program Files\Mozilla Firefox\firefox.exe`, `C:\Program Files (x86)\Mozilla Firefox\firefox.exe`},
}

var builtins = map[string]definition{
	"chrome":           {commands: chromeCommands, args: chromeArgs(false)},
	"chrome-headless":  {commands: chromeCommands, args: chromeArgs(true)},
	"firefox":          {commands: firefoxCommands, args: firefoxArgs(false)},
	"firefox-headless": {commands: firefoxCommands, args: firefoxArgs(true)},
}

// Builtins lists the names of the built-in browsers.
func Builtins() []string {
	return []string{"chrome", "chrome-headless", "firefox", "firefox-headless"}
}

// IsBuiltin reports whether name is a built-in browser.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// candidates returns the executables tried for a built-in browser on this OS.
func (d definition) candidates() []string {
	if c, ok := d.commands[runtime.GOOS]; ok {
		return c
	}
	return d.commands["linux"]
}

// Locate returns the executable a built-in browser would be started with on
// this machine.
func Locate(name string) (string, bool) {
	def, ok := builtins[name]
	if !ok {
		return "", false
	}
	return process.Resolve(def.candidates())
}
