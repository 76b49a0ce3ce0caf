// Package state holds the run state shared by every connected browser and the
// mutations that evolve it. A mutation never edits a snapshot in place: it
// returns a new RunState whose BrowsersRev is bumped whenever the browser
// collection changed.
package state

import "strings"

// TestState is the lifecycle of a single test inside a browser.
type TestState string

const (
	TestPending TestState = "pending"
	TestRunning TestState = "running"
	TestPassed  TestState = "passed"
	TestFailed  TestState = "failed"
	TestSkipped TestState = "skipped"
)

// Test is one test as reported by an adapter.
type Test struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Path     []string  `json:"path,omitempty"`
	State    TestState `json:"state"`
	Duration int64     `json:"duration,omitempty"` // milliseconds
	Error    string    `json:"error,omitempty"`
}

// RunInfo is sent by an adapter when it starts running tests.
type RunInfo struct {
	Tests []Test `json:"tests"`
}

// Results is sent by an adapter when it is done. When Tests is nil the tests
// accumulated through updates are kept.
type Results struct {
	Tests []Test `json:"tests"`
}

// Meta identifies the socket a mutation originates from.
type Meta struct {
	SocketID  string
	UserAgent string
}

// BrowserID derives the browser identity from the user agent.
func (m Meta) BrowserID() string { return m.UserAgent }

// Launch describes a browser process started by the launcher.
type Launch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SocketState is one adapter connection.
type SocketState struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
}

// BrowserState groups the sockets opened by one browser.
type BrowserState struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Waiting  bool          `json:"waiting"`
	Running  bool          `json:"running"`
	Finished bool          `json:"finished"`
	Launched *Launch       `json:"launched,omitempty"`
	Sockets  []SocketState `json:"sockets"`
	Tests    []Test        `json:"tests"`
}

// HasSocket reports whether the browser owns a socket with the given id.
func (b BrowserState) HasSocket(id string) bool {
	for _, s := range b.Sockets {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Failed counts failed tests.
func (b BrowserState) Failed() int {
	n := 0
	for _, t := range b.Tests {
		if t.State == TestFailed {
			n++
		}
	}
	return n
}

// RunState is an immutable snapshot of the whole run.
type RunState struct {
	Ready       bool           `json:"ready"`
	Finished    bool           `json:"finished"`
	Status      int            `json:"status"`
	Browsers    []BrowserState `json:"browsers"`
	BrowsersRev uint64         `json:"browsersRev"`
	Launches    []Launch       `json:"launches"`
}

// Browser returns the browser with the given id.
func (s RunState) Browser(id string) (BrowserState, bool) {
	if i := s.browserIndex(id); i >= 0 {
		return s.Browsers[i], true
	}
	return BrowserState{}, false
}

func (s RunState) browserIndex(id string) int {
	for i, b := range s.Browsers {
		if b.ID == id {
			return i
		}
	}
	return -1
}

// Sockets counts connected sockets across browsers.
func (s RunState) Sockets() int {
	n := 0
	for _, b := range s.Browsers {
		n += len(b.Sockets)
	}
	return n
}

// BrowserName makes a short display name out of a user agent string.
func BrowserName(ua string) string {
	for _, p := range []struct{ token, name string }{
		{"Edg/", "Edge"},
		{"OPR/", "Opera"},
		{"Firefox/", "Firefox"},
		{"HeadlessChrome/", "Chrome Headless"},
		{"Chrome/", "Chrome"},
		{"Safari/", "Safari"},
	} {
		i := strings.Index(ua, p.token)
		if i < 0 {
			continue
		}
		v := ua[i+len(p.token):]
		if j := strings.IndexAny(v, " ;)"); j >= 0 {
			v = v[:j]
		}
		if j := strings.IndexByte(v, '.'); j >= 0 {
			v = v[:j]
		}
		if v == "" {
			return p.name
		}
		return p.name + " " + v
	}
	if ua == "" {
		return "unknown"
	}
	return ua
}
