package state

// Mutation computes the next state from the previous one. Implementations must
// not modify prev or anything reachable from it.
type Mutation func(prev RunState) RunState

// withBrowser returns a copy of s whose browser list is a fresh slice with the
// browser id replaced by fn's result. When the browser does not exist and
// create is set, fn receives a zero browser that is appended. The browsers
// revision is bumped only when something changed.
func withBrowser(s RunState, id string, create bool, fn func(b BrowserState) BrowserState) RunState {
	i := s.browserIndex(id)
	if i < 0 && !create {
		return s
	}
	next := make([]BrowserState, len(s.Browsers), len(s.Browsers)+1)
	copy(next, s.Browsers)
	if i < 0 {
		next = append(next, fn(BrowserState{ID: id}))
	} else {
		next[i] = fn(next[i])
	}
	s.Browsers = next
	s.BrowsersRev++
	return s
}

// ConnectBrowser registers the socket under its browser. A browser that is not
// running tests becomes waiting, which is how a reloaded page asks to run again.
func ConnectBrowser(meta Meta) Mutation {
	return func(prev RunState) RunState {
		return withBrowser(prev, meta.BrowserID(), true, func(b BrowserState) BrowserState {
			if b.Name == "" {
				b.Name = BrowserName(meta.UserAgent)
			}
			if !b.HasSocket(meta.SocketID) {
				socks := make([]SocketState, len(b.Sockets), len(b.Sockets)+1)
				copy(socks, b.Sockets)
				b.Sockets = append(socks, SocketState{ID: meta.SocketID, Connected: true})
			}
			if !b.Running {
				b.Waiting = true
				b.Finished = false
			}
			return b
		})
	}
}

// DisconnectBrowser drops the socket. A browser left without sockets is no
// longer waiting or running.
func DisconnectBrowser(meta Meta) Mutation {
	return func(prev RunState) RunState {
		b, ok := prev.Browser(meta.BrowserID())
		if !ok || !b.HasSocket(meta.SocketID) {
			return prev
		}
		return withBrowser(prev, meta.BrowserID(), false, func(b BrowserState) BrowserState {
			socks := make([]SocketState, 0, len(b.Sockets))
			for _, s := range b.Sockets {
				if s.ID != meta.SocketID {
					socks = append(socks, s)
				}
			}
			b.Sockets = socks
			if len(socks) == 0 {
				b.Waiting = false
				b.Running = false
			}
			return b
		})
	}
}

// StartTests marks the browser as running the given tests.
func StartTests(meta Meta, info RunInfo) Mutation {
	return func(prev RunState) RunState {
		return withBrowser(prev, meta.BrowserID(), false, func(b BrowserState) BrowserState {
			b.Waiting = false
			b.Running = true
			b.Finished = false
			b.Tests = append([]Test(nil), info.Tests...)
			return b
		})
	}
}

// UpdateTests replaces or appends one test by id.
func UpdateTests(meta Meta, t Test) Mutation {
	return func(prev RunState) RunState {
		return withBrowser(prev, meta.BrowserID(), false, func(b BrowserState) BrowserState {
			tests := make([]Test, len(b.Tests), len(b.Tests)+1)
			copy(tests, b.Tests)
			replaced := false
			for i := range tests {
				if tests[i].ID == t.ID {
					tests[i] = t
					replaced = true
					break
				}
			}
			if !replaced {
				tests = append(tests, t)
			}
			b.Tests = tests
			return b
		})
	}
}

// EndTests marks the browser as finished.
func EndTests(meta Meta, res Results) Mutation {
	return func(prev RunState) RunState {
		return withBrowser(prev, meta.BrowserID(), false, func(b BrowserState) BrowserState {
			b.Waiting = false
			b.Running = false
			b.Finished = true
			if res.Tests != nil {
				b.Tests = append([]Test(nil), res.Tests...)
			}
			return b
		})
	}
}

// ExpectLaunch records a browser process the run has to wait for.
func ExpectLaunch(l Launch) Mutation {
	return func(prev RunState) RunState {
		for _, existing := range prev.Launches {
			if existing.ID == l.ID {
				return prev
			}
		}
		next := make([]Launch, len(prev.Launches), len(prev.Launches)+1)
		copy(next, prev.Launches)
		prev.Launches = append(next, l)
		return prev
	}
}

// UpdateLaunched attaches launch metadata to the browser the socket belongs to.
func UpdateLaunched(meta Meta, launchID string) Mutation {
	return func(prev RunState) RunState {
		l := Launch{ID: launchID}
		for _, existing := range prev.Launches {
			if existing.ID == launchID {
				l = existing
				break
			}
		}
		return withBrowser(prev, meta.BrowserID(), true, func(b BrowserState) BrowserState {
			if b.Name == "" {
				b.Name = BrowserName(meta.UserAgent)
			}
			b.Launched = &l
			return b
		})
	}
}

// derive recomputes the aggregate flags. Ready latches: once reached it stays
// true for the rest of the run so the kickoff broadcast happens only once.
func derive(s RunState) RunState {
	if !s.Ready {
		s.Ready = ready(s)
	}
	s.Finished = s.Ready && finished(s)
	s.Status = 0
	for _, b := range s.Browsers {
		if b.Failed() > 0 {
			s.Status = 1
			break
		}
	}
	return s
}

func ready(s RunState) bool {
	connected := false
	for _, b := range s.Browsers {
		if len(b.Sockets) > 0 {
			connected = true
			break
		}
	}
	if !connected {
		return false
	}
	for _, l := range s.Launches {
		attached := false
		for _, b := range s.Browsers {
			if b.Launched != nil && b.Launched.ID == l.ID && len(b.Sockets) > 0 {
				attached = true
				break
			}
		}
		if !attached {
			return false
		}
	}
	return true
}

func finished(s RunState) bool {
	active := 0
	for _, b := range s.Browsers {
		if len(b.Sockets) == 0 && !b.Running {
			if b.Finished {
				active++
			}
			continue
		}
		active++
		if b.Running || !b.Finished {
			return false
		}
	}
	return active > 0
}
