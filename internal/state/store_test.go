package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chromeUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36"
const firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"

func meta(socket, ua string) Meta { return Meta{SocketID: socket, UserAgent: ua} }

func TestConnectBrowserGroupsSocketsByUserAgent(t *testing.T) {
	s := NewStore()
	s.ConnectBrowser(meta("s1", chromeUA))
	s.ConnectBrowser(meta("s2", chromeUA))
	s.ConnectBrowser(meta("s3", firefoxUA))

	st := s.State()
	require.Len(t, st.Browsers, 2)
	assert.Equal(t, "Chrome Headless 120", st.Browsers[0].Name)
	assert.Equal(t, "Firefox 121", st.Browsers[1].Name)
	assert.Len(t, st.Browsers[0].Sockets, 2)
	assert.True(t, st.Browsers[0].Waiting)
	assert.True(t, st.Ready, "connected browsers with no expected launches are ready")
}

func TestMutationsDoNotAliasPreviousSnapshot(t *testing.T) {
	s := NewStore()
	prev, next := s.Dispatch("connectBrowser", ConnectBrowser(meta("s1", chromeUA)))
	assert.Empty(t, prev.Browsers)
	require.Len(t, next.Browsers, 1)

	before := s.State()
	s.ConnectBrowser(meta("s2", chromeUA))
	assert.Len(t, before.Browsers[0].Sockets, 1, "old snapshot must be untouched")
	assert.Len(t, s.State().Browsers[0].Sockets, 2)
}

func TestBrowsersRevisionTracksChanges(t *testing.T) {
	s := NewStore()
	s.ConnectBrowser(meta("s1", chromeUA))
	rev := s.State().BrowsersRev

	s.ExpectLaunch(Launch{ID: "l1", Name: "chrome"})
	assert.Equal(t, rev, s.State().BrowsersRev, "launch bookkeeping does not touch browsers")

	s.DisconnectBrowser(meta("unknown", chromeUA))
	assert.Equal(t, rev, s.State().BrowsersRev, "no-op disconnect keeps the revision")

	s.StartTests(meta("s1", chromeUA), RunInfo{})
	assert.Greater(t, s.State().BrowsersRev, rev)
}

func TestReadyWaitsForExpectedLaunches(t *testing.T) {
	s := NewStore()
	s.ExpectLaunch(Launch{ID: "l1", Name: "chrome"})
	s.ExpectLaunch(Launch{ID: "l2", Name: "firefox"})

	s.ConnectBrowser(meta("s1", chromeUA))
	s.UpdateLaunched(meta("c1", chromeUA), "l1")
	assert.False(t, s.Ready(), "second launch still missing")

	s.UpdateLaunched(meta("c2", firefoxUA), "l2")
	assert.False(t, s.Ready(), "launched firefox has no adapter socket yet")

	s.ConnectBrowser(meta("s2", firefoxUA))
	assert.True(t, s.Ready())

	b, ok := s.State().Browser(firefoxUA)
	require.True(t, ok)
	require.NotNil(t, b.Launched)
	assert.Equal(t, "firefox", b.Launched.Name)
}

func TestReadyLatches(t *testing.T) {
	s := NewStore()
	s.ConnectBrowser(meta("s1", chromeUA))
	require.True(t, s.Ready())
	s.DisconnectBrowser(meta("s1", chromeUA))
	assert.True(t, s.Ready(), "readiness stays reached for the run")
}

func TestRunLifecycleFinishesWithStatus(t *testing.T) {
	s := NewStore()
	m := meta("s1", chromeUA)
	s.ConnectBrowser(m)
	s.StartTests(m, RunInfo{Tests: []Test{{ID: "a", Name: "a", State: TestPending}, {ID: "b", Name: "b", State: TestPending}}})
	st := s.State()
	assert.False(t, st.Browsers[0].Waiting)
	assert.True(t, st.Browsers[0].Running)
	assert.False(t, st.Finished)

	s.UpdateTests(m, Test{ID: "a", Name: "a", State: TestPassed})
	s.UpdateTests(m, Test{ID: "b", Name: "b", State: TestFailed, Error: "boom"})
	s.EndTests(m, Results{})

	st = s.State()
	assert.True(t, st.Finished)
	assert.Equal(t, 1, st.Status)
	assert.Len(t, st.Browsers[0].Tests, 2)
}

func TestReloadRearmsWaiting(t *testing.T) {
	s := NewStore()
	s.ConnectBrowser(meta("s1", chromeUA))
	s.StartTests(meta("s1", chromeUA), RunInfo{})
	s.EndTests(meta("s1", chromeUA), Results{})
	require.True(t, s.State().Finished)

	s.DisconnectBrowser(meta("s1", chromeUA))
	s.ConnectBrowser(meta("s2", chromeUA))
	b, _ := s.State().Browser(chromeUA)
	assert.True(t, b.Waiting)
	assert.False(t, s.State().Finished)
}

func TestObserversRunInOrderPerMutation(t *testing.T) {
	s := NewStore()
	var mu sync.Mutex
	var calls []string
	s.Observe(func(prev, next RunState) {
		mu.Lock()
		calls = append(calls, "reporter")
		mu.Unlock()
	})
	s.Observe(func(prev, next RunState) {
		mu.Lock()
		calls = append(calls, "transition")
		mu.Unlock()
	})
	s.ConnectBrowser(meta("s1", chromeUA))
	s.ConnectBrowser(meta("s2", chromeUA))
	assert.Equal(t, []string{"reporter", "transition", "reporter", "transition"}, calls)
}

func TestConcurrentDispatchesAreSerialized(t *testing.T) {
	s := NewStore()
	var last uint64
	violations := 0
	s.Observe(func(prev, next RunState) {
		// each observer call sees the state produced right before it
		if prev.BrowsersRev != last {
			violations++
		}
		last = next.BrowsersRev
	})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.ConnectBrowser(meta(string(rune('a'+i)), chromeUA))
		}(i)
	}
	wg.Wait()
	assert.Zero(t, violations)
	assert.Len(t, s.State().Browsers[0].Sockets, 20)
}

func TestBrowserName(t *testing.T) {
	assert.Equal(t, "Firefox 121", BrowserName(firefoxUA))
	assert.Equal(t, "Edge 120", BrowserName("Mozilla/5.0 Chrome/120.0 Safari/537.36 Edg/120.0.1"))
	assert.Equal(t, "unknown", BrowserName(""))
	assert.Equal(t, "curl/8", BrowserName("curl/8"))
}
