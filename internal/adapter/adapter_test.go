package adapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/browserun/internal/plugin"
	"github.com/loykin/browserun/internal/server"
	"github.com/loykin/browserun/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct{ url string }

func (c fakeClient) URL() string { return c.url }

type fakeProxy struct{ injected []server.Injection }

func (p *fakeProxy) URL() string                { return "http://localhost:9001" }
func (p *fakeProxy) Inject(in server.Injection) { p.injected = append(p.injected, in) }

type fakeSockets struct{ handlers map[string][]server.Handler }

func (s *fakeSockets) On(event string, h server.Handler) {
	if s.handlers == nil {
		s.handlers = map[string][]server.Handler{}
	}
	s.handlers[event] = append(s.handlers[event], h)
}
func (s *fakeSockets) Send(string, string, ...any) error   { return nil }
func (s *fakeSockets) Broadcast(string, string, ...any) int { return 0 }

func (s *fakeSockets) fire(event string, m server.Meta, args ...any) {
	var raw server.Args
	for _, a := range args {
		b, _ := json.Marshal(a)
		raw = append(raw, b)
	}
	for _, h := range s.handlers[event] {
		h(m, raw)
	}
}

func TestLocalResolver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "qunit.js"), []byte("//"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "browserun-adapter-mocha"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "browserun-adapter-mocha", "index.js"), []byte("//"), 0o644))

	r := LocalResolver{Dirs: []string{filepath.Join(dir, "missing"), dir}}
	p, err := r.Resolve("qunit")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "qunit.js"), p)

	p, err = r.Resolve("mocha")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "browserun-adapter-mocha", "index.js"), p)

	_, err = r.Resolve("jest")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "jest", nf.Name)
	assert.Equal(t, `cannot find adapter "jest"`, err.Error())
}

func TestNewSkipsResolutionWithExplicitModule(t *testing.T) {
	called := false
	r := ResolverFunc(func(string) (string, error) { called = true; return "", errors.New("unused") })
	p, err := New(Options{Name: "tap", Module: "/opt/tap-adapter.js"}, r, nil)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, "/opt/tap-adapter.js", p.Options().Module)
}

func TestNewFailsWhenUnresolved(t *testing.T) {
	_, err := New(Options{Name: "nope"}, LocalResolver{Dirs: []string{t.TempDir()}}, nil)
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestMergeKeepsDefaultInjectFirst(t *testing.T) {
	user := Options{
		Name:     "mocha",
		Inject:   server.Injection{Head: []server.Script{{Src: "/chai.js"}}, Body: []server.Script{{Src: "/tests.js"}}},
		Settings: map[string]any{"ui": "bdd"},
	}
	got := Merge(Defaults["mocha"], user)
	require.Len(t, got.Inject.Head, 2)
	assert.Equal(t, "mocha/mocha.js", got.Inject.Head[0].Src)
	assert.Equal(t, "/chai.js", got.Inject.Head[1].Src)
	assert.Equal(t, "/tests.js", got.Inject.Body[0].Src)
	assert.Equal(t, "bdd", got.Settings["ui"])
	assert.Len(t, Defaults["mocha"].Inject.Head, 1, "defaults are not modified")
}

// frameworkDir lays out a node_modules style directory holding mocha.
func frameworkDir(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	bundle := filepath.Join(dir, "mocha", "mocha.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(bundle), 0o755))
	require.NoError(t, os.WriteFile(bundle, []byte("window.mocha = {};"), 0o644))
	return dir, bundle
}

func TestNewServesDefaultInjectionsLocally(t *testing.T) {
	dir, bundle := frameworkDir(t)
	p, err := New(Options{Name: "mocha", Module: "/opt/adapter.js"}, LocalResolver{Dirs: []string{dir}}, nil)
	require.NoError(t, err)
	require.Len(t, p.Options().Inject.Head, 1)
	assert.Equal(t, server.Script{Src: "/mocha/mocha.js", Serve: bundle}, p.Options().Inject.Head[0])
	assert.Equal(t, "mocha/mocha.js", Defaults["mocha"].Inject.Head[0].Src, "defaults are not modified")

	proxy := server.NewProxy(server.ProxyOptions{}, nil)
	require.NoError(t, p.Setup(plugin.Host{Client: fakeClient{}, Proxy: proxy, Sockets: &fakeSockets{}, Store: state.NewStore()}))
	h, err := proxy.Handler()
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mocha/mocha.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "window.mocha = {};", rec.Body.String())
}

func TestNewFailsWhenDefaultFileMissing(t *testing.T) {
	_, err := New(Options{Name: "jasmine", Module: "/opt/adapter.js"}, LocalResolver{Dirs: []string{t.TempDir()}}, nil)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "jasmine-core/lib/jasmine-core/jasmine.js", nf.Name)

	_, err = New(Options{Name: "mocha", Module: "/opt/adapter.js"}, nil, nil)
	assert.True(t, errors.As(err, &nf), "default files need a resolver")
}

func TestSetupInjectsAdapterAfterConfiguredHead(t *testing.T) {
	dir, bundle := frameworkDir(t)
	p, err := New(Options{
		Name:     "mocha",
		Module:   "/opt/adapter.js",
		Inject:   server.Injection{Head: []server.Script{{Src: "/chai.js"}}},
		Settings: map[string]any{"timeout": 2000},
	}, LocalResolver{Dirs: []string{dir}}, nil)
	require.NoError(t, err)

	proxy := &fakeProxy{}
	require.NoError(t, p.Setup(plugin.Host{
		Client:  fakeClient{url: "http://localhost:9000"},
		Proxy:   proxy,
		Sockets: &fakeSockets{},
		Store:   state.NewStore(),
	}))

	require.Len(t, proxy.injected, 1)
	head := proxy.injected[0].Head
	require.Len(t, head, 4)
	assert.Equal(t, server.Script{Src: "/mocha/mocha.js", Serve: bundle}, head[0])
	assert.Equal(t, "/chai.js", head[1].Src)
	assert.Equal(t, server.Script{Src: ScriptPath, Serve: "/opt/adapter.js"}, head[2])
	assert.True(t, head[3].Inline)

	content := head[3].InnerContent
	require.True(t, strings.HasPrefix(content, "__browserun__.default.init(") && strings.HasSuffix(content, ")"))
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(content, "__browserun__.default.init("), ")")), &payload))
	assert.Equal(t, "http://localhost:9000", payload["client"])
	assert.Equal(t, "mocha", payload["name"])
	assert.EqualValues(t, 2000, payload["timeout"])
	assert.NotContains(t, payload, "inject")
}

func TestSetupBindsAdapterEvents(t *testing.T) {
	p, err := New(Options{Name: "tap", Module: "/opt/adapter.js"}, nil, nil)
	require.NoError(t, err)
	sockets := &fakeSockets{}
	store := state.NewStore()
	require.NoError(t, p.Setup(plugin.Host{Client: fakeClient{}, Proxy: &fakeProxy{}, Sockets: sockets, Store: store}))

	for _, ev := range []string{"adapter/connect", "adapter/disconnect", "adapter/start", "adapter/update", "adapter/end"} {
		assert.Len(t, sockets.handlers[ev], 1, ev)
	}

	m := server.Meta{ID: "s1", UserAgent: "Firefox/121.0"}
	sockets.fire("adapter/connect", m)
	b, ok := store.State().Browser(m.UserAgent)
	require.True(t, ok)
	assert.True(t, b.HasSocket("s1"))

	sockets.fire("adapter/start", m, state.RunInfo{Tests: []state.Test{{ID: "t1", Name: "works", State: state.TestPending}}})
	sockets.fire("adapter/update", m, state.Test{ID: "t1", Name: "works", State: state.TestFailed})
	sockets.fire("adapter/end", m)

	b, _ = store.State().Browser(m.UserAgent)
	assert.True(t, b.Finished)
	require.Len(t, b.Tests, 1)
	assert.Equal(t, state.TestFailed, b.Tests[0].State)
	assert.Equal(t, 1, store.State().Status)

	sockets.fire("adapter/disconnect", m)
	b, _ = store.State().Browser(m.UserAgent)
	assert.Empty(t, b.Sockets)
}
