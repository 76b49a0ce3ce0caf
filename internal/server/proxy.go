package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// Script is one injected element. Exactly one of Src or Inline is used: Src
// renders <script src>, Inline renders an inline script with InnerContent.
// When Serve is set the proxy answers Src itself from that local file.
type Script struct {
	Src          string `json:"script,omitempty" mapstructure:"script"`
	Inline       bool   `json:"inline,omitempty" mapstructure:"inline"`
	Serve        string `json:"serve,omitempty" mapstructure:"serve"`
	InnerContent string `json:"innerContent,omitempty" mapstructure:"inner_content"`
}

func (s Script) render() string {
	if s.Inline {
		return "<script>" + s.InnerContent + "</script>"
	}
	return `<script src="` + html.EscapeString(s.Src) + `"></script>`
}

// Injection lists elements added to proxied HTML pages.
type Injection struct {
	Head []Script `json:"head,omitempty" mapstructure:"head"`
	Body []Script `json:"body,omitempty" mapstructure:"body"`
}

// Merge appends other's entries after i's.
func (i Injection) Merge(other Injection) Injection {
	return Injection{
		Head: append(append([]Script(nil), i.Head...), other.Head...),
		Body: append(append([]Script(nil), i.Body...), other.Body...),
	}
}

// ProxyOptions configures the proxy server. Without a Target the proxy serves
// an empty page so adapters that bring their own tests still have a host page.
type ProxyOptions struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Target string `mapstructure:"target"`
}

// Proxy fronts the application under test and injects scripts into its pages.
type Proxy struct {
	opts ProxyOptions
	listener

	mu     sync.RWMutex
	inject Injection
}

const blankPage = "<!doctype html><html><head></head><body></body></html>"

func NewProxy(opts ProxyOptions, log *slog.Logger) *Proxy {
	if log == nil {
		log = slog.Default()
	}
	return &Proxy{opts: opts, listener: listener{name: "proxy", log: log}}
}

// Inject adds elements to every page served from now on. Calls accumulate.
func (p *Proxy) Inject(in Injection) {
	p.mu.Lock()
	p.inject = p.inject.Merge(in)
	p.mu.Unlock()
}

// Injection returns the accumulated injection.
func (p *Proxy) Injection() Injection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inject.Merge(Injection{})
}

func (p *Proxy) served(path string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, list := range [][]Script{p.inject.Head, p.inject.Body} {
		for _, s := range list {
			if s.Serve != "" && s.Src == path && isSafeAbsPath(s.Serve) {
				return s.Serve, true
			}
		}
	}
	return "", false
}

// Handler returns the gin engine behind the proxy server.
func (p *Proxy) Handler() (http.Handler, error) {
	var upstream http.Handler
	if p.opts.Target != "" {
		target, err := url.Parse(p.opts.Target)
		if err != nil {
			return nil, fmt.Errorf("proxy target: %w", err)
		}
		rp := httputil.NewSingleHostReverseProxy(target)
		director := rp.Director
		rp.Director = func(r *http.Request) {
			director(r)
			r.Host = target.Host
			// bodies are rewritten, ask for plain ones
			r.Header.Del("Accept-Encoding")
		}
		rp.ModifyResponse = p.rewrite
		rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			p.log.Warn("proxy request failed", "path", r.URL.Path, "error", err)
			w.WriteHeader(http.StatusBadGateway)
		}
		upstream = rp
	}

	g := gin.New()
	g.Use(gin.Recovery())
	g.NoRoute(func(c *gin.Context) {
		if file, ok := p.served(c.Request.URL.Path); ok {
			c.File(file)
			return
		}
		if upstream != nil {
			upstream.ServeHTTP(c.Writer, c.Request)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(p.render(blankPage)))
	})
	return g, nil
}

// rewrite injects scripts into HTML responses.
func (p *Proxy) rewrite(res *http.Response) error {
	if !strings.HasPrefix(res.Header.Get("Content-Type"), "text/html") {
		return nil
	}
	var body io.Reader = res.Body
	if strings.EqualFold(res.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(res.Body)
		if err != nil {
			return err
		}
		body = zr
		res.Header.Del("Content-Encoding")
	}
	b, err := io.ReadAll(body)
	_ = res.Body.Close()
	if err != nil {
		return err
	}
	out := []byte(p.render(string(b)))
	res.Body = io.NopCloser(bytes.NewReader(out))
	res.ContentLength = int64(len(out))
	res.Header.Set("Content-Length", strconv.Itoa(len(out)))
	return nil
}

func (p *Proxy) render(page string) string {
	in := p.Injection()
	page = insertBefore(page, "</head>", in.Head)
	return insertBefore(page, "</body>", in.Body)
}

func insertBefore(page, tag string, scripts []Script) string {
	if len(scripts) == 0 {
		return page
	}
	var sb strings.Builder
	for _, s := range scripts {
		sb.WriteString(s.render())
	}
	i := strings.LastIndex(strings.ToLower(page), tag)
	if i < 0 {
		return page + sb.String()
	}
	return page[:i] + sb.String() + page[i:]
}

// Start listens on the configured address. A zero port picks a free one.
func (p *Proxy) Start(context.Context) error {
	h, err := p.Handler()
	if err != nil {
		return err
	}
	return p.start(p.opts.Host, p.opts.Port, h)
}

// Stop shuts the proxy down.
func (p *Proxy) Stop(ctx context.Context) error { return p.stop(ctx) }
