package server

import (
	"context"
	"embed"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loykin/browserun/internal/metrics"
)

// SocketPath is where the client server accepts socket connections.
const SocketPath = "/__browserun__/socket"

//go:embed harness
var harness embed.FS

// ClientOptions configures the client server.
type ClientOptions struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Metrics bool   `mapstructure:"metrics"`
}

// Client serves the harness page browsers are pointed at, together with the
// socket endpoint its scripts connect to.
type Client struct {
	opts    ClientOptions
	sockets *Sockets
	router  *Router
	listener
}

func NewClient(opts ClientOptions, sockets *Sockets, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{opts: opts, sockets: sockets, listener: listener{name: "client", log: log}}
}

// Mount adds the JSON router. It must be called before Start.
func (c *Client) Mount(r *Router) { c.router = r }

// Handler returns the gin engine behind the client server.
func (c *Client) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/", func(ctx *gin.Context) { serveHarness(ctx, "harness/index.html", "text/html; charset=utf-8") })
	g.GET("/harness.js", func(ctx *gin.Context) { serveHarness(ctx, "harness/harness.js", "application/javascript") })
	g.GET(SocketPath, gin.WrapH(c.sockets))
	if c.router != nil {
		c.router.register(g)
	}
	if c.opts.Metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

func serveHarness(c *gin.Context, name, contentType string) {
	b, err := harness.ReadFile(name)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, contentType, b)
}

// Start listens on the configured address. A zero port picks a free one.
func (c *Client) Start(context.Context) error {
	return c.start(c.opts.Host, c.opts.Port, c.Handler())
}

// Stop closes every socket and shuts the server down.
func (c *Client) Stop(ctx context.Context) error {
	c.sockets.Close()
	return c.stop(ctx)
}
