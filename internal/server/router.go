package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Router exposes the run as JSON on the client server.
// Endpoints:
//
//	GET {basePath}/state    current run state snapshot
//	GET {basePath}/sockets  connected socket count
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	basePath string
	state    func() any
	sockets  *Sockets
}

// NewRouter constructs a Router. state is called on every request.
func NewRouter(basePath string, state func() any, sockets *Sockets) *Router {
	return &Router{basePath: sanitizeBase(basePath), state: state, sockets: sockets}
}

// Handler returns a standalone gin engine serving only the router's
// endpoints, for mounting into another HTTP stack.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.register(g)
	return g
}

func (r *Router) register(g gin.IRouter) {
	group := g.Group(r.basePath)
	group.GET("/state", r.handleState)
	group.GET("/sockets", r.handleSockets)
}

type socketsResp struct {
	Connected int      `json:"connected"`
	Adapters  []string `json:"adapters"`
}

func (r *Router) handleState(c *gin.Context) {
	if r.state == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "no run state"})
		return
	}
	writeJSON(c, http.StatusOK, r.state())
}

func (r *Router) handleSockets(c *gin.Context) {
	if r.sockets == nil {
		writeJSON(c, http.StatusOK, socketsResp{Adapters: []string{}})
		return
	}
	writeJSON(c, http.StatusOK, socketsResp{Connected: r.sockets.Len(), Adapters: r.sockets.Members("adapter")})
}
