package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loykin/browserun/internal/metrics"
)

const (
	sendQueueSize       = 256
	defaultWriteTimeout = 10 * time.Second
)

var (
	ErrUnknownSocket = errors.New("unknown socket")
	ErrQueueFull     = errors.New("socket send queue full")
	ErrMissingArg    = errors.New("missing argument")
)

// Meta identifies the socket an event came from.
type Meta struct {
	ID        string
	UserAgent string
}

// Args holds the raw JSON arguments of an event frame.
type Args []json.RawMessage

// Decode unmarshals argument i into v.
func (a Args) Decode(i int, v any) error {
	if i >= len(a) || len(a[i]) == 0 || string(a[i]) == "null" {
		return fmt.Errorf("%w %d", ErrMissingArg, i)
	}
	return json.Unmarshal(a[i], v)
}

// String returns argument i when it is a JSON string, otherwise "".
func (a Args) String(i int) string {
	var s string
	if err := a.Decode(i, &s); err != nil {
		return ""
	}
	return s
}

// Handler receives one inbound event.
type Handler func(meta Meta, args Args)

// Frame is the wire format of every message in both directions.
type Frame struct {
	Event string `json:"event"`
	Args  []any  `json:"args,omitempty"`
}

type inboundFrame struct {
	Event string `json:"event"`
	Args  Args   `json:"args"`
}

// Sockets is a websocket hub. Each connection gets a generated id. A
// connection emitting "<room>/connect" joins room; when it goes away a
// "<room>/disconnect" event is synthesized for every room it was still in.
type Sockets struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	mu    sync.RWMutex
	conns map[string]*conn
	rooms map[string]map[string]struct{}
}

type conn struct {
	meta      Meta
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func NewSockets(log *slog.Logger) *Sockets {
	if log == nil {
		log = slog.Default()
	}
	return &Sockets{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the client server only ever talks to browsers it launched or the developer opened
			CheckOrigin: func(*http.Request) bool { return true },
		},
		handlers: make(map[string][]Handler),
		conns:    make(map[string]*conn),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// On registers h for event. Handlers run in registration order on the
// connection's read goroutine.
func (s *Sockets) On(event string, h Handler) {
	s.handlersMu.Lock()
	s.handlers[event] = append(s.handlers[event], h)
	s.handlersMu.Unlock()
}

// Send queues an event for one socket. It never blocks.
func (s *Sockets) Send(id, event string, args ...any) error {
	msg, err := json.Marshal(Frame{Event: event, Args: args})
	if err != nil {
		return err
	}
	s.mu.RLock()
	c, ok := s.conns[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSocket, id)
	}
	return s.enqueue(c, msg)
}

// Broadcast queues an event for every socket in room and returns how many
// sockets it was queued for.
func (s *Sockets) Broadcast(room, event string, args ...any) int {
	msg, err := json.Marshal(Frame{Event: event, Args: args})
	if err != nil {
		s.log.Error("broadcast encode failed", "event", event, "error", err)
		return 0
	}
	s.mu.RLock()
	targets := make([]*conn, 0, len(s.rooms[room]))
	for id := range s.rooms[room] {
		if c, ok := s.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()
	n := 0
	for _, c := range targets {
		if s.enqueue(c, msg) == nil {
			n++
		}
	}
	return n
}

func (s *Sockets) enqueue(c *conn, msg []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrUnknownSocket, c.meta.ID)
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		s.log.Warn("dropping socket message", "socket", c.meta.ID)
		return ErrQueueFull
	}
}

// Members lists the socket ids joined to room.
func (s *Sockets) Members(room string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms[room]))
	for id := range s.rooms[room] {
		out = append(out, id)
	}
	return out
}

// Len reports the number of open connections.
func (s *Sockets) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Close drops every connection. Disconnect events are still delivered.
func (s *Sockets) Close() {
	s.mu.RLock()
	all := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		all = append(all, c)
	}
	s.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Sockets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("socket upgrade failed", "error", err)
		return
	}
	// the http server's deadlines carry over to the hijacked connection
	_ = ws.SetReadDeadline(time.Time{})

	c := &conn{
		meta: Meta{ID: uuid.NewString(), UserAgent: r.UserAgent()},
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.conns[c.meta.ID] = c
	n := len(s.conns)
	s.mu.Unlock()
	metrics.SetConnectedSockets(n)
	s.log.Debug("socket connected", "socket", c.meta.ID)

	go s.writePump(c)
	s.readPump(c)
}

func (s *Sockets) readPump(c *conn) {
	defer s.drop(c)
	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		var f inboundFrame
		if err := json.Unmarshal(msg, &f); err != nil || f.Event == "" {
			s.log.Warn("invalid socket frame", "socket", c.meta.ID, "error", err)
			continue
		}
		s.track(c, f.Event)
		s.emit(c.meta, f.Event, f.Args)
	}
}

func (s *Sockets) writePump(c *conn) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
				c.close()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.Debug("socket write failed", "socket", c.meta.ID, "error", err)
				c.close()
				return
			}
		}
	}
}

// track keeps room membership in sync with connect/disconnect events.
func (s *Sockets) track(c *conn, event string) {
	room, action, ok := strings.Cut(event, "/")
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch action {
	case "connect":
		if s.rooms[room] == nil {
			s.rooms[room] = make(map[string]struct{})
		}
		s.rooms[room][c.meta.ID] = struct{}{}
	case "disconnect":
		delete(s.rooms[room], c.meta.ID)
	}
}

func (s *Sockets) drop(c *conn) {
	c.close()
	s.mu.Lock()
	delete(s.conns, c.meta.ID)
	var left []string
	for room, members := range s.rooms {
		if _, ok := members[c.meta.ID]; ok {
			delete(members, c.meta.ID)
			left = append(left, room)
		}
	}
	n := len(s.conns)
	s.mu.Unlock()
	metrics.SetConnectedSockets(n)
	s.log.Debug("socket disconnected", "socket", c.meta.ID)

	for _, room := range left {
		s.emit(c.meta, room+"/disconnect", nil)
	}
}

func (s *Sockets) emit(meta Meta, event string, args Args) {
	s.handlersMu.RLock()
	hs := append([]Handler(nil), s.handlers[event]...)
	s.handlersMu.RUnlock()
	for _, h := range hs {
		h(meta, args)
	}
}
