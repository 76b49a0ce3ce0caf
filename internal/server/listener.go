package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// listener runs one http.Server. Start and Stop may be called repeatedly.
type listener struct {
	name string
	log  *slog.Logger

	mu  sync.Mutex
	srv *http.Server
	url string
}

func (l *listener) start(host string, port int, h http.Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.srv != nil {
		return nil
	}
	if host == "" {
		host = "localhost"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("%s server: %w", l.name, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	addr := ln.Addr().(*net.TCPAddr)
	l.url = "http://" + net.JoinHostPort(host, strconv.Itoa(addr.Port))
	l.srv = srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error("server stopped", "server", l.name, "error", err)
		}
	}()
	l.log.Debug("server listening", "server", l.name, "url", l.url)
	return nil
}

func (l *listener) stop(ctx context.Context) error {
	l.mu.Lock()
	srv := l.srv
	l.srv = nil
	l.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("%s server: %w", l.name, err)
	}
	return nil
}

// URL is the advertised base address. It stays available after Stop.
func (l *listener) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.url
}
