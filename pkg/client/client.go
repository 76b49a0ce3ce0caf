// Package client reads the state of a running browserun over the JSON API
// its client server exposes.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrNotFinished is returned by WaitFinished when ctx ends first.
var ErrNotFinished = errors.New("run did not finish")

// Client talks to the API of one browserun instance.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:9876/api",
		Timeout: 10 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if a run is serving its API
func (c *Client) IsReachable(ctx context.Context) bool {
	var s Sockets
	if err := c.get(ctx, "/sockets", &s); err != nil {
		c.logger.Debug("run unreachable", "error", err)
		return false
	}
	return true
}

// State fetches the current run state.
func (c *Client) State(ctx context.Context) (RunState, error) {
	var s RunState
	err := c.get(ctx, "/state", &s)
	return s, err
}

// Sockets fetches the connected socket count and adapter socket ids.
func (c *Client) Sockets(ctx context.Context) (Sockets, error) {
	var s Sockets
	err := c.get(ctx, "/sockets", &s)
	return s, err
}

// WaitFinished polls the state every interval until the run finished and
// returns the final snapshot.
func (c *Client) WaitFinished(ctx context.Context, interval time.Duration) (RunState, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s, err := c.State(ctx)
		if err == nil && s.Finished {
			return s, nil
		}
		if err != nil {
			c.logger.Debug("state poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return s, fmt.Errorf("%w: %w", ErrNotFinished, ctx.Err())
		case <-t.C:
		}
	}
}

// get performs a GET request and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var er ErrorResponse
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			return fmt.Errorf("API error: %s", er.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
