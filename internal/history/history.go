package history

import (
	"context"
	"time"
)

// EventType defines the kind of run event.
type EventType string

const (
	EventBrowserEnd EventType = "browser_end"
	EventRunEnd     EventType = "run_end"
)

// Record is the outcome of one browser in one run.
type Record struct {
	RunID     string `json:"run_id"`
	Browser   string `json:"browser"`
	UserAgent string `json:"user_agent"`
	Launch    string `json:"launch,omitempty"`
	Total     int    `json:"total"`
	Passed    int    `json:"passed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Status    int    `json:"status"`
}

// Event represents a run event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
