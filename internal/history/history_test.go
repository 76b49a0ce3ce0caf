package history

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/idx/_doc" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(201)
	}))
	defer ts.Close()

	sink := NewOpenSearchSink(ts.URL+"/", "idx")
	e := Event{Type: EventBrowserEnd, OccurredAt: time.Now().UTC(), Record: Record{RunID: "r1", Browser: "Firefox 121", Total: 3, Passed: 3}}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(gotBody, &m); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	rec, ok := m["record"].(map[string]any)
	if !ok {
		t.Fatalf("missing record in payload: %v", m)
	}
	if rec["browser"] != "Firefox 121" || rec["passed"] != float64(3) {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()
	err := NewOpenSearchSink(ts.URL, "idx").Send(context.Background(), Event{Type: EventRunEnd})
	if err == nil || !strings.Contains(err.Error(), "opensearch sink status 400") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestClickHouseSink_Send(t *testing.T) {
	var gotQuery string
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer ts.Close()

	sink := NewClickHouseSink(ts.URL, "default.runs")
	e := Event{Type: EventRunEnd, OccurredAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), Record: Record{RunID: "r1", Browser: "*", Failed: 1, Status: 1}}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotQuery != "INSERT INTO default.runs FORMAT JSONEachRow" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if len(gotBody) == 0 || gotBody[len(gotBody)-1] != '\n' {
		t.Fatalf("expected a single JSON line, got %q", gotBody)
	}
	var row map[string]any
	if err := json.Unmarshal(gotBody, &row); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if row["occurred_at"] != "2024-01-02 03:04:05" || row["event"] != "run_end" || row["run_id"] != "r1" {
		t.Fatalf("unexpected row: %v", row)
	}
}

func TestNewSinkFromDSN(t *testing.T) {
	cases := []struct {
		dsn  string
		want string
	}{
		{"clickhouse://localhost:8123?table=t", "*history.ClickHouseSink"},
		{"opensearch://localhost:9200/runs", "*history.OpenSearchSink"},
		{"elasticsearch://localhost:9200", "*history.OpenSearchSink"},
		{"sqlite://:memory:", "*history.SQLSink"},
	}
	for _, c := range cases {
		s, err := NewSinkFromDSN(c.dsn)
		if err != nil {
			t.Fatalf("%s: %v", c.dsn, err)
		}
		if got := typeName(s); got != c.want {
			t.Fatalf("%s: got %s want %s", c.dsn, got, c.want)
		}
		if closer, ok := s.(io.Closer); ok {
			_ = closer.Close()
		}
	}
	if _, err := NewSinkFromDSN(""); err == nil {
		t.Fatalf("empty DSN should fail")
	}
	if _, err := NewSinkFromDSN("mongodb://x"); err == nil {
		t.Fatalf("unsupported scheme should fail")
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *ClickHouseSink:
		return "*history.ClickHouseSink"
	case *OpenSearchSink:
		return "*history.OpenSearchSink"
	case *SQLSink:
		return "*history.SQLSink"
	}
	return "unknown"
}
