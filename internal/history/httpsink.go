package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const httpSinkTimeout = 5 * time.Second

// OpenSearchSink indexes each event as a document: POST <base>/<index>/_doc.
type OpenSearchSink struct {
	client  *http.Client
	baseURL string
	index   string
}

func NewOpenSearchSink(baseURL, index string) *OpenSearchSink {
	return &OpenSearchSink{
		client:  &http.Client{Timeout: httpSinkTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

func (s *OpenSearchSink) Send(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return post(ctx, s.client, "opensearch", fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index), b)
}

// ClickHouseSink inserts events through the ClickHouse HTTP interface using
// the JSONEachRow format, one line per event.
type ClickHouseSink struct {
	client *http.Client
	base   string // e.g. http://localhost:8123
	table  string
}

func NewClickHouseSink(baseURL, table string) *ClickHouseSink {
	return &ClickHouseSink{
		client: &http.Client{Timeout: httpSinkTimeout},
		base:   strings.TrimRight(baseURL, "/"),
		table:  table,
	}
}

// clickHouseRow flattens an event into the table's columns.
type clickHouseRow struct {
	OccurredAt string `json:"occurred_at"`
	Event      string `json:"event"`
	Record
}

func (s *ClickHouseSink) Send(ctx context.Context, e Event) error {
	u, err := url.Parse(s.base)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("query", fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", s.table))
	u.RawQuery = q.Encode()
	line, err := json.Marshal(clickHouseRow{
		OccurredAt: e.OccurredAt.UTC().Format("2006-01-02 15:04:05"),
		Event:      string(e.Type),
		Record:     e.Record,
	})
	if err != nil {
		return err
	}
	return post(ctx, s.client, "clickhouse", u.String(), append(line, '\n'))
}

func post(ctx context.Context, c *http.Client, sink, u string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s sink status %d", sink, resp.StatusCode)
	}
	return nil
}
