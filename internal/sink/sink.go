package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"wbsync/internal/metrics"
	"wbsync/internal/model"
	"wbsync/internal/wbtime"
)

// maxErrorBody bounds how much of a failure response is read for errors.
const maxErrorBody = 64 * 1024

// doer abstracts http.Client for tests.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Gateway reads and writes the wb_orders table through PostgREST. Every
// failure here is fatal to a run: the cursor basis is unreliable without a
// consistent high-water mark, and partial upserts must not be swallowed.
type Gateway struct {
	baseURL   string
	apiKey    string
	table     string
	http      doer
	batchSize int
	floor     time.Time
	met       *metrics.Registry
}

// NewGateway builds a gateway for {baseURL}/rest/v1/{table}. floor is the
// start-of-history instant returned when the table is empty.
func NewGateway(baseURL, apiKey, table string, batchSize int, floor time.Time, met *metrics.Registry) *Gateway {
	return &Gateway{
		baseURL:   baseURL,
		apiKey:    apiKey,
		table:     table,
		http:      &http.Client{Timeout: 180 * time.Second},
		batchSize: batchSize,
		floor:     floor,
		met:       met,
	}
}

// newGatewayWith is only for tests to inject a fake HTTP doer.
func newGatewayWith(d doer, batchSize int, floor time.Time) *Gateway {
	return &Gateway{baseURL: "http://sink.test", apiKey: "sk", table: "wb_orders", http: d, batchSize: batchSize, floor: floor}
}

func (g *Gateway) tableURL() string {
	return fmt.Sprintf("%s/rest/v1/%s", g.baseURL, g.table)
}

func (g *Gateway) setHeaders(req *http.Request) {
	req.Header.Set("apikey", g.apiKey)
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// HighWaterMark returns max(last_change_date) over the whole table, or the
// configured start-of-history floor when the table is empty. The cursor is
// derived from the data itself; there is no separate sync-state record.
func (g *Gateway) HighWaterMark(ctx context.Context) (time.Time, error) {
	q := url.Values{}
	q.Set("select", "last_change_date")
	q.Set("order", "last_change_date.desc")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.tableURL()+"?"+q.Encode(), nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("build request: %w", err)
	}
	g.setHeaders(req)

	resp, err := g.http.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("read high-water mark: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, statusError("read high-water mark", resp)
	}

	// decode as a string: a timestamp column without time zone comes back
	// offset-less, which strict RFC3339 decoding would reject
	var rows []struct {
		LastChangeDate string `json:"last_change_date"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return time.Time{}, fmt.Errorf("decode high-water mark: %w", err)
	}
	if len(rows) == 0 {
		return g.floor, nil
	}
	hwm, err := wbtime.ToUTC(rows[0].LastChangeDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse high-water mark: %w", err)
	}
	return hwm, nil
}

// DeleteRange removes every row whose date falls in [start, end). Used by
// the full-day reload before re-fetching, so re-inserts cannot accumulate.
func (g *Gateway) DeleteRange(ctx context.Context, start, end time.Time) error {
	q := url.Values{}
	q.Add("date", "gte."+start.UTC().Format(time.RFC3339))
	q.Add("date", "lt."+end.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, g.tableURL()+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	g.setHeaders(req)

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete range: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("delete range", resp)
	}
	log.Printf("[DB] deleted rows in [%s, %s)", start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	return nil
}

// UpsertBatch writes rows in fixed-size chunks, merging on srid so replays
// and late mutations overwrite rather than duplicate. Chunks already
// committed stay committed when a later chunk fails.
func (g *Gateway) UpsertBatch(ctx context.Context, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	for i := 0; i < len(rows); i += g.batchSize {
		end := i + g.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := g.upsertChunk(ctx, rows[i:end]); err != nil {
			return fmt.Errorf("upsert chunk %d..%d: %w", i, end, err)
		}
		log.Printf("[DB] upserted batch %d..%d", i, end)
		if g.met != nil {
			g.met.UpsertChunks.Inc()
			g.met.RowsUpserted.Add(float64(end - i))
		}
	}
	return nil
}

func (g *Gateway) upsertChunk(ctx context.Context, chunk []model.Row) error {
	body, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tableURL()+"?on_conflict=srid", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	g.setHeaders(req)
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("upsert", resp)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%s: HTTP %d: %s", op, resp.StatusCode, body)
}
