package upstream

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"wbsync/internal/metrics"
	"wbsync/internal/model"
)

// Feed modes of the supplier orders endpoint.
const (
	FlagIncremental = 0 // changes since dateFrom
	FlagFullDay     = 1 // everything on dateFrom's civil day
)

// maxErrorBody bounds how much of a failure response is read for logging.
const maxErrorBody = 64 * 1024

// ErrExhausted reports that every retry attempt for a page failed. The
// caller treats the page as empty; the loop stays live.
var ErrExhausted = errors.New("upstream retries exhausted")

// RetryPolicy bounds how a single page fetch is retried.
type RetryPolicy struct {
	MaxAttempts   int           // total attempts per page
	BackoffStep   time.Duration // linear backoff: step * attempt on 5xx/network
	RateLimitWait time.Duration // minimum wait after a 429
}

// Backoff returns the wait before the next attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BackoffStep * time.Duration(attempt)
}

// doer abstracts http.Client for tests.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// sleep waits or aborts when the context is cancelled. Package variable so
// tests can stub waiting out.
var sleep = func(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Client fetches pages of the WB supplier orders feed.
type Client struct {
	baseURL string
	apiKey  string
	http    doer
	retry   RetryPolicy
	met     *metrics.Registry
}

func NewClient(baseURL, apiKey string, retry RetryPolicy, met *metrics.Registry) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
		retry:   retry,
		met:     met,
	}
}

// newClientWith is only for tests to inject a fake HTTP doer.
func newClientWith(d doer, retry RetryPolicy) *Client {
	return &Client{baseURL: "http://wb.test", apiKey: "k", http: d, retry: retry}
}

// FetchPage issues one paginated fetch at dateFrom (WB local-time string).
// 429 waits at least the rate-limit interval and retries; 5xx and network
// failures retry with linear backoff; any other non-200 status is logged
// and returned as an empty page without retrying. When all attempts fail
// the page is reported via ErrExhausted rather than aborting the run.
func (c *Client) FetchPage(ctx context.Context, dateFrom string, flag int) ([]model.Order, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		orders, retryable, err := c.fetchOnce(ctx, dateFrom, flag, attempt)
		if err == nil {
			return orders, nil
		}
		if !retryable || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	log.Printf("[WB] giving up on dateFrom=%s after %d attempts: %v", dateFrom, c.retry.MaxAttempts, lastErr)
	if c.met != nil {
		c.met.UpstreamGiveUps.Inc()
	}
	return nil, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// fetchOnce performs a single attempt, sleeping afterwards when the
// failure is retryable.
func (c *Client) fetchOnce(ctx context.Context, dateFrom string, flag int, attempt int) (orders []model.Order, retryable bool, err error) {
	req, err := c.newRequest(ctx, dateFrom, flag)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		wait := c.retry.Backoff(attempt)
		log.Printf("[WB] network error: %v, sleep %s", err, wait)
		if c.met != nil {
			c.met.UpstreamRetries.Inc()
		}
		if serr := sleep(ctx, wait); serr != nil {
			return nil, false, serr
		}
		return nil, true, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		orders, err := decodeOrders(resp)
		if err != nil {
			// non-list bodies mean "no data" upstream
			log.Printf("[WB] unexpected 200 body: %v, treating as empty page", err)
			return nil, false, nil
		}
		return orders, false, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		wait := c.retry.RateLimitWait
		log.Printf("[WB] 429 rate limit, sleep %s", wait)
		if c.met != nil {
			c.met.RateLimitHits.Inc()
		}
		if serr := sleep(ctx, wait); serr != nil {
			return nil, false, serr
		}
		return nil, true, fmt.Errorf("rate limited (429)")

	case resp.StatusCode >= 500:
		wait := c.retry.Backoff(attempt)
		log.Printf("[WB] %d server error, sleep %s", resp.StatusCode, wait)
		if c.met != nil {
			c.met.UpstreamRetries.Inc()
		}
		if serr := sleep(ctx, wait); serr != nil {
			return nil, false, serr
		}
		return nil, true, fmt.Errorf("server error (%d)", resp.StatusCode)

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Printf("[WB] HTTP %d: %s", resp.StatusCode, body)
		return nil, false, nil
	}
}

func (c *Client) newRequest(ctx context.Context, dateFrom string, flag int) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("dateFrom", dateFrom)
	q.Set("flag", strconv.Itoa(flag))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	return req, nil
}

// decodeOrders parses the response body into the order list. Setting
// Accept-Encoding by hand disables the transport's transparent
// decompression, so gzip is handled here.
func decodeOrders(resp *http.Response) ([]model.Order, error) {
	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		body = gz
	}
	var orders []model.Order
	if err := json.NewDecoder(body).Decode(&orders); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return orders, nil
}
