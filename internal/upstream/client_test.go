package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// fakeDoer replays a scripted sequence of responses/errors and records
// every request it sees.
type fakeDoer struct {
	steps []step
	reqs  []*http.Request
}

type step struct {
	status int
	body   string
	gzip   bool
	err    error
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.reqs = append(f.reqs, req)
	if len(f.steps) == 0 {
		return nil, errors.New("no more scripted steps")
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	if s.err != nil {
		return nil, s.err
	}
	resp := &http.Response{
		StatusCode: s.status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(s.body)),
	}
	if s.gzip {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		_, _ = gw.Write([]byte(s.body))
		_ = gw.Close()
		resp.Body = io.NopCloser(&buf)
		resp.Header.Set("Content-Encoding", "gzip")
	}
	return resp, nil
}

// stubSleep replaces the wait seam and records requested durations.
func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	t.Cleanup(func() { sleep = orig })
	return &slept
}

func testPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 6, BackoffStep: 10 * time.Second, RateLimitWait: 65 * time.Second}
}

const pageJSON = `[{"srid":"s1","date":"2024-03-01T12:00:00","lastChangeDate":"2024-03-01T13:00:00"}]`

func TestFetchPage_Success(t *testing.T) {
	fd := &fakeDoer{steps: []step{{status: 200, body: pageJSON}}}
	c := newClientWith(fd, testPolicy())

	orders, err := c.FetchPage(context.Background(), "2024-03-01T00:00:00", FlagIncremental)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(orders) != 1 || orders[0].SRID != "s1" {
		t.Fatalf("unexpected orders: %+v", orders)
	}

	q := fd.reqs[0].URL.Query()
	if q.Get("dateFrom") != "2024-03-01T00:00:00" || q.Get("flag") != "0" {
		t.Fatalf("bad query: %v", fd.reqs[0].URL)
	}
	if fd.reqs[0].Header.Get("Authorization") != "k" {
		t.Fatalf("missing auth header")
	}
}

func TestFetchPage_GzipBody(t *testing.T) {
	fd := &fakeDoer{steps: []step{{status: 200, body: pageJSON, gzip: true}}}
	c := newClientWith(fd, testPolicy())

	orders, err := c.FetchPage(context.Background(), "x", FlagIncremental)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(orders) != 1 || orders[0].SRID != "s1" {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}

func TestFetchPage_NonListBodyIsEmptyPage(t *testing.T) {
	fd := &fakeDoer{steps: []step{{status: 200, body: `{"errors":["nope"]}`}}}
	c := newClientWith(fd, testPolicy())

	orders, err := c.FetchPage(context.Background(), "x", FlagIncremental)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("want empty page, got %+v", orders)
	}
}

func TestFetchPage_RateLimitRetriesSameRequest(t *testing.T) {
	slept := stubSleep(t)
	fd := &fakeDoer{steps: []step{{status: 429}, {status: 200, body: pageJSON}}}
	c := newClientWith(fd, testPolicy())

	orders, err := c.FetchPage(context.Background(), "2024-03-01T00:00:00", FlagIncremental)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("want page after retry, got %+v", orders)
	}
	if len(*slept) != 1 || (*slept)[0] != 65*time.Second {
		t.Fatalf("want one 65s wait, got %v", *slept)
	}
	// cursor must not advance: both requests carry the same dateFrom
	if len(fd.reqs) != 2 || fd.reqs[0].URL.RawQuery != fd.reqs[1].URL.RawQuery {
		t.Fatalf("request not repeated verbatim: %v", fd.reqs)
	}
}

func TestFetchPage_ServerErrorLinearBackoff(t *testing.T) {
	slept := stubSleep(t)
	fd := &fakeDoer{steps: []step{{status: 503}, {status: 502}, {status: 200, body: pageJSON}}}
	c := newClientWith(fd, testPolicy())

	if _, err := c.FetchPage(context.Background(), "x", FlagIncremental); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second}
	if len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Fatalf("want backoff %v, got %v", want, *slept)
	}
}

func TestFetchPage_NetworkErrorRetries(t *testing.T) {
	stubSleep(t)
	fd := &fakeDoer{steps: []step{{err: errors.New("conn refused")}, {status: 200, body: pageJSON}}}
	c := newClientWith(fd, testPolicy())

	orders, err := c.FetchPage(context.Background(), "x", FlagIncremental)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("want page after network retry, got %+v", orders)
	}
}

func TestFetchPage_NonRetryableStatus(t *testing.T) {
	slept := stubSleep(t)
	fd := &fakeDoer{steps: []step{{status: 401, body: "unauthorized"}}}
	c := newClientWith(fd, testPolicy())

	orders, err := c.FetchPage(context.Background(), "x", FlagIncremental)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(orders) != 0 || len(fd.reqs) != 1 || len(*slept) != 0 {
		t.Fatalf("4xx must return empty immediately: orders=%v reqs=%d slept=%v", orders, len(fd.reqs), *slept)
	}
}

func TestFetchPage_Exhaustion(t *testing.T) {
	stubSleep(t)
	var steps []step
	for i := 0; i < 6; i++ {
		steps = append(steps, step{status: 500})
	}
	fd := &fakeDoer{steps: steps}
	c := newClientWith(fd, testPolicy())

	orders, err := c.FetchPage(context.Background(), "x", FlagIncremental)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("want ErrExhausted, got %v", err)
	}
	if len(orders) != 0 || len(fd.reqs) != 6 {
		t.Fatalf("want 6 attempts and no data, got %d attempts", len(fd.reqs))
	}
}

func TestFetchPage_FullDayFlag(t *testing.T) {
	fd := &fakeDoer{steps: []step{{status: 200, body: "[]"}}}
	c := newClientWith(fd, testPolicy())

	if _, err := c.FetchPage(context.Background(), "2024-03-01", FlagFullDay); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if q := fd.reqs[0].URL.Query().Get("flag"); q != "1" {
		t.Fatalf("want flag=1, got %q", q)
	}
}
