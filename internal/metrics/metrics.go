package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg             *prometheus.Registry
	PagesFetched    prometheus.Counter
	RowsFetched     prometheus.Counter
	RowsUpserted    prometheus.Counter
	RowsSkipped     prometheus.Counter
	UpsertChunks    prometheus.Counter
	UpstreamRetries prometheus.Counter
	UpstreamGiveUps prometheus.Counter
	RateLimitHits   prometheus.Counter
	StallBumps      prometheus.Counter
	PageSec         prometheus.Histogram
	CursorLagSec    prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	pages := prometheus.NewCounter(prometheus.CounterOpts{Name: "wbsync_pages_fetched_total"})
	rowsFetched := prometheus.NewCounter(prometheus.CounterOpts{Name: "wbsync_rows_fetched_total"})
	rowsUpserted := prometheus.NewCounter(prometheus.CounterOpts{Name: "wbsync_rows_upserted_total"})
	rowsSkipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "wbsync_rows_skipped_total"})
	chunks := prometheus.NewCounter(prometheus.CounterOpts{Name: "wbsync_upsert_chunks_total"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{Name: "wbsync_upstream_retries_total"})
	giveUps := prometheus.NewCounter(prometheus.CounterOpts{Name: "wbsync_upstream_give_ups_total"})
	rateLimited := prometheus.NewCounter(prometheus.CounterOpts{Name: "wbsync_rate_limit_hits_total"})
	stallBumps := prometheus.NewCounter(prometheus.CounterOpts{Name: "wbsync_stall_bumps_total"})
	pageSec := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wbsync_page_seconds",
		Buckets: prometheus.DefBuckets,
	})
	cursorLag := prometheus.NewGauge(prometheus.GaugeOpts{Name: "wbsync_cursor_lag_seconds"})

	r.MustRegister(pages, rowsFetched, rowsUpserted, rowsSkipped, chunks, retries, giveUps, rateLimited, stallBumps, pageSec, cursorLag)
	return &Registry{
		reg:             r,
		PagesFetched:    pages,
		RowsFetched:     rowsFetched,
		RowsUpserted:    rowsUpserted,
		RowsSkipped:     rowsSkipped,
		UpsertChunks:    chunks,
		UpstreamRetries: retries,
		UpstreamGiveUps: giveUps,
		RateLimitHits:   rateLimited,
		StallBumps:      stallBumps,
		PageSec:         pageSec,
		CursorLagSec:    cursorLag,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
