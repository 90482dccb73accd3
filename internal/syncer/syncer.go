package syncer

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"wbsync/internal/changelog"
	"wbsync/internal/dedupe"
	"wbsync/internal/metrics"
	"wbsync/internal/model"
	"wbsync/internal/upstream"
	"wbsync/internal/wbtime"
)

// Fetcher is the upstream feed surface the syncer drives.
type Fetcher interface {
	FetchPage(ctx context.Context, dateFrom string, flag int) ([]model.Order, error)
}

// Sink is the persistence surface. All its failures abort the run.
type Sink interface {
	HighWaterMark(ctx context.Context) (time.Time, error)
	DeleteRange(ctx context.Context, start, end time.Time) error
	UpsertBatch(ctx context.Context, rows []model.Row) error
}

// Config is the immutable run configuration.
type Config struct {
	ReloadDay     string        // MSK day ("2006-01-02") to reload before the incremental pass; empty skips
	Overlap       time.Duration // cursor rewind against boundary loss
	RateInterval  time.Duration // at most one upstream request per interval
	StallPageSize int           // page size at which a repeated cursor means the loop is stuck
}

// Syncer owns the cursor state machine: optional full-day reload, then the
// incremental loop until the first empty page. Strictly sequential; the
// upstream rate limit makes concurrency pointless.
type Syncer struct {
	cfg     Config
	feed    Fetcher
	sink    Sink
	seen    dedupe.Store
	clog    changelog.Writer // nil disables the audit feed
	met     *metrics.Registry
	limiter *rate.Limiter
}

// nowUnix returns current time in epoch seconds. Split for testability.
var nowUnix = func() int64 { return time.Now().UTC().Unix() }

func New(cfg Config, feed Fetcher, sink Sink, seen dedupe.Store, clog changelog.Writer, met *metrics.Registry) *Syncer {
	return &Syncer{
		cfg:     cfg,
		feed:    feed,
		sink:    sink,
		seen:    seen,
		clog:    clog,
		met:     met,
		limiter: rate.NewLimiter(rate.Every(cfg.RateInterval), 1),
	}
}

// Run executes one sync: RELOAD (when configured) then INCREMENTAL.
// The returned error is always a sink or configuration failure; upstream
// trouble degrades to an early end of the loop instead.
func (s *Syncer) Run(ctx context.Context) error {
	if s.cfg.ReloadDay != "" {
		if err := s.reloadDay(ctx, s.cfg.ReloadDay); err != nil {
			return fmt.Errorf("reload day %s: %w", s.cfg.ReloadDay, err)
		}
	}
	return s.incremental(ctx)
}

// reloadDay deletes one MSK civil day from the sink and refetches it whole
// (flag=1). Delete runs first so re-inserts cannot accumulate. The dedupe
// filter is bypassed: rows were just removed from the sink, so a stale
// watermark must not suppress their re-upsert.
func (s *Syncer) reloadDay(ctx context.Context, day string) error {
	log.Printf("=== FULL RELOAD MSK DAY %s ===", day)
	start, end, err := wbtime.DayRangeUTC(day)
	if err != nil {
		return err
	}
	if err := s.sink.DeleteRange(ctx, start, end); err != nil {
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	orders, err := s.feed.FetchPage(ctx, day, upstream.FlagFullDay)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[WB] full day fetch failed: %v, nothing to reload", err)
		return nil
	}
	log.Printf("[WB] flag=1 day=%s: got %d rows", day, len(orders))

	rows, err := model.Transform(orders)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	if err := s.sink.UpsertBatch(ctx, rows); err != nil {
		return err
	}
	s.recordSeen(rows)
	s.appendChangelog(rows)
	log.Printf("=== FULL RELOAD DONE ===")
	return nil
}

// incremental pulls change pages starting at the sink's high-water mark
// minus the overlap window, advancing the cursor to the raw lastChangeDate
// string of each page's final record, until the first empty page.
func (s *Syncer) incremental(ctx context.Context) error {
	hwm, err := s.sink.HighWaterMark(ctx)
	if err != nil {
		return fmt.Errorf("high-water mark: %w", err)
	}
	start := hwm.Add(-s.cfg.Overlap)
	cursor := wbtime.FormatMSK(start)

	log.Printf("=== INCREMENTAL SYNC ===")
	log.Printf("[DB] max(last_change_date) UTC: %s", hwm.Format(time.RFC3339))
	log.Printf("[SYNC] overlap: %s", s.cfg.Overlap)
	log.Printf("[SYNC] start cursor (MSK): %s", cursor)

	prev := ""
	for page := 1; ; page++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		pageStart := time.Now()

		log.Printf("[WB] page %d dateFrom=%s flag=0", page, cursor)
		orders, err := s.feed.FetchPage(ctx, cursor, upstream.FlagIncremental)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[WB] page %d unavailable: %v => stop.", page, err)
			break
		}
		if s.met != nil {
			s.met.PagesFetched.Inc()
			s.met.RowsFetched.Add(float64(len(orders)))
		}
		if len(orders) == 0 {
			log.Printf("[WB] empty response => stop.")
			break
		}

		rows, err := model.Transform(orders)
		if err != nil {
			log.Printf("[SYNC] bad page data: %v => stop.", err)
			break
		}
		fresh := s.filterChanged(rows)
		if err := s.sink.UpsertBatch(ctx, fresh); err != nil {
			return fmt.Errorf("upsert page %d: %w", page, err)
		}
		s.recordSeen(fresh)
		s.appendChangelog(fresh)
		if s.met != nil {
			s.met.PageSec.Observe(time.Since(pageStart).Seconds())
		}
		log.Printf("[SYNC] page %d: %d rows fetched, %d upserted", page, len(orders), len(fresh))

		lastLCD := orders[len(orders)-1].LastChangeDate
		if lastLCD == "" {
			log.Printf("[WB] last row has no lastChangeDate => stop.")
			break
		}
		cursor, err = s.nextCursor(cursor, prev, lastLCD, len(orders))
		if err != nil {
			log.Printf("[SYNC] %v => stop.", err)
			break
		}
		prev = lastLCD

		if s.met != nil {
			if t, terr := wbtime.ToUTC(cursor); terr == nil {
				s.met.CursorLagSec.Set(time.Since(t).Seconds())
			}
		}
	}

	log.Printf("=== INCREMENTAL DONE ===")
	return nil
}

// nextCursor advances the cursor to the raw upstream lastChangeDate string
// (WB's recommended pagination key, echoed verbatim). When the cursor
// repeats on a maximal page the loop is stuck on a dense same-timestamp
// cluster; bump one second past the parsed timestamp to break out,
// accepting that same-second records beyond the page boundary are skipped.
func (s *Syncer) nextCursor(cursor, prev, lastLCD string, pageSize int) (string, error) {
	if prev == lastLCD && pageSize >= s.cfg.StallPageSize {
		t, err := wbtime.ToUTC(lastLCD)
		if err != nil {
			return "", fmt.Errorf("stuck cursor unparsable (%v)", err)
		}
		bumped := wbtime.FormatMSK(t.Add(time.Second))
		log.Printf("[WARN] cursor stuck at big page; bump +1s => %s", bumped)
		if s.met != nil {
			s.met.StallBumps.Inc()
		}
		return bumped, nil
	}
	return lastLCD, nil
}

// filterChanged drops rows whose srid watermark shows no change since the
// last observation. With the overlap window every run refetches already
// mirrored records; suppressing their re-upsert is safe because the upsert
// is idempotent and the store errs on the side of upserting. Read-only:
// watermarks are recorded via recordSeen once the upsert succeeded, so a
// failed write never leaves a watermark that would suppress the row later.
func (s *Syncer) filterChanged(rows []model.Row) []model.Row {
	fresh := rows[:0:0]
	skipped := 0
	for _, r := range rows {
		changed, err := s.seen.Changed(r.SRID, r.LastChangeDate.Unix())
		if err != nil {
			log.Printf("[SYNC] dedupe store error for srid=%s: %v, upserting anyway", r.SRID, err)
			changed = true
		}
		if changed {
			fresh = append(fresh, r)
		} else {
			skipped++
		}
	}
	if skipped > 0 {
		log.Printf("[SYNC] skipped %d unchanged rows", skipped)
		if s.met != nil {
			s.met.RowsSkipped.Add(float64(skipped))
		}
	}
	return fresh
}

// recordSeen commits watermarks for rows the sink accepted.
func (s *Syncer) recordSeen(rows []model.Row) {
	for _, r := range rows {
		if err := s.seen.Apply(r.SRID, r.LastChangeDate.Unix()); err != nil {
			log.Printf("[SYNC] dedupe store error for srid=%s: %v", r.SRID, err)
		}
	}
}

// appendChangelog publishes upserted rows to the audit feed. The feed is
// advisory: failures are logged, never fatal to the run.
func (s *Syncer) appendChangelog(rows []model.Row) {
	if s.clog == nil {
		return
	}
	for _, r := range rows {
		e := changelog.Event{
			SRID:       r.SRID,
			GNumber:    r.GNumber,
			LastChange: r.LastChangeDate.Unix(),
			Cancelled:  r.IsCancel,
			TS:         nowUnix(),
		}
		if err := s.clog.Append(e); err != nil {
			log.Printf("[SYNC] changelog append failed for srid=%s: %v", r.SRID, err)
		}
	}
}
