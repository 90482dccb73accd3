package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"wbsync/internal/changelog"
	"wbsync/internal/dedupe"
	"wbsync/internal/metrics"
	"wbsync/internal/sink"
	"wbsync/internal/syncer"
	"wbsync/internal/upstream"
	"wbsync/internal/wbtime"
)

const defaultWBURL = "https://statistics-api.wildberries.ru/api/v1/supplier/orders"

// Config holds CLI flags for the sync run.
type Config struct {
	WBURL     string
	WBKey     string
	SinkURL   string
	SinkKey   string
	SinkTable string

	ReloadDay      string
	OverlapMin     int
	BatchSize      int
	SleepSec       int
	Retries        int
	BackoffSec     int
	StallPageSize  int
	StartOfHistory string // first MSK day when the sink is empty

	DedupeBackend string // memory|pebble|off
	PebbleDir     string

	ChangelogSink  string // file|kafka|both|off
	ChangelogDir   string
	KafkaBootstrap string
	TopicOrders    string

	HTTPAddr string
}

func main() {
	cfg := readFlags()
	if err := run(cfg); err != nil {
		log.Fatalf("wbsync failed: %v", err)
	}
}

func readFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.WBURL, "wb-url", getEnv("WB_API_URL", defaultWBURL), "WB statistics orders endpoint")
	flag.StringVar(&cfg.WBKey, "wb-key", os.Getenv("WB_API_KEY"), "WB statistics API key")
	flag.StringVar(&cfg.SinkURL, "sink-url", os.Getenv("SUPABASE_URL"), "Supabase project URL")
	flag.StringVar(&cfg.SinkKey, "sink-key", os.Getenv("SUPABASE_SERVICE_KEY"), "Supabase service role key")
	flag.StringVar(&cfg.SinkTable, "sink-table", getEnv("SUPABASE_TABLE", "wb_orders"), "target table")
	flag.StringVar(&cfg.ReloadDay, "reload-day", os.Getenv("RELOAD_DAY"), "MSK day (2006-01-02) to reload before the incremental pass")
	flag.IntVar(&cfg.OverlapMin, "overlap-min", getEnvInt("OVERLAP_MINUTES", 120), "cursor overlap window, minutes")
	flag.IntVar(&cfg.BatchSize, "batch-size", getEnvInt("BATCH_SIZE", 500), "upsert chunk size")
	flag.IntVar(&cfg.SleepSec, "wb-sleep", getEnvInt("WB_SLEEP_SECONDS", 65), "minimum seconds between upstream requests")
	flag.IntVar(&cfg.Retries, "wb-retries", 6, "attempts per upstream page")
	flag.IntVar(&cfg.BackoffSec, "wb-backoff", 10, "linear backoff step on 5xx, seconds")
	flag.IntVar(&cfg.StallPageSize, "stall-page-size", 80000, "page size treated as maximal for the stall guard")
	flag.StringVar(&cfg.StartOfHistory, "start-of-history", "2023-01-01", "first MSK day to sync when the sink is empty")
	flag.StringVar(&cfg.DedupeBackend, "dedupe-backend", "memory", "dedupe backend: memory|pebble|off")
	flag.StringVar(&cfg.PebbleDir, "pebble-dir", "./data/wbsync", "pebble data directory")
	flag.StringVar(&cfg.ChangelogSink, "changelog-sink", "off", "order event feed: file|kafka|both|off")
	flag.StringVar(&cfg.ChangelogDir, "changelog-dir", "./changelog", "directory for the file event feed")
	flag.StringVar(&cfg.KafkaBootstrap, "kafka-bootstrap", os.Getenv("KAFKA_BOOTSTRAP"), "kafka bootstrap servers, e.g. localhost:9092")
	flag.StringVar(&cfg.TopicOrders, "topic-orders", "wb.orders.changed", "kafka topic for order change events")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "address for /metrics and /healthz")
	flag.Parse()
	return cfg
}

func run(cfg Config) error {
	if cfg.WBKey == "" {
		return fmt.Errorf("missing WB API key (-wb-key or WB_API_KEY)")
	}
	if cfg.SinkURL == "" || cfg.SinkKey == "" {
		return fmt.Errorf("missing sink credentials (-sink-url/-sink-key or SUPABASE_URL/SUPABASE_SERVICE_KEY)")
	}

	floor, _, err := wbtime.DayRangeUTC(cfg.StartOfHistory)
	if err != nil {
		return fmt.Errorf("bad -start-of-history: %w", err)
	}

	log.Printf("starting wbsync table=%s overlap=%dm batch=%d sleep=%ds", cfg.SinkTable, cfg.OverlapMin, cfg.BatchSize, cfg.SleepSec)

	// Dedupe store
	var seen dedupe.Store
	switch cfg.DedupeBackend {
	case "pebble":
		ps, err := dedupe.NewPebbleStore(cfg.PebbleDir)
		if err != nil {
			return fmt.Errorf("init pebble: %w", err)
		}
		defer ps.Close()
		seen = ps
	case "off":
		seen = dedupe.NopStore{}
	default:
		seen = dedupe.NewInMemoryStore()
	}

	// Order event feed (file by default when enabled; kafka optional)
	if (cfg.ChangelogSink == "kafka" || cfg.ChangelogSink == "both") && cfg.KafkaBootstrap == "" {
		return fmt.Errorf("-changelog-sink=%s requires -kafka-bootstrap or KAFKA_BOOTSTRAP", cfg.ChangelogSink)
	}
	var clog changelog.Writer
	if cfg.ChangelogSink == "file" || cfg.ChangelogSink == "both" {
		fw, err := changelog.NewFileWriter(cfg.ChangelogDir, "orders.jsonl")
		if err != nil {
			return fmt.Errorf("init changelog file: %w", err)
		}
		clog = fw
	}
	if cfg.ChangelogSink == "kafka" || cfg.ChangelogSink == "both" {
		kw := changelog.NewKafkaWriter(cfg.KafkaBootstrap, cfg.TopicOrders)
		defer kw.Close()
		if clog == nil {
			clog = kw
		} else {
			clog = changelog.NewMultiWriter(clog, kw)
		}
	}

	// Prometheus metrics registry
	mreg := metrics.NewRegistry()
	go func() {
		http.Handle("/metrics", mreg.Handler())
		http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		})
		_ = http.ListenAndServe(cfg.HTTPAddr, nil)
	}()

	retry := upstream.RetryPolicy{
		MaxAttempts:   cfg.Retries,
		BackoffStep:   time.Duration(cfg.BackoffSec) * time.Second,
		RateLimitWait: time.Duration(cfg.SleepSec) * time.Second,
	}
	feed := upstream.NewClient(cfg.WBURL, cfg.WBKey, retry, mreg)
	gw := sink.NewGateway(cfg.SinkURL, cfg.SinkKey, cfg.SinkTable, cfg.BatchSize, floor, mreg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := syncer.New(syncer.Config{
		ReloadDay:     cfg.ReloadDay,
		Overlap:       time.Duration(cfg.OverlapMin) * time.Minute,
		RateInterval:  time.Duration(cfg.SleepSec) * time.Second,
		StallPageSize: cfg.StallPageSize,
	}, feed, gw, seen, clog, mreg)

	return s.Run(ctx)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
