package dedupe

import "sync"

// Store tracks the newest lastChangeDate seen per srid so the syncer can
// suppress redundant re-upserts of rows re-fetched through the overlap
// window. Suppression is an optimization only: the sink upsert is
// idempotent, so losing this state never loses data. Checking and
// recording are separate so the watermark is committed only once the row
// actually reached the sink; a watermark recorded ahead of a failed write
// would suppress that row on every later run.
type Store interface {
	// Changed reports whether the record is new or changed since the
	// last one recorded for this srid. Read-only.
	Changed(srid string, lastChange int64) (bool, error)
	// Apply records the observation as the newest seen for this srid.
	Apply(srid string, lastChange int64) error
	Close() error
}

// InMemoryStore is a thread-safe map store. Per-process lifetime: it
// dedupes across pages within one run.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]int64)}
}

func (s *InMemoryStore) Changed(srid string, lastChange int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if prev, ok := s.data[srid]; ok && lastChange <= prev {
		return false, nil
	}
	return true, nil
}

func (s *InMemoryStore) Apply(srid string, lastChange int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.data[srid]; ok && lastChange <= prev {
		return nil
	}
	s.data[srid] = lastChange
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// NopStore disables suppression: every record reports as changed.
type NopStore struct{}

func (NopStore) Changed(string, int64) (bool, error) { return true, nil }
func (NopStore) Apply(string, int64) error           { return nil }
func (NopStore) Close() error                        { return nil }
