package dedupe

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

// PebbleStore implements Store using PebbleDB, persisting the per-srid
// watermark across runs. Opt-in: a cache that outlives the sink's
// contents can suppress a needed re-upsert, so memory is the default.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	d, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) Changed(srid string, lastChange int64) (bool, error) {
	v, closer, err := p.db.Get([]byte(srid))
	if err == pebble.ErrNotFound {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("pebble get: %w", err)
	}
	prev := int64(binary.BigEndian.Uint64(v))
	_ = closer.Close()
	return lastChange > prev, nil
}

func (p *PebbleStore) Apply(srid string, lastChange int64) error {
	changed, err := p.Changed(srid, lastChange)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(lastChange))
	// NoSync: the watermark is advisory, durability is not required
	if err := p.db.Set([]byte(srid), buf[:], pebble.NoSync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}
