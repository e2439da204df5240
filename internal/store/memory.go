package store

import (
	"sync"
	"time"

	"github.com/driftlab/edgesync/internal/record"
)

// MemoryStore is an in-memory Store implementation.
//
// A single mutex guards both the record map and the pending set. The lock is
// held only for the duration of a map/set operation, never across I/O, so a
// producer calling Save never waits on a sync cycle's network calls.
type MemoryStore struct {
	mu            sync.Mutex
	records       map[string]record.Record
	pending       map[string]struct{}
	watermark     time.Time
	haveWatermark bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]record.Record),
		pending: make(map[string]struct{}),
	}
}

// FetchPending implements Store.FetchPending.
func (s *MemoryStore) FetchPending(limit int) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]record.Record, 0, len(s.pending))
	for id := range s.pending {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec, ok := s.records[id]
		if !ok {
			// Pending id without a record should not happen; skip it
			// rather than fabricating an empty record.
			continue
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

// FetchAll implements Store.FetchAll.
func (s *MemoryStore) FetchAll() ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]record.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(id string) (record.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return record.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

// Save implements Store.Save.
func (s *MemoryStore) Save(rec record.Record, markPending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = rec.Clone()
	if markPending {
		s.pending[rec.ID] = struct{}{}
	}
	return nil
}

// MarkSynced implements Store.MarkSynced.
func (s *MemoryStore) MarkSynced(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.pending, id)
	}
	return nil
}

// Pending implements Store.Pending.
func (s *MemoryStore) Pending() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.pending))
	for id := range s.pending {
		out = append(out, id)
	}
	return out, nil
}

// Watermark implements WatermarkStore.Watermark.
func (s *MemoryStore) Watermark() (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark, s.haveWatermark, nil
}

// SetWatermark implements WatermarkStore.SetWatermark.
func (s *MemoryStore) SetWatermark(ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermark = ts
	s.haveWatermark = true
	return nil
}

// Close implements Store.Close. It is a no-op for the memory backend.
func (s *MemoryStore) Close() error {
	return nil
}
