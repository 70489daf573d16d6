package pairing

import (
	"sync"
	"time"
)

// Registry owns every live attempt Record, keyed by attempt id.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Create registers a fresh Record in Connecting.
func (g *Registry) Create(id string, createdAt time.Time, dir string) (*Record, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.records[id]; ok {
		return nil, ErrDuplicateAttempt
	}
	rec := newRecord(id, createdAt, dir)
	g.records[id] = rec
	return rec, nil
}

func (g *Registry) Get(id string) (*Record, error) {
	g.mu.RLock()
	rec, ok := g.records[id]
	g.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Remove deletes id unconditionally.
func (g *Registry) Remove(id string) {
	g.mu.Lock()
	delete(g.records, id)
	g.mu.Unlock()
}

// RemoveIf deletes id only while it still maps to rec.
// A stale timer holding an older record can never evict a newer one.
func (g *Registry) RemoveIf(id string, rec *Record) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur, ok := g.records[id]
	if !ok || cur != rec {
		return false
	}
	delete(g.records, id)
	return true
}

// ForEach calls fn for a point-in-time copy of the registered records.
// fn runs without the registry lock held. Returning false stops iteration.
func (g *Registry) ForEach(fn func(*Record) bool) {
	g.mu.RLock()
	recs := make([]*Record, 0, len(g.records))
	for _, rec := range g.records {
		recs = append(recs, rec)
	}
	g.mu.RUnlock()

	for _, rec := range recs {
		if !fn(rec) {
			return
		}
	}
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}
