package sourcepattern

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists patterns. Apply must be atomic per key: concurrent
// observations of the same key are never lost.
type Store interface {
	// Apply creates the pattern of key from obs, or blends obs into it.
	Apply(ctx context.Context, key Key, obs Observation, alpha float64) error
	// List returns every pattern of source.
	List(ctx context.Context, source string) ([]Pattern, error)
	// Purge deletes patterns with fewer than minSamples samples last updated before before.
	Purge(ctx context.Context, minSamples int, before time.Time) (int64, error)
}

type memKey struct {
	source string
	day    int
	hour   int
}

func memKeyOf(k Key) memKey {
	day, hour := k.Columns()

	return memKey{source: k.Source, day: day, hour: hour}
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	patterns map[memKey]Pattern
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patterns: make(map[memKey]Pattern)}
}

// Apply implements Store.
func (s *MemoryStore) Apply(_ context.Context, key Key, obs Observation, alpha float64) error {
	mk := memKeyOf(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[mk]
	if !ok {
		s.patterns[mk] = NewPattern(KeyFromColumns(mk.source, mk.day, mk.hour), obs)

		return nil
	}
	s.patterns[mk] = p.Apply(obs, alpha)

	return nil
}

// List implements Store. Patterns are ordered by granularity, day, then hour.
func (s *MemoryStore) List(_ context.Context, source string) ([]Pattern, error) {
	s.mu.Lock()
	out := make([]Pattern, 0, len(s.patterns))
	for k, p := range s.patterns {
		if k.source == source {
			out = append(out, p)
		}
	}
	s.mu.Unlock()

	SortPatterns(out)

	return out, nil
}

// Purge implements Store.
func (s *MemoryStore) Purge(_ context.Context, minSamples int, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, p := range s.patterns {
		if p.SampleSize < minSamples && p.LastUpdated.Before(before) {
			delete(s.patterns, k)
			n++
		}
	}

	return n, nil
}

// SortPatterns orders patterns by granularity, day, then hour.
func SortPatterns(patterns []Pattern) {
	sort.Slice(patterns, func(i, j int) bool {
		gi, gj := patterns[i].Granularity(), patterns[j].Granularity()
		if gi != gj {
			return gi < gj
		}
		di, hi := patterns[i].Columns()
		dj, hj := patterns[j].Columns()
		if di != dj {
			return di < dj
		}

		return hi < hj
	})
}
