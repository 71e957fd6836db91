package retrylearn

import (
	"context"
	"sync"
	"time"
)

// ObservationLog is the append-only store of retry outcomes.
type ObservationLog interface {
	// Append records one observation.
	Append(ctx context.Context, obs Observation) error
	// BucketStats aggregates observations made at or after since,
	// grouped by category and wait bucket.
	BucketStats(ctx context.Context, since time.Time) ([]BucketStat, error)
}

// MemoryLog is an in-process ObservationLog.
type MemoryLog struct {
	mu  sync.Mutex
	obs []Observation
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements ObservationLog.
func (l *MemoryLog) Append(_ context.Context, obs Observation) error {
	l.mu.Lock()
	l.obs = append(l.obs, obs)
	l.mu.Unlock()

	return nil
}

// BucketStats implements ObservationLog.
func (l *MemoryLog) BucketStats(_ context.Context, since time.Time) ([]BucketStat, error) {
	type key struct {
		category Category
		bucket   time.Duration
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	index := make(map[key]int)
	var out []BucketStat
	for _, o := range l.obs {
		if o.ObservedAt.Before(since) {
			continue
		}
		k := key{category: o.Category, bucket: o.WaitBucket}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, BucketStat{Category: o.Category, Bucket: o.WaitBucket})
		}
		out[i].Samples++
		if o.Success {
			out[i].Successes++
		}
	}

	return out, nil
}

// Len returns the number of stored observations.
func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.obs)
}
