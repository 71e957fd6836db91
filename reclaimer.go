package outbox

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultStuckAfter is how long an event may stay PROCESSING before it is reclaimed.
	DefaultStuckAfter   = 30 * time.Minute
	defaultReclaimEvery = 5 * time.Minute
)

// ReclaimerConfig controls stuck-event recovery.
type ReclaimerConfig struct {
	// StuckAfter is the PROCESSING age after which a worker is presumed dead.
	StuckAfter time.Duration
	// CheckEvery is the interval between sweeps in Run.
	CheckEvery time.Duration
	Clock      Clock
	Logger     Logger
	Metrics    Metrics
}

func (c ReclaimerConfig) withDefaults() ReclaimerConfig {
	if c.StuckAfter <= 0 {
		c.StuckAfter = DefaultStuckAfter
	}
	if c.CheckEvery <= 0 {
		c.CheckEvery = defaultReclaimEvery
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// Reclaimer resets events left in PROCESSING by crashed workers.
// Only rows whose updated_at is older than the threshold are touched,
// so a slow but live worker is never raced.
type Reclaimer struct {
	store Store
	cfg   ReclaimerConfig
}

// NewReclaimer constructs a Reclaimer over store.
func NewReclaimer(store Store, cfg ReclaimerConfig) *Reclaimer {
	if store == nil {
		panic("outbox: nil Store")
	}

	return &Reclaimer{store: store, cfg: cfg.withDefaults()}
}

// Reclaim runs a single sweep. stuckFor <= 0 uses the configured threshold.
func (r *Reclaimer) Reclaim(ctx context.Context, stuckFor time.Duration) (int64, error) {
	if stuckFor <= 0 {
		stuckFor = r.cfg.StuckAfter
	}

	now := r.cfg.Clock.Now()
	reason := fmt.Sprintf("reclaimed: processing exceeded %s without an outcome", stuckFor)
	count, err := r.store.ReclaimStuck(ctx, now.Add(-stuckFor), now, reason)
	if err != nil {
		return 0, fmt.Errorf("outbox reclaim failed: %w", err)
	}
	if count > 0 {
		r.cfg.Logger.Warn("outbox reclaimed stuck events", "count", count, "stuck_for", stuckFor)
		r.cfg.Metrics.AddReclaimed(count)
	}

	return count, nil
}

// Run sweeps every CheckEvery until the context is canceled.
func (r *Reclaimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.CheckEvery)
	defer ticker.Stop()

	for {
		if _, err := r.Reclaim(ctx, 0); err != nil {
			r.cfg.Logger.Warn("outbox reclaim sweep failed", LogKeyErr, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
