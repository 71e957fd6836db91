// Package retrylearn learns per-category retry cooldowns from recorded outcomes.
//
// Every retry outcome is appended to an ObservationLog. On access the Learner
// rebuilds its Snapshot from the trailing window when the cached one is older
// than the TTL, and answers with the learned wait when its confidence is high
// enough, or with the static default otherwise.
package retrylearn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/velmie/pipeline-outbox"
)

const (
	// DefaultWindow is the trailing window of observations used for learning.
	DefaultWindow = 90 * 24 * time.Hour
	// DefaultCacheTTL bounds how stale a learned snapshot may be.
	DefaultCacheTTL = 5 * time.Minute
)

// Config configures a Learner.
type Config struct {
	Window   time.Duration
	CacheTTL time.Duration
	Cache    Cache
	Clock    outbox.Clock
	Logger   outbox.Logger
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.Cache == nil {
		c.Cache = NewMemoryCache()
	}
	if c.Clock == nil {
		c.Clock = outbox.SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = outbox.NopLogger{}
	}

	return c
}

// Outcome is a retry result reported by a caller.
type Outcome struct {
	Category Category
	// Wait is the delay actually observed before the retry.
	Wait    time.Duration
	Success bool
}

// Learner produces adaptive cooldowns. It is safe for concurrent use.
type Learner struct {
	log ObservationLog
	cfg Config

	refreshMu sync.Mutex
	recordMu  sync.Mutex
}

// NewLearner constructs a Learner reading from and appending to log.
func NewLearner(log ObservationLog, cfg Config) *Learner {
	if log == nil {
		panic("retrylearn: nil ObservationLog")
	}

	return &Learner{log: log, cfg: cfg.withDefaults()}
}

// RecordOutcome appends one observation with the wait snapped to its bucket.
func (l *Learner) RecordOutcome(ctx context.Context, category Category, wait time.Duration, success bool) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if wait < 0 {
		return ErrNegativeWait
	}

	obs := Observation{
		Category:   category,
		WaitBucket: BucketFor(wait),
		Success:    success,
		ObservedAt: l.cfg.Clock.Now(),
	}
	if err := l.log.Append(ctx, obs); err != nil {
		return fmt.Errorf("retrylearn: append observation: %w", err)
	}

	return nil
}

// RecordOutcomes appends outcomes one at a time, in order, stopping at the first error.
// Concurrent batches do not interleave.
func (l *Learner) RecordOutcomes(ctx context.Context, outcomes []Outcome) error {
	l.recordMu.Lock()
	defer l.recordMu.Unlock()

	for i, o := range outcomes {
		if err := l.RecordOutcome(ctx, o.Category, o.Wait, o.Success); err != nil {
			return fmt.Errorf("retrylearn: outcome %d: %w", i, err)
		}
	}

	return nil
}

// AttemptObserver returns a worker hook that records the outcome of every
// retried attempt against the category of the failure that preceded it.
// The previous failure must have been rendered with FormatError.
func (l *Learner) AttemptObserver() outbox.AttemptObserver {
	return func(ctx context.Context, attempt outbox.AttemptOutcome) {
		category := ClassifyMessage(attempt.PreviousError)
		if err := l.RecordOutcome(ctx, category, attempt.Wait, attempt.Err == nil); err != nil {
			l.cfg.Logger.Warn("retrylearn record outcome failed",
				outbox.LogKeyEventID, attempt.Event.ID.String(),
				"category", category,
				outbox.LogKeyErr, err,
			)
		}
	}
}

// Cooldown returns the wait to apply before retrying a failure of category.
// Non-retryable categories return Infinite without any lookup.
func (l *Learner) Cooldown(ctx context.Context, category Category) time.Duration {
	if !category.Retryable() {
		return Infinite
	}

	if params, ok := l.Params(ctx, category); ok && params.Confidence >= MinConfidence {
		return params.OptimalWait
	}

	return category.DefaultCooldown()
}

// Params returns the learned params of category, if any exist.
func (l *Learner) Params(ctx context.Context, category Category) (Params, bool) {
	if !category.Retryable() {
		return Params{}, false
	}

	snapshot, ok := l.current(ctx)
	if !ok {
		return Params{}, false
	}

	return snapshot.Lookup(category)
}

// Snapshot returns the current learned state, refreshing it when stale.
func (l *Learner) Snapshot(ctx context.Context) (Snapshot, error) {
	snapshot, ok := l.current(ctx)
	if !ok {
		return Snapshot{}, ErrNoSnapshot
	}

	return snapshot, nil
}

// Refresh rebuilds the snapshot from the observation log regardless of its age.
func (l *Learner) Refresh(ctx context.Context) (Snapshot, error) {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	return l.rebuild(ctx)
}

func (l *Learner) current(ctx context.Context) (Snapshot, bool) {
	if snapshot, ok := l.cached(ctx); ok && snapshot.Fresh(l.cfg.Clock.Now(), l.cfg.CacheTTL) {
		return snapshot, true
	}

	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	stale, ok := l.cached(ctx)
	if ok && stale.Fresh(l.cfg.Clock.Now(), l.cfg.CacheTTL) {
		return stale, true
	}

	snapshot, err := l.rebuild(ctx)
	if err != nil {
		l.cfg.Logger.Warn("retrylearn refresh failed, using static cooldowns", outbox.LogKeyErr, err)

		return stale, ok
	}

	return snapshot, true
}

func (l *Learner) cached(ctx context.Context) (Snapshot, bool) {
	snapshot, ok, err := l.cfg.Cache.Load(ctx)
	if err != nil {
		l.cfg.Logger.Warn("retrylearn cache load failed", outbox.LogKeyErr, err)

		return Snapshot{}, false
	}

	return snapshot, ok
}

func (l *Learner) rebuild(ctx context.Context) (Snapshot, error) {
	now := l.cfg.Clock.Now()
	stats, err := l.log.BucketStats(ctx, now.Add(-l.cfg.Window))
	if err != nil {
		return Snapshot{}, fmt.Errorf("retrylearn: aggregate observations: %w", err)
	}

	snapshot := Snapshot{Params: Learn(stats, now), RefreshedAt: now}
	if err := l.cfg.Cache.Store(ctx, snapshot); err != nil {
		l.cfg.Logger.Warn("retrylearn cache store failed", outbox.LogKeyErr, err)
	}
	l.cfg.Logger.Debug("retrylearn snapshot rebuilt", "categories", len(snapshot.Params))

	return snapshot, nil
}

// RetryPolicy returns an outbox retry policy that never waits less than the
// learned cooldown of a categorized, retryable failure.
// Other failures use fallback, which defaults to outbox.DefaultBackoff.
func (l *Learner) RetryPolicy(fallback outbox.RetryPolicy) outbox.RetryPolicy {
	if fallback == nil {
		fallback = outbox.DefaultBackoff()
	}

	return outbox.RetryPolicyFunc(func(ctx context.Context, event outbox.Event, err error) time.Duration {
		delay := fallback.RetryDelay(ctx, event, err)
		category := Classify(err)
		if !category.Retryable() {
			return delay
		}
		if cooldown := l.Cooldown(ctx, category); cooldown > delay {
			return cooldown
		}

		return delay
	})
}
