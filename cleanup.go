package outbox

import (
	"context"
	"time"
)

const (
	defaultCleanupEvery = time.Hour
	defaultCleanupLock  = "outbox:cleanup"
)

// Locker grants a best-effort cross-process lock for maintenance passes.
type Locker interface {
	// TryLock returns ok=false without blocking when another session holds name.
	TryLock(ctx context.Context, name string) (unlock func(), ok bool, err error)
}

// CleanupMaintainerConfig controls periodic removal of old terminal events.
// FAILED events are kept unless IncludeFailed is set.
type CleanupMaintainerConfig struct {
	// Retention removes events finished before now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between cleanup runs.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per run (0 uses the store default).
	Limit int
	// IncludeFailed removes FAILED events in addition to COMPLETED ones.
	IncludeFailed bool
	// Locker serializes passes across processes. Nil runs without a lock.
	Locker Locker
	// LockName defaults to outbox:cleanup.
	LockName string
	Clock    Clock
	Logger   Logger
}

// CleanupMaintainer periodically deletes old terminal events.
type CleanupMaintainer struct {
	store Store
	cfg   CleanupMaintainerConfig
}

// NewCleanupMaintainer creates a cleanup maintainer with defaults applied.
func NewCleanupMaintainer(store Store, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if store == nil {
		panic("outbox: nil Store")
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLock
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger{}
	}

	return &CleanupMaintainer{store: store, cfg: cfg}, nil
}

// Run periodically deletes old events until the context is canceled.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	for {
		if _, err := m.Ensure(ctx); err != nil {
			m.cfg.Logger.Warn("outbox cleanup failed", LogKeyErr, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ensure executes a single cleanup pass.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (CleanupResult, error) {
	if m.cfg.Locker != nil {
		unlock, ok, err := m.cfg.Locker.TryLock(ctx, m.cfg.LockName)
		if err != nil {
			return CleanupResult{}, err
		}
		if !ok {
			m.cfg.Logger.Debug("outbox cleanup lock held by another session")

			return CleanupResult{}, nil
		}
		defer unlock()
	}

	result, err := m.store.Cleanup(ctx, CleanupOptions{
		Before:        m.cfg.Clock.Now().Add(-m.cfg.Retention),
		Limit:         m.cfg.Limit,
		IncludeFailed: m.cfg.IncludeFailed,
	})
	if err != nil {
		return CleanupResult{}, err
	}
	if result.Completed > 0 || result.Failed > 0 {
		m.cfg.Logger.Info("outbox cleanup done", "completed", result.Completed, "failed", result.Failed)
	}

	return result, nil
}
