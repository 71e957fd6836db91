package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velmie/pipeline-outbox"
)

const defaultCleanupLockPrefix = "outbox:cleanup:"

// Locker implements outbox.Locker with session level advisory locks keyed by
// hashtext(name). Each held lock pins one pooled connection until unlock.
type Locker struct {
	db     *sql.DB
	logger outbox.Logger
}

var _ outbox.Locker = (*Locker)(nil)

// NewLocker constructs an advisory locker.
func NewLocker(db *sql.DB, logger outbox.Logger) (*Locker, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if logger == nil {
		logger = outbox.NopLogger{}
	}

	return &Locker{db: db, logger: logger}, nil
}

// TryLock implements outbox.Locker without waiting for the lock.
func (l *Locker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	if name == "" {
		return nil, false, ErrLockNameRequired
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("outbox postgres: lock conn failed: %w", err)
	}

	var got bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", name).Scan(&got); err != nil {
		_ = conn.Close()

		return nil, false, fmt.Errorf("outbox postgres: acquire lock failed: %w", err)
	}
	if !got {
		_ = conn.Close()

		return nil, false, nil
	}

	unlock := func() {
		var released bool
		if err := conn.QueryRowContext(context.Background(), "SELECT pg_advisory_unlock(hashtext($1))", name).Scan(&released); err != nil {
			l.logger.Warn("outbox postgres release lock failed", outbox.LogKeyErr, err)
		}
		_ = conn.Close()
	}

	return unlock, true, nil
}

// NewCleanupMaintainer builds an outbox.CleanupMaintainer over a PostgreSQL
// store, serialized with an advisory lock named outbox:cleanup:<table> by default.
func NewCleanupMaintainer(db *sql.DB, cfg outbox.CleanupMaintainerConfig, opts ...Option) (*outbox.CleanupMaintainer, error) {
	store, err := NewStore(db, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Locker == nil {
		locker, err := NewLocker(db, cfg.Logger)
		if err != nil {
			return nil, err
		}
		cfg.Locker = locker
	}
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLockPrefix + store.Table()
	}

	return outbox.NewCleanupMaintainer(store, cfg)
}
