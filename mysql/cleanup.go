package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velmie/pipeline-outbox"
)

const defaultCleanupLockPrefix = "outbox:cleanup:"

// Locker implements outbox.Locker with GET_LOCK on a dedicated connection.
// The lock lives as long as that connection, so unlock also returns it to the pool.
type Locker struct {
	db     *sql.DB
	logger outbox.Logger
}

var _ outbox.Locker = (*Locker)(nil)

// NewLocker constructs a GET_LOCK based locker.
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
		return nil, false, fmt.Errorf("outbox mysql: lock conn failed: %w", err)
	}

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&got); err != nil {
		_ = conn.Close()

		return nil, false, fmt.Errorf("outbox mysql: acquire lock failed: %w", err)
	}
	if !got.Valid || got.Int64 == 0 {
		_ = conn.Close()

		return nil, false, nil
	}

	unlock := func() {
		var released sql.NullInt64
		if err := conn.QueryRowContext(context.Background(), "SELECT RELEASE_LOCK(?)", name).Scan(&released); err != nil {
			l.logger.Warn("outbox mysql release lock failed", outbox.LogKeyErr, err)
		}
		_ = conn.Close()
	}

	return unlock, true, nil
}

// NewCleanupMaintainer builds an outbox.CleanupMaintainer over a MySQL store,
// serialized across processes with GET_LOCK. The lock name defaults to
// outbox:cleanup:<table>.
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
