// Package sqlite provides the SQLite outbox backend for single-node deployments and tests.
//
// Claims rely on SQLite serializing writers, so the same conditional UPDATE
// that MySQL and PostgreSQL run per row is exclusive here too. Open enables
// WAL and a busy timeout so concurrent workers wait instead of failing.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/velmie/pipeline-outbox/internal/sqlstore"
)

const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

// Open opens the database file at path with WAL and a busy timeout.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("outbox sqlite: path is required")
	}

	db, err := sql.Open("sqlite", "file:"+filepath.Clean(path)+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("outbox sqlite: open failed: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("outbox sqlite: ping failed: %w", err)
	}

	return db, nil
}

// Store is the SQLite outbox.Store.
type Store struct {
	*sqlstore.Outbox
}

// NewStore constructs a SQLite outbox store.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	s, err := sqlstore.NewOutbox(db, sqlstore.SQLite, opts...)
	if err != nil {
		return nil, err
	}

	return &Store{Outbox: s}, nil
}

// ObservationLog is the SQLite retrylearn.ObservationLog.
type ObservationLog struct {
	*sqlstore.ObservationLog
}

// NewObservationLog constructs a SQLite observation log.
func NewObservationLog(db *sql.DB, opts ...Option) (*ObservationLog, error) {
	l, err := sqlstore.NewObservationLog(db, sqlstore.SQLite, opts...)
	if err != nil {
		return nil, err
	}

	return &ObservationLog{ObservationLog: l}, nil
}

// PatternStore is the SQLite sourcepattern.Store.
type PatternStore struct {
	*sqlstore.PatternStore
}

// NewPatternStore constructs a SQLite pattern store.
func NewPatternStore(db *sql.DB, opts ...Option) (*PatternStore, error) {
	p, err := sqlstore.NewPatternStore(db, sqlstore.SQLite, opts...)
	if err != nil {
		return nil, err
	}

	return &PatternStore{PatternStore: p}, nil
}

// Migrate creates the tables and indexes if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, opts ...Option) error {
	statements, err := SchemaStatements(opts...)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("outbox sqlite: migrate failed: %w", err)
		}
	}

	return nil
}
