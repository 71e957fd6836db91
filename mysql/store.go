package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velmie/pipeline-outbox/internal/sqlstore"
)

// Store is the MySQL outbox.Store.
type Store struct {
	*sqlstore.Outbox
}

// NewStore constructs a MySQL outbox store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	s, err := sqlstore.NewOutbox(db, sqlstore.MySQL, opts...)
	if err != nil {
		return nil, err
	}

	return &Store{Outbox: s}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// ObservationLog is the MySQL retrylearn.ObservationLog.
type ObservationLog struct {
	*sqlstore.ObservationLog
}

// NewObservationLog constructs a MySQL observation log.
func NewObservationLog(db *sql.DB, opts ...Option) (*ObservationLog, error) {
	l, err := sqlstore.NewObservationLog(db, sqlstore.MySQL, opts...)
	if err != nil {
		return nil, err
	}

	return &ObservationLog{ObservationLog: l}, nil
}

// PatternStore is the MySQL sourcepattern.Store.
type PatternStore struct {
	*sqlstore.PatternStore
}

// NewPatternStore constructs a MySQL pattern store.
func NewPatternStore(db *sql.DB, opts ...Option) (*PatternStore, error) {
	p, err := sqlstore.NewPatternStore(db, sqlstore.MySQL, opts...)
	if err != nil {
		return nil, err
	}

	return &PatternStore{PatternStore: p}, nil
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, opts ...Option) error {
	statements, err := SchemaStatements(opts...)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("outbox mysql: migrate failed: %w", err)
		}
	}

	return nil
}
