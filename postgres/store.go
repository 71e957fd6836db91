package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/velmie/pipeline-outbox/internal/sqlstore"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

// Open opens a pgx backed *sql.DB and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrDSNRequired
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("outbox postgres: open failed: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("outbox postgres: ping failed: %w", err)
	}

	return db, nil
}

// Store is the PostgreSQL outbox.Store.
type Store struct {
	*sqlstore.Outbox
}

// NewStore constructs a PostgreSQL outbox store.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	s, err := sqlstore.NewOutbox(db, sqlstore.Postgres, opts...)
	if err != nil {
		return nil, err
	}

	return &Store{Outbox: s}, nil
}

// ObservationLog is the PostgreSQL retrylearn.ObservationLog.
type ObservationLog struct {
	*sqlstore.ObservationLog
}

// NewObservationLog constructs a PostgreSQL observation log.
func NewObservationLog(db *sql.DB, opts ...Option) (*ObservationLog, error) {
	l, err := sqlstore.NewObservationLog(db, sqlstore.Postgres, opts...)
	if err != nil {
		return nil, err
	}

	return &ObservationLog{ObservationLog: l}, nil
}

// PatternStore is the PostgreSQL sourcepattern.Store.
type PatternStore struct {
	*sqlstore.PatternStore
}

// NewPatternStore constructs a PostgreSQL pattern store.
func NewPatternStore(db *sql.DB, opts ...Option) (*PatternStore, error) {
	p, err := sqlstore.NewPatternStore(db, sqlstore.Postgres, opts...)
	if err != nil {
		return nil, err
	}

	return &PatternStore{PatternStore: p}, nil
}
