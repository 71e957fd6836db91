package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/internal/storetest"
	"github.com/velmie/pipeline-outbox/retrylearn"
	"github.com/velmie/pipeline-outbox/sourcepattern"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db))

	return db
}

func TestStoreConformance(t *testing.T) {
	storetest.RunOutbox(t, func(t *testing.T) (outbox.Store, *sql.DB) {
		db := openDB(t)
		store, err := NewStore(db)
		require.NoError(t, err)

		return store, db
	})
}

func TestObservationLogConformance(t *testing.T) {
	storetest.RunObservationLog(t, func(t *testing.T) retrylearn.ObservationLog {
		log, err := NewObservationLog(openDB(t))
		require.NoError(t, err)

		return log
	})
}

func TestPatternStoreConformance(t *testing.T) {
	storetest.RunPatternStore(t, func(t *testing.T) sourcepattern.Store {
		store, err := NewPatternStore(openDB(t))
		require.NoError(t, err)

		return store
	})
}

func TestCustomTables(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "custom.db"))
	require.NoError(t, err)
	defer db.Close()

	opts := []Option{WithTables(Tables{Events: "jobs_outbox", Patterns: "fetch_patterns"})}
	require.NoError(t, Migrate(context.Background(), db, opts...))

	store, err := NewStore(db, opts...)
	require.NoError(t, err)
	require.Equal(t, "jobs_outbox", store.Table())

	stats, err := store.Stats(context.Background(), storetest.Base)
	require.NoError(t, err)
	require.Equal(t, outbox.Stats{}, stats)

	_, err = NewStore(db, WithTable("jobs;drop"))
	require.Error(t, err)
}

func TestSchema(t *testing.T) {
	schema, err := Schema()
	require.NoError(t, err)
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS outbox_events",
		"idx_outbox_events_due",
		"CREATE TABLE IF NOT EXISTS retry_observations",
		"PRIMARY KEY (source, day_of_week, hour_of_day)",
	} {
		require.True(t, strings.Contains(schema, want), "schema misses %q", want)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}
