//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/internal/storetest"
	"github.com/velmie/pipeline-outbox/postgres"
	"github.com/velmie/pipeline-outbox/retrylearn"
	"github.com/velmie/pipeline-outbox/sourcepattern"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("outbox"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	version, err := postgres.MigrateVersioned(db)
	require.NoError(t, err)
	require.Equal(t, uint(1), version)

	return db
}

func truncate(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		"TRUNCATE TABLE outbox_events, retry_observations, source_patterns")
	require.NoError(t, err)
}

func TestStoreConformanceIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	db := startPostgres(t)

	storetest.RunOutbox(t, func(t *testing.T) (outbox.Store, *sql.DB) {
		truncate(t, db)
		store, err := postgres.NewStore(db)
		require.NoError(t, err)

		return store, db
	})
}

func TestLearningStoresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	db := startPostgres(t)

	storetest.RunObservationLog(t, func(t *testing.T) retrylearn.ObservationLog {
		truncate(t, db)
		log, err := postgres.NewObservationLog(db)
		require.NoError(t, err)

		return log
	})
	storetest.RunPatternStore(t, func(t *testing.T) sourcepattern.Store {
		truncate(t, db)
		store, err := postgres.NewPatternStore(db)
		require.NoError(t, err)

		return store
	})
}

func TestMigrationsAreIdempotentIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	db := startPostgres(t)

	version, err := postgres.MigrateVersioned(db)
	require.NoError(t, err)
	require.Equal(t, uint(1), version)
	require.NoError(t, postgres.Migrate(context.Background(), db))
}

func TestAdvisoryLockerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	db := startPostgres(t)

	locker, err := postgres.NewLocker(db, nil)
	require.NoError(t, err)

	unlock, ok, err := locker.TryLock(ctx, "outbox:cleanup:outbox_events")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "outbox:cleanup:outbox_events")
	require.NoError(t, err)
	require.False(t, ok, "a second session must not acquire a held lock")

	unlock()

	unlock, ok, err = locker.TryLock(ctx, "outbox:cleanup:outbox_events")
	require.NoError(t, err)
	require.True(t, ok)
	unlock()
}
