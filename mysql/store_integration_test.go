//go:build integration

package mysql_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/internal/storetest"
	"github.com/velmie/pipeline-outbox/mysql"
	"github.com/velmie/pipeline-outbox/retrylearn"
	"github.com/velmie/pipeline-outbox/sourcepattern"
)

func TestStoreConformanceIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	db := startMySQL(t, ctx)

	storetest.RunOutbox(t, func(t *testing.T) (outbox.Store, *sql.DB) {
		truncate(t, ctx, db)
		store, err := mysql.NewStore(db)
		require.NoError(t, err)

		return store, db
	})
}

func TestLearningStoresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	db := startMySQL(t, ctx)

	storetest.RunObservationLog(t, func(t *testing.T) retrylearn.ObservationLog {
		truncate(t, ctx, db)
		log, err := mysql.NewObservationLog(db)
		require.NoError(t, err)

		return log
	})
	storetest.RunPatternStore(t, func(t *testing.T) sourcepattern.Store {
		truncate(t, ctx, db)
		store, err := mysql.NewPatternStore(db)
		require.NoError(t, err)

		return store
	})
}

func TestLockerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	db := startMySQL(t, ctx)

	first, err := mysql.NewLocker(db, nil)
	require.NoError(t, err)
	second, err := mysql.NewLocker(db, nil)
	require.NoError(t, err)

	unlock, ok, err := first.TryLock(ctx, "outbox:cleanup:test")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryLock(ctx, "outbox:cleanup:test")
	require.NoError(t, err)
	require.False(t, ok)

	unlock()

	unlock, ok, err = second.TryLock(ctx, "outbox:cleanup:test")
	require.NoError(t, err)
	require.True(t, ok)
	unlock()
}

func TestCleanupMaintainerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	db := startMySQL(t, ctx)
	truncate(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	old := storetest.Base.Add(-48 * time.Hour)
	publisher := outbox.NewPublisher(store, outbox.PublisherConfig{Clock: outbox.FixedClock(old)})
	for range 3 {
		id, err := publisher.Publish(ctx, db, "article.job.created", []byte(`{"job_id":"j-1"}`))
		require.NoError(t, err)
		res, err := store.Claim(ctx, id, old)
		require.NoError(t, err)
		require.True(t, res.Acquired())
		require.NoError(t, store.Complete(ctx, id, old))
	}
	_, err = publisher.Publish(ctx, db, "article.job.created", []byte(`{"job_id":"j-2"}`))
	require.NoError(t, err)

	maintainer, err := mysql.NewCleanupMaintainer(db, outbox.CleanupMaintainerConfig{
		Retention: 24 * time.Hour,
		Clock:     outbox.FixedClock(storetest.Base),
	})
	require.NoError(t, err)

	result, err := maintainer.Ensure(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), result.Completed)

	stats, err := store.Stats(ctx, storetest.Base)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Pending)
}

func startMySQL(t *testing.T, ctx context.Context) *sql.DB {
	t.Helper()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})
	require.NoError(t, mysql.Migrate(ctx, db))

	return db
}

func truncate(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	tables := mysql.DefaultTables()
	for _, table := range []string{tables.Events, tables.Observations, tables.Patterns} {
		_, err := db.ExecContext(ctx, "TRUNCATE TABLE "+table)
		require.NoError(t, err)
	}
}

func startMySQLContainer(t *testing.T, ctx context.Context) (testcontainers.Container, *sql.DB) {
	t.Helper()
	port := nat.Port("3306/tcp")
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0.36",
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "secret",
			"MYSQL_DATABASE":      "outbox",
		},
		WaitingFor: wait.ForSQL(port, "mysql", func(host string, port nat.Port) string {
			return fmt.Sprintf("root:secret@tcp(%s:%s)/outbox", host, port.Port())
		}).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start mysql container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve port: %v", err)
	}

	db, err := sql.Open("mysql", fmt.Sprintf("root:secret@tcp(%s:%s)/outbox", host, mappedPort.Port()))
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("open db: %v", err)
	}

	return container, db
}
