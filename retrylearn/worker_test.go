package retrylearn_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/retrylearn"
	"github.com/velmie/pipeline-outbox/sqlite"
)

var start = time.Date(2026, time.May, 4, 12, 0, 0, 0, time.UTC)

type movingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movingClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store   *sqlite.Store
	log     retrylearn.ObservationLog
	learner *retrylearn.Learner
	clock   *movingClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(context.Background(), db))

	store, err := sqlite.NewStore(db)
	require.NoError(t, err)
	log, err := sqlite.NewObservationLog(db)
	require.NoError(t, err)

	clock := &movingClock{now: start}

	return fixture{
		store:   store,
		log:     log,
		learner: retrylearn.NewLearner(log, retrylearn.Config{Clock: clock}),
		clock:   clock,
	}
}

func (f fixture) publish(t *testing.T, maxAttempts int) uuid.UUID {
	t.Helper()
	p := outbox.NewPublisher(f.store, outbox.PublisherConfig{Clock: f.clock, MaxAttempts: maxAttempts})
	id, err := p.Publish(context.Background(), f.store.DB(), "source.fetch_requested", json.RawMessage(`{"source":"s-1"}`))
	require.NoError(t, err)

	return id
}

func (f fixture) worker(handler outbox.HandlerFunc) *outbox.Worker {
	return outbox.NewWorker(f.store, handler,
		outbox.WithClock(f.clock),
		outbox.WithErrorFormatter(retrylearn.FormatError),
		outbox.WithRetryPolicy(f.learner.RetryPolicy(nil)),
		outbox.WithAttemptObserver(f.learner.AttemptObserver()),
	)
}

func TestWorkerFeedsLearnerWithRetryOutcomes(t *testing.T) {
	f := newFixture(t)
	id := f.publish(t, 5)

	var calls int
	worker := f.worker(func(context.Context, outbox.Event) error {
		calls++
		if calls == 1 {
			return retrylearn.Categorize(retrylearn.CategoryNetwork, errors.New("connection reset"))
		}
		return nil
	})

	ctx := context.Background()
	result, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Retried)

	stats, err := f.log.BucketStats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, stats, "a first attempt has nothing to learn from")

	f.clock.Advance(time.Hour)
	result, err = worker.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Completed)

	stats, err = f.log.BucketStats(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, retrylearn.BucketStat{
		Category:  retrylearn.CategoryNetwork,
		Bucket:    retrylearn.BucketFor(time.Hour),
		Samples:   1,
		Successes: 1,
	}, stats[0])

	event, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusCompleted, event.Status)
}

func TestWorkerRecordsFailedRetry(t *testing.T) {
	f := newFixture(t)
	f.publish(t, 5)

	worker := f.worker(func(context.Context, outbox.Event) error {
		return retrylearn.Categorize(retrylearn.CategoryQuota, errors.New("429"))
	})

	ctx := context.Background()
	_, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	f.clock.Advance(90 * time.Minute)
	_, err = worker.ProcessOnce(ctx)
	require.NoError(t, err)

	stats, err := f.log.BucketStats(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, retrylearn.CategoryQuota, stats[0].Category)
	assert.Equal(t, 0, stats[0].Successes)
}

func TestNonRetryableCategoryStillUsesAttempts(t *testing.T) {
	f := newFixture(t)
	id := f.publish(t, 5)

	worker := f.worker(func(context.Context, outbox.Event) error {
		return retrylearn.Categorize(retrylearn.CategoryAuth, errors.New("401 unauthorized"))
	})

	result, err := worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)
	assert.Zero(t, result.Failed)

	event, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusPending, event.Status)
	assert.Equal(t, 1, event.Attempts)
	assert.Equal(t, "[AUTH] 401 unauthorized", event.LastError)
}
