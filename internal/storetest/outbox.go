// Package storetest is the conformance suite every SQL backend runs.
package storetest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/pipeline-outbox"
)

// Base is the reference time of every scenario. It is millisecond aligned.
var Base = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

// OpenOutbox returns an empty store and the database it writes to.
type OpenOutbox func(t *testing.T) (outbox.Store, *sql.DB)

func publish(t *testing.T, store outbox.Store, exec outbox.Executor, at time.Time, eventType string, opts ...outbox.PublishOption) uuid.UUID {
	t.Helper()
	p := outbox.NewPublisher(store, outbox.PublisherConfig{Clock: outbox.FixedClock(at)})
	id, err := p.Publish(context.Background(), exec, eventType, json.RawMessage(`{"job_id":"j-1","n":1}`), opts...)
	require.NoError(t, err)

	return id
}

func claim(t *testing.T, store outbox.Store, id uuid.UUID, at time.Time) outbox.Event {
	t.Helper()
	res, err := store.Claim(context.Background(), id, at)
	require.NoError(t, err)
	require.True(t, res.Acquired())

	return res.Event
}

// RunOutbox exercises the outbox.Store contract.
func RunOutbox(t *testing.T, open OpenOutbox) {
	ctx := context.Background()

	t.Run("insert and get", func(t *testing.T) {
		store, db := open(t)
		id := publish(t, store, db, Base, "article.job.created", outbox.WithMaxAttempts(3), outbox.WithDelay(time.Minute))

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "article.job.created", got.EventType)
		assert.JSONEq(t, `{"job_id":"j-1","n":1}`, string(got.Payload))
		assert.Equal(t, outbox.StatusPending, got.Status)
		assert.Equal(t, 0, got.Attempts)
		assert.Equal(t, 3, got.MaxAttempts)
		assert.Equal(t, Base.Add(time.Minute), got.ScheduledAt)
		assert.Equal(t, Base, got.CreatedAt)
		assert.Nil(t, got.ProcessedAt)
		assert.Empty(t, got.LastError)

		_, err = store.Get(ctx, uuid.Must(uuid.NewV7()))
		assert.ErrorIs(t, err, outbox.ErrEventNotFound)
	})

	t.Run("insert follows the caller transaction", func(t *testing.T) {
		store, db := open(t)

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		rolledBack := publish(t, store, tx, Base, "webhook.received")
		require.NoError(t, tx.Rollback())

		tx, err = db.BeginTx(ctx, nil)
		require.NoError(t, err)
		committed := publish(t, store, tx, Base, "webhook.received")
		require.NoError(t, tx.Commit())

		_, err = store.Get(ctx, rolledBack)
		assert.ErrorIs(t, err, outbox.ErrEventNotFound)
		_, err = store.Get(ctx, committed)
		assert.NoError(t, err)
	})

	t.Run("list due orders by schedule then creation", func(t *testing.T) {
		store, db := open(t)
		later := publish(t, store, db, Base, "a", outbox.WithDelay(2*time.Minute))
		second := publish(t, store, db, Base.Add(time.Second), "b")
		first := publish(t, store, db, Base, "c", outbox.WithDelay(time.Second))
		future := publish(t, store, db, Base, "d", outbox.WithDelay(time.Hour))

		due, err := store.ListDue(ctx, Base.Add(5*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 3)
		assert.Equal(t, []uuid.UUID{first, second, later}, []uuid.UUID{due[0].ID, due[1].ID, due[2].ID})
		for _, e := range due {
			assert.NotEqual(t, future, e.ID)
		}

		due, err = store.ListDue(ctx, Base.Add(5*time.Minute), 2)
		require.NoError(t, err)
		assert.Len(t, due, 2)

		_, err = store.ListDue(ctx, Base, 0)
		assert.ErrorIs(t, err, outbox.ErrInvalidBatchSize)
	})

	t.Run("claim is exclusive", func(t *testing.T) {
		store, db := open(t)
		id := publish(t, store, db, Base, "article.job.completed")

		const contenders = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			acquired int
			errs     []error
		)
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := store.Claim(ctx, id, Base)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)

					return
				}
				if res.Acquired() {
					acquired++
				}
			}()
		}
		wg.Wait()

		require.Empty(t, errs)
		assert.Equal(t, 1, acquired)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusProcessing, got.Status)
		assert.Equal(t, 1, got.Attempts)
	})

	t.Run("outcomes require processing", func(t *testing.T) {
		store, db := open(t)
		done := publish(t, store, db, Base, "a")
		retried := publish(t, store, db, Base, "b")
		failed := publish(t, store, db, Base, "c")

		assert.ErrorIs(t, store.Complete(ctx, done, Base), outbox.ErrStaleClaim)

		claim(t, store, done, Base)
		require.NoError(t, store.Complete(ctx, done, Base.Add(time.Second)))
		assert.ErrorIs(t, store.Complete(ctx, done, Base.Add(time.Second)), outbox.ErrStaleClaim)
		got, err := store.Get(ctx, done)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusCompleted, got.Status)
		require.NotNil(t, got.ProcessedAt)
		assert.Equal(t, Base.Add(time.Second), *got.ProcessedAt)

		claim(t, store, retried, Base)
		require.NoError(t, store.Retry(ctx, retried, "timeout", Base.Add(time.Minute), Base.Add(time.Second)))
		got, err = store.Get(ctx, retried)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusPending, got.Status)
		assert.Equal(t, "timeout", got.LastError)
		assert.Equal(t, Base.Add(time.Minute), got.ScheduledAt)
		assert.Equal(t, 1, got.Attempts)

		claim(t, store, failed, Base)
		require.NoError(t, store.Fail(ctx, failed, "auth rejected", Base.Add(time.Second)))
		assert.ErrorIs(t, store.Retry(ctx, failed, "late", Base, Base), outbox.ErrStaleClaim)
		got, err = store.Get(ctx, failed)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusFailed, got.Status)
		assert.Equal(t, "auth rejected", got.LastError)
	})

	t.Run("reclaim only touches stuck events", func(t *testing.T) {
		store, db := open(t)
		stuck := publish(t, store, db, Base, "a")
		fresh := publish(t, store, db, Base, "b")
		claim(t, store, stuck, Base)
		claim(t, store, fresh, Base.Add(40*time.Minute))

		now := Base.Add(45 * time.Minute)
		n, err := store.ReclaimStuck(ctx, now.Add(-30*time.Minute), now, "reclaimed")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := store.Get(ctx, stuck)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusPending, got.Status)
		assert.Equal(t, "reclaimed", got.LastError)
		assert.Equal(t, 1, got.Attempts)

		got, err = store.Get(ctx, fresh)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusProcessing, got.Status)
	})

	t.Run("requeue resets failed events", func(t *testing.T) {
		store, db := open(t)
		id := publish(t, store, db, Base, "a")
		claim(t, store, id, Base)

		ok, err := store.Requeue(ctx, id, Base)
		require.NoError(t, err)
		assert.False(t, ok, "processing events are not requeued")

		require.NoError(t, store.Fail(ctx, id, "boom", Base))
		ok, err = store.Requeue(ctx, id, Base.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusPending, got.Status)
		assert.Equal(t, 0, got.Attempts)
		assert.Equal(t, Base.Add(time.Hour), got.ScheduledAt)
	})

	t.Run("stats", func(t *testing.T) {
		store, db := open(t)
		publish(t, store, db, Base, "a")
		publish(t, store, db, Base.Add(time.Minute), "a")
		publish(t, store, db, Base, "a", outbox.WithDelay(time.Hour))
		processing := publish(t, store, db, Base, "b")
		claim(t, store, processing, Base)

		stats, err := store.Stats(ctx, Base.Add(10*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Pending)
		assert.Equal(t, int64(1), stats.Processing)
		assert.Equal(t, int64(2), stats.Due)
		assert.Equal(t, 10*time.Minute, stats.OldestDueAge)

		empty, _ := open(t)
		stats, err = empty.Stats(ctx, Base)
		require.NoError(t, err)
		assert.Equal(t, outbox.Stats{}, stats)
	})

	t.Run("cleanup", func(t *testing.T) {
		store, db := open(t)
		var completed []uuid.UUID
		for i := 0; i < 3; i++ {
			id := publish(t, store, db, Base, "a")
			claim(t, store, id, Base)
			require.NoError(t, store.Complete(ctx, id, Base.Add(time.Minute)))
			completed = append(completed, id)
		}
		failed := publish(t, store, db, Base, "b")
		claim(t, store, failed, Base)
		require.NoError(t, store.Fail(ctx, failed, "boom", Base.Add(time.Minute)))
		recent := publish(t, store, db, Base, "c")
		claim(t, store, recent, Base)
		require.NoError(t, store.Complete(ctx, recent, Base.Add(48*time.Hour)))

		_, err := store.Cleanup(ctx, outbox.CleanupOptions{})
		assert.ErrorIs(t, err, outbox.ErrCleanupBeforeRequired)
		_, err = store.Cleanup(ctx, outbox.CleanupOptions{Before: Base, Limit: -1})
		assert.ErrorIs(t, err, outbox.ErrCleanupLimitInvalid)

		before := Base.Add(24 * time.Hour)
		res, err := store.Cleanup(ctx, outbox.CleanupOptions{Before: before, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, outbox.CleanupResult{Completed: 2}, res)

		res, err = store.Cleanup(ctx, outbox.CleanupOptions{Before: before})
		require.NoError(t, err)
		assert.Equal(t, outbox.CleanupResult{Completed: 1}, res, "failed events survive without IncludeFailed")

		res, err = store.Cleanup(ctx, outbox.CleanupOptions{Before: before, IncludeFailed: true})
		require.NoError(t, err)
		assert.Equal(t, outbox.CleanupResult{Failed: 1}, res)

		for _, id := range append(completed, failed) {
			_, err := store.Get(ctx, id)
			assert.ErrorIs(t, err, outbox.ErrEventNotFound)
		}
		_, err = store.Get(ctx, recent)
		assert.NoError(t, err)
	})

	t.Run("worker drives events to completion", func(t *testing.T) {
		store, db := open(t)
		flaky := publish(t, store, db, Base, "flaky")
		broken := publish(t, store, db, Base, "broken", outbox.WithMaxAttempts(2))

		calls := map[uuid.UUID]int{}
		registry := outbox.NewHandlerRegistry()
		registry.RegisterFunc("flaky", func(_ context.Context, e outbox.Event) error {
			calls[e.ID]++
			if calls[e.ID] == 1 {
				return errors.New("upstream 503")
			}

			return nil
		})
		registry.RegisterFunc("broken", func(context.Context, outbox.Event) error {
			return errors.New("always fails")
		})

		now := Base
		worker := outbox.NewWorker(store, registry,
			outbox.WithClock(outbox.ClockFunc(func() time.Time { return now })),
			outbox.WithRetryPolicy(outbox.Backoff{Base: time.Minute, Cap: time.Hour}),
		)

		for i := 0; i < 3; i++ {
			_, err := worker.ProcessOnce(ctx)
			require.NoError(t, err)
			now = now.Add(2 * time.Minute)
		}

		got, err := store.Get(ctx, flaky)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusCompleted, got.Status)
		assert.Equal(t, 2, got.Attempts)

		got, err = store.Get(ctx, broken)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusFailed, got.Status)
		assert.Equal(t, 2, got.Attempts)
		assert.Equal(t, "always fails", got.LastError)
	})
}
