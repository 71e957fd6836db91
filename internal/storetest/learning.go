package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/retrylearn"
	"github.com/velmie/pipeline-outbox/sourcepattern"
)

// RunObservationLog exercises the retrylearn.ObservationLog contract.
func RunObservationLog(t *testing.T, open func(t *testing.T) retrylearn.ObservationLog) {
	ctx := context.Background()

	t.Run("aggregates by category and bucket", func(t *testing.T) {
		log := open(t)
		add := func(c retrylearn.Category, bucket time.Duration, success bool, at time.Time) {
			require.NoError(t, log.Append(ctx, retrylearn.Observation{Category: c, WaitBucket: bucket, Success: success, ObservedAt: at}))
		}
		add(retrylearn.CategoryNetwork, time.Minute, true, Base)
		add(retrylearn.CategoryNetwork, time.Minute, false, Base)
		add(retrylearn.CategoryNetwork, 5*time.Minute, true, Base)
		add(retrylearn.CategoryQuota, time.Hour, true, Base)
		add(retrylearn.CategoryQuota, time.Hour, true, Base.Add(-100*24*time.Hour))

		stats, err := log.BucketStats(ctx, Base.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.ElementsMatch(t, []retrylearn.BucketStat{
			{Category: retrylearn.CategoryNetwork, Bucket: time.Minute, Samples: 2, Successes: 1},
			{Category: retrylearn.CategoryNetwork, Bucket: 5 * time.Minute, Samples: 1, Successes: 1},
			{Category: retrylearn.CategoryQuota, Bucket: time.Hour, Samples: 1, Successes: 1},
		}, stats)
	})

	t.Run("feeds the learner", func(t *testing.T) {
		log := open(t)
		learner := retrylearn.NewLearner(log, retrylearn.Config{Clock: outbox.FixedClock(Base)})
		for i := 0; i < 12; i++ {
			require.NoError(t, learner.RecordOutcome(ctx, retrylearn.CategoryTimeout, 2*time.Minute, true))
		}

		assert.Equal(t, 2*time.Minute, learner.Cooldown(ctx, retrylearn.CategoryTimeout))
		assert.True(t, retrylearn.IsInfinite(learner.Cooldown(ctx, retrylearn.CategoryAuth)))
	})
}

// RunPatternStore exercises the sourcepattern.Store contract.
func RunPatternStore(t *testing.T, open func(t *testing.T) sourcepattern.Store) {
	ctx := context.Background()

	t.Run("applies moving averages", func(t *testing.T) {
		store := open(t)
		key := sourcepattern.Key{Source: "eur-lex"}
		latency := 100 * time.Millisecond

		require.NoError(t, store.Apply(ctx, key, sourcepattern.Observation{Success: true, At: Base}, sourcepattern.Alpha))
		require.NoError(t, store.Apply(ctx, key, sourcepattern.Observation{Success: false, Latency: &latency, At: Base.Add(time.Minute)}, sourcepattern.Alpha))

		patterns, err := store.List(ctx, "eur-lex")
		require.NoError(t, err)
		require.Len(t, patterns, 1)
		p := patterns[0]
		assert.Equal(t, sourcepattern.GranularityGlobal, p.Granularity())
		assert.InDelta(t, 0.2, p.FailureRate, 1e-9)
		assert.InDelta(t, 0.8, p.SuccessRate, 1e-9)
		assert.Equal(t, 2, p.SampleSize)
		require.NotNil(t, p.AvgLatencyMs)
		assert.InDelta(t, 100.0, *p.AvgLatencyMs, 1e-9)
		assert.Equal(t, Base.Add(time.Minute), p.LastUpdated)
	})

	t.Run("concurrent applies are not lost", func(t *testing.T) {
		store := open(t)
		key := sourcepattern.KeysAt("fca", Base)[0]

		const writers = 6
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- store.Apply(ctx, key, sourcepattern.Observation{Success: true, At: Base}, sourcepattern.Alpha)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		patterns, err := store.List(ctx, "fca")
		require.NoError(t, err)
		require.Len(t, patterns, 1)
		assert.Equal(t, writers, patterns[0].SampleSize)
		require.NotNil(t, patterns[0].Day)
		assert.Equal(t, time.Monday, *patterns[0].Day)
	})

	t.Run("analyzer recommends the better slot", func(t *testing.T) {
		analyzer := sourcepattern.NewAnalyzer(open(t))
		monday9 := Base
		wednesday9 := Base.AddDate(0, 0, 2)
		for i := 0; i < 10; i++ {
			require.NoError(t, analyzer.RecordOutcomeAt(ctx, "bafin", monday9, false, nil))
			require.NoError(t, analyzer.RecordOutcomeAt(ctx, "bafin", wednesday9, true, nil))
		}

		timing, err := analyzer.OptimalTimingAt(ctx, "bafin", monday9)
		require.NoError(t, err)
		assert.False(t, timing.ShouldProceed)
		require.NotNil(t, timing.Alternative)
		assert.Equal(t, wednesday9, timing.Alternative.Next)
	})

	t.Run("purge removes sparse stale rows", func(t *testing.T) {
		store := open(t)
		old := Base.Add(-40 * 24 * time.Hour)
		require.NoError(t, store.Apply(ctx, sourcepattern.Key{Source: "sparse"}, sourcepattern.Observation{At: old}, sourcepattern.Alpha))
		for i := 0; i < 3; i++ {
			require.NoError(t, store.Apply(ctx, sourcepattern.Key{Source: "busy"}, sourcepattern.Observation{At: old}, sourcepattern.Alpha))
		}

		n, err := store.Purge(ctx, sourcepattern.MinSamples, Base.Add(-sourcepattern.DefaultStaleAfter))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
