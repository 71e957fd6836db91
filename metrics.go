package outbox

import "time"

// Metrics captures worker and maintenance telemetry.
type Metrics interface {
	// ObserveBatchDuration records the time to process one polled batch.
	ObserveBatchDuration(duration time.Duration)
	// ObserveHandler records a single handler invocation.
	ObserveHandler(eventType string, duration time.Duration, err error)
	// AddClaimed increments the count of events won by this process.
	AddClaimed(count int)
	// AddSkipped increments the count of events another worker claimed first.
	AddSkipped(count int)
	// AddCompleted increments the count of completed events.
	AddCompleted(count int)
	// AddRetried increments the count of events rescheduled after a failure.
	AddRetried(count int)
	// AddFailed increments the count of events moved to FAILED.
	AddFailed(count int)
	// AddReclaimed increments the count of stuck events reset by the reclaimer.
	AddReclaimed(count int64)
	// SetStats publishes the latest backlog snapshot.
	SetStats(stats Stats)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// ObserveHandler implements Metrics.
func (NopMetrics) ObserveHandler(string, time.Duration, error) {}

// AddClaimed implements Metrics.
func (NopMetrics) AddClaimed(int) {}

// AddSkipped implements Metrics.
func (NopMetrics) AddSkipped(int) {}

// AddCompleted implements Metrics.
func (NopMetrics) AddCompleted(int) {}

// AddRetried implements Metrics.
func (NopMetrics) AddRetried(int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(int) {}

// AddReclaimed implements Metrics.
func (NopMetrics) AddReclaimed(int64) {}

// SetStats implements Metrics.
func (NopMetrics) SetStats(Stats) {}
