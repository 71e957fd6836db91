package outbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var baseTime = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureMetrics struct {
	NopMetrics
	mu         sync.Mutex
	stats      []Stats
	handlerErr int
}

func (m *captureMetrics) SetStats(stats Stats) {
	m.mu.Lock()
	m.stats = append(m.stats, stats)
	m.mu.Unlock()
}

func (m *captureMetrics) ObserveHandler(_ string, _ time.Duration, err error) {
	if err != nil {
		m.mu.Lock()
		m.handlerErr++
		m.mu.Unlock()
	}
}

func fixedBackoff() Backoff {
	return Backoff{Base: 10 * time.Second, Cap: 300 * time.Second, Jitter: 0.1, Rand: func() float64 { return 0.5 }}
}

func TestWorkerProcessOnceCompletes(t *testing.T) {
	store := newMemStore()
	event := pendingEvent("article.job.created", baseTime)
	store.put(event)
	clock := &stepClock{now: baseTime}

	var seen Event
	worker := NewWorker(store, HandlerFunc(func(_ context.Context, e Event) error {
		seen = e
		return nil
	}), WithClock(clock))

	result, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if result.Claimed != 1 || result.Completed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if seen.Status != StatusProcessing || seen.Attempts != 1 {
		t.Fatalf("handler should see the claimed row, got status=%s attempts=%d", seen.Status, seen.Attempts)
	}

	stored := store.get(event.ID)
	if stored.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", stored.Status)
	}
	if stored.ProcessedAt == nil || !stored.ProcessedAt.Equal(baseTime) {
		t.Fatalf("expected processed at %v, got %v", baseTime, stored.ProcessedAt)
	}
	if stored.LastError != "" {
		t.Fatalf("expected last error cleared, got %q", stored.LastError)
	}
}

func TestWorkerRetrySchedulesBackoff(t *testing.T) {
	store := newMemStore()
	event := pendingEvent("webhook.received", baseTime)
	store.put(event)
	clock := &stepClock{now: baseTime}

	worker := NewWorker(store, HandlerFunc(func(context.Context, Event) error {
		return errors.New("upstream 503")
	}), WithClock(clock), WithRetryPolicy(fixedBackoff()))

	result, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if result.Retried != 1 {
		t.Fatalf("expected 1 retry, got %+v", result)
	}

	stored := store.get(event.ID)
	if stored.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", stored.Status)
	}
	if stored.LastError != "upstream 503" {
		t.Fatalf("unexpected last error %q", stored.LastError)
	}
	want := baseTime.Add(10*time.Second + 500*time.Millisecond)
	if !stored.ScheduledAt.Equal(want) {
		t.Fatalf("expected scheduled at %v, got %v", want, stored.ScheduledAt)
	}
}

func TestWorkerTerminalConvergence(t *testing.T) {
	store := newMemStore()
	event := pendingEvent("regulation.scrape_requested", baseTime)
	event.MaxAttempts = 3
	store.put(event)
	clock := &stepClock{now: baseTime}

	var calls int
	worker := NewWorker(store, HandlerFunc(func(context.Context, Event) error {
		calls++
		return errors.New("parse error")
	}), WithClock(clock), WithRetryPolicy(fixedBackoff()))

	for i := 0; i < 3; i++ {
		if _, err := worker.ProcessOnce(context.Background()); err != nil {
			t.Fatalf("process once: %v", err)
		}
		clock.Advance(time.Hour)
	}

	final := store.get(event.ID)
	if final.Status != StatusFailed {
		t.Fatalf("expected FAILED after %d attempts, got %s", calls, final.Status)
	}
	if final.Attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 attempts and calls, got attempts=%d calls=%d", final.Attempts, calls)
	}

	for i := 0; i < 3; i++ {
		clock.Advance(time.Hour)
		result, err := worker.ProcessOnce(context.Background())
		if err != nil {
			t.Fatalf("process once: %v", err)
		}
		if result.Listed != 0 {
			t.Fatalf("failed event must not be listed again")
		}
	}
	after := store.get(event.ID)
	if after.Status != final.Status || !after.ScheduledAt.Equal(final.ScheduledAt) || after.Attempts != final.Attempts {
		t.Fatalf("failed event changed: before=%+v after=%+v", final, after)
	}
}

func TestWorkerSkipsAlreadyClaimed(t *testing.T) {
	store := newMemStore()
	event := pendingEvent("article.job.completed", baseTime)
	store.put(event)
	store.beforeClaim = func(id uuid.UUID) {
		e := store.get(id)
		e.Status = StatusProcessing
		e.Attempts++
		store.put(e)
	}

	var calls int
	worker := NewWorker(store, HandlerFunc(func(context.Context, Event) error {
		calls++
		return nil
	}), WithClock(FixedClock(baseTime)))

	result, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("lost claim must not be an error: %v", err)
	}
	if result.Skipped != 1 || result.Claimed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if calls != 0 {
		t.Fatalf("handler must not run for an event claimed elsewhere")
	}
	if got := store.get(event.ID).Attempts; got != 1 {
		t.Fatalf("expected only the winner's attempt, got %d", got)
	}
}

func TestWorkerMissingHandlerFollowsRetryPath(t *testing.T) {
	store := newMemStore()
	event := pendingEvent("system.status_refresh", baseTime)
	store.put(event)

	worker := NewWorker(store, NewHandlerRegistry(), WithClock(FixedClock(baseTime)))
	result, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if result.Retried != 1 {
		t.Fatalf("expected retry, got %+v", result)
	}
	stored := store.get(event.ID)
	if !strings.Contains(stored.LastError, "handler not registered") {
		t.Fatalf("unexpected last error %q", stored.LastError)
	}
}

func TestWorkerHandlerPanicIsFailure(t *testing.T) {
	store := newMemStore()
	event := pendingEvent("webhook.received", baseTime)
	store.put(event)
	metrics := &captureMetrics{}

	worker := NewWorker(store, HandlerFunc(func(context.Context, Event) error {
		panic("nil map")
	}), WithClock(FixedClock(baseTime)), WithMetrics(metrics))

	if _, err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	stored := store.get(event.ID)
	if stored.Status != StatusPending || !strings.Contains(stored.LastError, "nil map") {
		t.Fatalf("expected retry with panic text, got %s %q", stored.Status, stored.LastError)
	}
	if metrics.handlerErr != 1 {
		t.Fatalf("expected handler error metric")
	}
}

func TestWorkerPermanentErrorFailsImmediately(t *testing.T) {
	store := newMemStore()
	event := pendingEvent("notification.email_requested", baseTime)
	store.put(event)

	var failures int
	worker := NewWorker(store, HandlerFunc(func(context.Context, Event) error {
		return Permanent(errors.New("recipient rejected"))
	}), WithClock(FixedClock(baseTime)), WithErrorHandler(func(context.Context, Event, error) {
		failures++
	}))

	result, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if result.Failed != 1 || failures != 1 {
		t.Fatalf("expected immediate failure, got %+v calls=%d", result, failures)
	}
	if got := store.get(event.ID); got.Status != StatusFailed || got.Attempts != 1 {
		t.Fatalf("unexpected stored event %+v", got)
	}
}

func TestWorkerStaleClaimIsNotAnError(t *testing.T) {
	store := newMemStore()
	event := pendingEvent("article.job.created", baseTime)
	store.put(event)

	worker := NewWorker(store, HandlerFunc(func(_ context.Context, e Event) error {
		e.Status = StatusPending
		store.put(e)
		return nil
	}), WithClock(FixedClock(baseTime)))

	result, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("stale claim must not stop the worker: %v", err)
	}
	if result.Claimed != 1 || result.Skipped != 1 || result.Completed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestWorkerStoreErrorIsReturned(t *testing.T) {
	store := newMemStore()
	store.put(pendingEvent("article.job.created", baseTime))
	store.completeErr = errors.New("connection reset")

	worker := NewWorker(store, HandlerFunc(func(context.Context, Event) error { return nil }), WithClock(FixedClock(baseTime)))
	_, err := worker.ProcessOnce(context.Background())
	if err == nil || !errors.Is(err, store.completeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestWorkerProcessesInScheduleOrder(t *testing.T) {
	store := newMemStore()
	late := pendingEvent("b", baseTime.Add(-time.Minute))
	early := pendingEvent("a", baseTime.Add(-time.Hour))
	future := pendingEvent("c", baseTime.Add(time.Hour))
	store.put(late)
	store.put(early)
	store.put(future)

	var order []string
	worker := NewWorker(store, HandlerFunc(func(_ context.Context, e Event) error {
		order = append(order, e.EventType)
		return nil
	}), WithClock(FixedClock(baseTime)))

	if _, err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if strings.Join(order, ",") != "a,b" {
		t.Fatalf("unexpected order %v", order)
	}
	if store.get(future.ID).Status != StatusPending {
		t.Fatalf("future event must stay pending")
	}
}

func TestWorkerCanceledHandlerOutcomeIsPersisted(t *testing.T) {
	store := newMemStore()
	event := pendingEvent("article.job.created", baseTime)
	store.put(event)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker := NewWorker(store, HandlerFunc(func(hctx context.Context, _ Event) error {
		cancel()
		return hctx.Err()
	}), WithClock(FixedClock(baseTime)))

	if _, err := worker.ProcessOnce(ctx); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if got := store.get(event.ID).Status; got != StatusPending {
		t.Fatalf("expected PENDING after canceled handler, got %s", got)
	}
}

func TestWorkerHandlerTimeoutApplied(t *testing.T) {
	store := newMemStore()
	store.put(pendingEvent("article.job.created", baseTime))

	var hasDeadline bool
	worker := NewWorker(store, HandlerFunc(func(ctx context.Context, _ Event) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	}), WithClock(FixedClock(baseTime)), WithHandlerTimeout(time.Second))

	if _, err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if !hasDeadline {
		t.Fatalf("expected handler deadline")
	}
}

func TestWorkerRecordsStatsWhenIdle(t *testing.T) {
	store := newMemStore()
	metrics := &captureMetrics{}
	clock := &stepClock{now: baseTime}
	worker := NewWorker(store, HandlerFunc(func(context.Context, Event) error { return nil }),
		WithClock(clock), WithMetrics(metrics), WithStatsInterval(time.Minute))

	for i := 0; i < 3; i++ {
		if _, err := worker.ProcessOnce(context.Background()); err != nil {
			t.Fatalf("process once: %v", err)
		}
	}
	clock.Advance(2 * time.Minute)
	if _, err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(metrics.stats) != 2 {
		t.Fatalf("expected 2 stats samples, got %d", len(metrics.stats))
	}
}

func TestWorkerTracesFailures(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	store := newMemStore()
	store.put(pendingEvent("webhook.received", baseTime))

	worker := NewWorker(store, HandlerFunc(func(context.Context, Event) error {
		return errors.New("boom")
	}), WithClock(FixedClock(baseTime)), WithTracer(provider.Tracer("test")))

	if _, err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "outbox.worker.process" || spans[0].Status().Code != codes.Error {
		t.Fatalf("unexpected span %s %v", spans[0].Name(), spans[0].Status())
	}
}

func TestWorkerRunHandlesEachEventOnce(t *testing.T) {
	const total = 50
	store := newMemStore()
	for i := 0; i < total; i++ {
		store.put(pendingEvent("article.job.created", baseTime.Add(-time.Duration(i)*time.Second)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	counts := make(map[uuid.UUID]int)
	var done atomic.Int32
	worker := NewWorker(store, HandlerFunc(func(_ context.Context, e Event) error {
		mu.Lock()
		counts[e.ID]++
		mu.Unlock()
		if done.Add(1) == total {
			cancel()
		}
		return nil
	}), WithClock(FixedClock(baseTime)), WithWorkers(4), WithBatchSize(10), WithPollInterval(time.Millisecond))

	if err := worker.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(counts) != total {
		t.Fatalf("expected %d handled events, got %d", total, len(counts))
	}
	for id, n := range counts {
		if n != 1 {
			t.Fatalf("event %s handled %d times", id, n)
		}
	}
}

func TestWorkerRunReturnsListError(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("db down")
	worker := NewWorker(store, HandlerFunc(func(context.Context, Event) error { return nil }))

	err := worker.Run(context.Background())
	if err == nil || !errors.Is(err, store.listErr) {
		t.Fatalf("expected list error, got %v", err)
	}
}

func TestWorkerObservesRetriedAttempt(t *testing.T) {
	store := newMemStore()
	event := pendingEvent("source.fetch_requested", baseTime)
	store.put(event)
	clock := &stepClock{now: baseTime}

	var calls int
	var outcomes []AttemptOutcome
	worker := NewWorker(store, HandlerFunc(func(context.Context, Event) error {
		calls++
		if calls == 1 {
			return errors.New("connection refused")
		}
		return nil
	}), WithClock(clock), WithRetryPolicy(fixedBackoff()),
		WithErrorFormatter(func(err error) string { return "NETWORK: " + err.Error() }),
		WithAttemptObserver(func(_ context.Context, outcome AttemptOutcome) {
			outcomes = append(outcomes, outcome)
		}))

	if _, err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("first attempt must not be observed, got %+v", outcomes)
	}
	if got := store.get(event.ID).LastError; got != "NETWORK: connection refused" {
		t.Fatalf("unexpected last error %q", got)
	}

	clock.Advance(time.Hour)
	result, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if result.Completed != 1 {
		t.Fatalf("expected completion, got %+v", result)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected one observed attempt, got %d", len(outcomes))
	}
	got := outcomes[0]
	if got.Wait != time.Hour || got.Err != nil || got.Event.Attempts != 2 {
		t.Fatalf("unexpected outcome %+v", got)
	}
	if got.PreviousError != "NETWORK: connection refused" {
		t.Fatalf("unexpected previous error %q", got.PreviousError)
	}
}
