package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BatchResult summarizes one poll of the outbox.
type BatchResult struct {
	Listed    int
	Claimed   int
	Skipped   int
	Completed int
	Retried   int
	Failed    int
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeStale
)

// Worker polls the Store for due events, claims them one at a time and
// invokes the Handler for each event it wins.
type Worker struct {
	store   Store
	handler Handler
	cfg     WorkerConfig

	statsMu sync.Mutex
	statsAt time.Time
}

// NewWorker constructs a Worker with defaults and optional settings.
func NewWorker(store Store, handler Handler, opts ...WorkerOption) *Worker {
	if store == nil {
		panic("outbox: nil Store")
	}
	if handler == nil {
		panic("outbox: nil Handler")
	}

	var cfg WorkerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Worker{
		store:   store,
		handler: handler,
		cfg:     cfg,
	}
}

// Run starts the polling loop with the configured number of goroutines.
// It returns when ctx is canceled or a goroutine hits a store error.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, w.cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
					w.cfg.Logger.Error("outbox worker panic", LogKeyWorker, workerID, "panic", rec)
					errCh <- err
					cancel()
				}
			}()

			if err := w.runLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.cfg.Logger.Error("outbox worker error", LogKeyWorker, workerID, LogKeyErr, err)
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// ProcessOnce lists one batch of due events and processes every event it can claim.
// Events are handled in (scheduled_at, created_at) order.
func (w *Worker) ProcessOnce(ctx context.Context) (BatchResult, error) {
	start := time.Now()
	defer func() {
		w.cfg.Metrics.ObserveBatchDuration(time.Since(start))
	}()

	var result BatchResult
	events, err := w.store.ListDue(ctx, w.cfg.Clock.Now(), w.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("outbox list due failed: %w", err)
	}
	result.Listed = len(events)
	if len(events) == 0 {
		w.maybeRecordStats(ctx)

		return result, nil
	}
	defer w.recordResult(&result)

	for i := range events {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		claimedAt := w.cfg.Clock.Now()
		claim, err := w.store.Claim(ctx, events[i].ID, claimedAt)
		if err != nil {
			return result, fmt.Errorf("outbox claim failed: %w", err)
		}
		if !claim.Acquired() {
			result.Skipped++
			w.cfg.Logger.Debug("outbox event already claimed", LogKeyEventID, events[i].ID.String())

			continue
		}
		result.Claimed++

		out, err := w.process(ctx, claim.Event, events[i], claimedAt)
		switch out {
		case outcomeCompleted:
			result.Completed++
		case outcomeRetried:
			result.Retried++
		case outcomeFailed:
			result.Failed++
		case outcomeStale:
			result.Skipped++
		}
		if err != nil {
			return result, err
		}
	}

	return result, nil
}

func (w *Worker) runLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := w.ProcessOnce(ctx)
		if err != nil {
			return err
		}
		if result.Claimed == 0 {
			if sleepErr := sleep(ctx, w.cfg.PollInterval); sleepErr != nil {
				return sleepErr
			}
		}
	}
}

// process handles a claimed event. previous is the listed row before the claim.
func (w *Worker) process(ctx context.Context, event, previous Event, claimedAt time.Time) (outcome, error) {
	ctx, span := w.cfg.Tracer.Start(ctx, "outbox.worker.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("outbox.event_id", event.ID.String()),
			attribute.String("outbox.event_type", event.EventType),
			attribute.Int("outbox.attempt", event.Attempts),
		),
	)
	defer span.End()

	start := time.Now()
	handleErr := w.invoke(ctx, event)
	w.cfg.Metrics.ObserveHandler(event.EventType, time.Since(start), handleErr)

	// The outcome must be persisted even when shutdown canceled the handler,
	// otherwise the event waits in PROCESSING for the reclaimer.
	persistCtx := ctx
	if ctx.Err() != nil {
		persistCtx = context.WithoutCancel(ctx)
	}
	w.observeAttempt(persistCtx, event, previous, claimedAt, handleErr)

	if handleErr == nil {
		err := w.store.Complete(persistCtx, event.ID, w.cfg.Clock.Now())

		return w.settle(event, outcomeCompleted, err, span)
	}

	span.RecordError(handleErr)
	span.SetStatus(codes.Error, handleErr.Error())
	if w.cfg.ErrorHandler != nil {
		w.cfg.ErrorHandler(ctx, event, handleErr)
	}

	now := w.cfg.Clock.Now()
	lastError := w.formatError(handleErr)
	if event.AttemptsExhausted() || w.cfg.FailureClassifier(ctx, event, handleErr) == FailureTerminal {
		w.cfg.Logger.Error("outbox event failed", eventArgs(event, "max_attempts", event.MaxAttempts, LogKeyErr, handleErr)...)
		err := w.store.Fail(persistCtx, event.ID, lastError, now)

		return w.settle(event, outcomeFailed, err, span)
	}

	delay := w.cfg.RetryPolicy.RetryDelay(ctx, event, handleErr)
	w.cfg.Logger.Warn("outbox event retry scheduled", eventArgs(event, "delay", delay, LogKeyErr, handleErr)...)
	err := w.store.Retry(persistCtx, event.ID, lastError, now.Add(delay), now)

	return w.settle(event, outcomeRetried, err, span)
}

func (w *Worker) observeAttempt(ctx context.Context, event, previous Event, claimedAt time.Time, handleErr error) {
	if w.cfg.AttemptObserver == nil || event.Attempts <= 1 || previous.LastError == "" {
		return
	}
	wait := claimedAt.Sub(previous.UpdatedAt)
	if wait < 0 {
		wait = 0
	}

	w.cfg.AttemptObserver(ctx, AttemptOutcome{
		Event:         event,
		PreviousError: previous.LastError,
		Wait:          wait,
		Err:           handleErr,
	})
}

func (w *Worker) formatError(err error) string {
	if w.cfg.ErrorFormatter == nil {
		return TruncateError(err)
	}

	return truncate(w.cfg.ErrorFormatter(err), MaxErrorLen)
}

func (w *Worker) settle(event Event, out outcome, err error, span trace.Span) (outcome, error) {
	if err == nil {
		return out, nil
	}
	if errors.Is(err, ErrStaleClaim) {
		w.cfg.Logger.Warn("outbox event changed while processing", eventArgs(event)...)

		return outcomeStale, nil
	}
	span.RecordError(err)

	return out, fmt.Errorf("outbox record outcome failed: %w", err)
}

func (w *Worker) invoke(ctx context.Context, event Event) (err error) {
	handleCtx := ctx
	cancel := func() {}
	if w.cfg.HandlerTimeout > 0 {
		handleCtx, cancel = context.WithTimeout(ctx, w.cfg.HandlerTimeout)
	}
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			w.cfg.Logger.Error("outbox handler panic", eventArgs(event, "panic", rec)...)
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()

	return w.handler.Handle(handleCtx, event)
}

func (w *Worker) recordResult(result *BatchResult) {
	w.cfg.Metrics.AddClaimed(result.Claimed)
	w.cfg.Metrics.AddSkipped(result.Skipped)
	w.cfg.Metrics.AddCompleted(result.Completed)
	w.cfg.Metrics.AddRetried(result.Retried)
	w.cfg.Metrics.AddFailed(result.Failed)
}

func (w *Worker) maybeRecordStats(ctx context.Context) {
	if w.cfg.StatsInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := w.cfg.Clock.Now()
	w.statsMu.Lock()
	nextAllowed := w.statsAt.Add(w.cfg.StatsInterval)
	if !w.statsAt.IsZero() && now.Before(nextAllowed) {
		w.statsMu.Unlock()

		return
	}
	w.statsAt = now
	w.statsMu.Unlock()

	stats, err := w.store.Stats(ctx, now)
	if err != nil {
		w.cfg.Logger.Warn("outbox stats failed", LogKeyErr, err)

		return
	}

	w.cfg.Metrics.SetStats(stats)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
