package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Executor is the unit of work an event is written through.
// Pass the *sql.Tx of the business write to make both commit or roll back together,
// or a *sql.DB to publish standalone.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ClaimStatus is the outcome of a claim attempt.
type ClaimStatus int

const (
	// ClaimAlreadyClaimed means another worker won the row or it is no longer PENDING.
	ClaimAlreadyClaimed ClaimStatus = iota
	// ClaimAcquired means this caller moved the event to PROCESSING.
	ClaimAcquired
)

// ClaimResult is returned by Store.Claim. A lost race is a normal result, not an error.
type ClaimResult struct {
	Status ClaimStatus
	// Event holds the claimed row after the update. Zero unless Acquired.
	Event Event
}

// Acquired reports whether the caller owns the event now.
func (r ClaimResult) Acquired() bool {
	return r.Status == ClaimAcquired
}

// Claimed builds an acquired ClaimResult.
func Claimed(event Event) ClaimResult {
	return ClaimResult{Status: ClaimAcquired, Event: event}
}

// AlreadyClaimed builds a lost-race ClaimResult.
func AlreadyClaimed() ClaimResult {
	return ClaimResult{Status: ClaimAlreadyClaimed}
}

// Stats is a backlog snapshot of the outbox.
type Stats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
	// Due counts PENDING events whose scheduled time has passed.
	Due int64
	// OldestDueAge is now minus the scheduled time of the oldest due event.
	OldestDueAge time.Duration
}

// CleanupOptions defines which terminal events Cleanup deletes.
type CleanupOptions struct {
	// Before removes events finished before this time (required).
	Before time.Time
	// Limit caps the number of rows deleted per call (0 uses the store default).
	Limit int
	// IncludeFailed removes FAILED events as well, using updated_at for the cutoff.
	IncludeFailed bool
}

// CleanupResult reports how many rows were removed.
type CleanupResult struct {
	Completed int64
	Failed    int64
}

// Store is the outbox persistence contract.
//
// Claim must be a single conditional update so that exactly one concurrent
// caller observes an affected row. Complete, Retry and Fail only apply to
// events still in PROCESSING and return ErrStaleClaim otherwise.
type Store interface {
	// Insert writes a new PENDING event through exec.
	Insert(ctx context.Context, exec Executor, event Event) error
	// ListDue returns PENDING events scheduled at or before now,
	// ordered by (scheduled_at, created_at) ascending.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Event, error)
	// Claim moves a PENDING event to PROCESSING and increments its attempts.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (ClaimResult, error)
	// Get loads an event by id or returns ErrEventNotFound.
	Get(ctx context.Context, id uuid.UUID) (Event, error)
	// Complete marks a PROCESSING event COMPLETED and clears its last error.
	Complete(ctx context.Context, id uuid.UUID, now time.Time) error
	// Retry moves a PROCESSING event back to PENDING at scheduledAt.
	Retry(ctx context.Context, id uuid.UUID, lastError string, scheduledAt, now time.Time) error
	// Fail moves a PROCESSING event to FAILED.
	Fail(ctx context.Context, id uuid.UUID, lastError string, now time.Time) error
	// ReclaimStuck resets PROCESSING events last updated before cutoff to PENDING.
	ReclaimStuck(ctx context.Context, cutoff, now time.Time, reason string) (int64, error)
	// Requeue moves a FAILED event back to PENDING with a fresh attempt budget.
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// Stats returns counts per status.
	Stats(ctx context.Context, now time.Time) (Stats, error)
	// Cleanup deletes old terminal events.
	Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error)
}
