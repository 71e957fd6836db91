package outbox

import (
	"context"
	"errors"
	"time"
)

// FailureAction defines how a failed event should be handled.
type FailureAction int

const (
	// FailureRetry reschedules the event until its attempts are exhausted.
	FailureRetry FailureAction = iota
	// FailureTerminal moves the event to FAILED regardless of remaining attempts.
	FailureTerminal
)

// FailureClassifier decides whether a failure may be retried.
type FailureClassifier func(ctx context.Context, event Event, err error) FailureAction

// FailureHandler is called after a handler returns an error, before the outcome is persisted.
type FailureHandler func(ctx context.Context, event Event, err error)

// ErrorFormatter renders a handler failure for Event.LastError.
// The worker truncates the result to MaxErrorLen.
type ErrorFormatter func(err error) string

// AttemptOutcome describes an attempt on an event that failed before.
type AttemptOutcome struct {
	// Event is the claimed event. Attempts counts the current attempt.
	Event Event
	// PreviousError is the LastError persisted by the previous attempt.
	PreviousError string
	// Wait is the time between the previous failure and this claim.
	Wait time.Duration
	// Err is the handler result of this attempt, nil on success.
	Err error
}

// AttemptObserver is called after a retried attempt returns, before its outcome is persisted.
type AttemptObserver func(ctx context.Context, outcome AttemptOutcome)

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The default classifier moves
// the event straight to FAILED when a handler returns such an error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var perm permanentError

	return errors.As(err, &perm)
}

func defaultFailureClassifier(_ context.Context, _ Event, err error) FailureAction {
	if IsPermanent(err) {
		return FailureTerminal
	}

	return FailureRetry
}
