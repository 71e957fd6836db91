package retrylearn

import "errors"

var (
	// ErrUnknownCategory is returned for a name outside the closed category set.
	ErrUnknownCategory = errors.New("retrylearn: unknown error category")
	// ErrNegativeWait is returned when an outcome reports a negative wait.
	ErrNegativeWait = errors.New("retrylearn: wait must be non-negative")
	// ErrNoSnapshot is returned when no snapshot could be built or loaded.
	ErrNoSnapshot = errors.New("retrylearn: no learned snapshot available")
)
