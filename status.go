package outbox

// Status represents the lifecycle state of an outbox event.
type Status string

const (
	// StatusPending indicates the event waits for its scheduled time and a worker.
	StatusPending Status = "PENDING"
	// StatusProcessing indicates a worker claimed the event and runs its handler.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted indicates the handler succeeded.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the event exhausted its attempts. It is terminal.
	StatusFailed Status = "FAILED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no worker will touch an event in this status again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the worker state machine allows s -> next.
// FAILED -> PENDING is only reachable through an explicit operator requeue.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusPending || next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}
