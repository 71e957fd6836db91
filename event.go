package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxAttempts is the attempt budget of an event published without WithMaxAttempts.
	DefaultMaxAttempts = 5
	// MaxErrorLen caps the persisted LastError text, in runes.
	MaxErrorLen = 1024
)

// Event is a unit of deferred work stored in the outbox.
type Event struct {
	ID        uuid.UUID
	EventType string
	// Payload is opaque to the outbox. Handlers decode it.
	Payload     json.RawMessage
	Status      Status
	Attempts    int
	MaxAttempts int
	ScheduledAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
	// LastError is empty when the event has no recorded failure.
	LastError string
}

// Validate checks the fields a store requires before insert.
func (e Event) Validate() error {
	if e.ID == uuid.Nil {
		return ErrIDRequired
	}
	if e.EventType == "" {
		return ErrEventTypeRequired
	}
	if len(e.Payload) == 0 {
		return ErrPayloadRequired
	}
	if !json.Valid(e.Payload) {
		return ErrInvalidPayload
	}
	if e.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if !e.Status.Valid() {
		return ErrInvalidStatus
	}

	return nil
}

// AttemptsExhausted reports whether a failure now must move the event to FAILED.
func (e Event) AttemptsExhausted() bool {
	return e.Attempts >= e.MaxAttempts
}

// TruncateError renders err for the LastError column.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}

	return truncate(err.Error(), MaxErrorLen)
}

func truncate(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	runes := []rune(msg)
	if len(runes) <= limit {
		return msg
	}

	return string(runes[:limit])
}
