package outbox

import "errors"

var (
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("outbox batch size must be positive")
	// ErrIDRequired is returned when an event has no id.
	ErrIDRequired = errors.New("outbox event id is required")
	// ErrEventTypeRequired is returned when Event.EventType is empty.
	ErrEventTypeRequired = errors.New("outbox event type is required")
	// ErrPayloadRequired is returned when Event.Payload is empty.
	ErrPayloadRequired = errors.New("outbox payload is required")
	// ErrInvalidPayload is returned when Event.Payload is not valid JSON.
	ErrInvalidPayload = errors.New("outbox payload must be valid JSON")
	// ErrInvalidMaxAttempts is returned when the attempt budget is not positive.
	ErrInvalidMaxAttempts = errors.New("outbox max attempts must be positive")
	// ErrInvalidDelay is returned when a publish delay is negative.
	ErrInvalidDelay = errors.New("outbox delay must be non-negative")
	// ErrInvalidStatus is returned for an unknown event status.
	ErrInvalidStatus = errors.New("outbox event status is invalid")
	// ErrExecutorRequired is returned when publish is called with a nil executor.
	ErrExecutorRequired = errors.New("outbox executor is required")
	// ErrEventNotFound is returned when an event id does not exist.
	ErrEventNotFound = errors.New("outbox event not found")
	// ErrStaleClaim is returned when an outcome is recorded for an event
	// that is no longer PROCESSING, usually because the reclaimer reset it.
	ErrStaleClaim = errors.New("outbox event is no longer processing")
	// ErrHandlerNotRegistered is recorded as the failure of an event whose type has no handler.
	ErrHandlerNotRegistered = errors.New("outbox handler not registered")
	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("outbox handler panic")
	// ErrWorkerPanic indicates a worker goroutine panic.
	ErrWorkerPanic = errors.New("outbox worker panic")
	// ErrCleanupBeforeRequired is returned when cleanup cutoff is missing.
	ErrCleanupBeforeRequired = errors.New("outbox cleanup before time is required")
	// ErrCleanupLimitInvalid is returned when cleanup limit is negative.
	ErrCleanupLimitInvalid = errors.New("outbox cleanup limit must be non-negative")
	// ErrCleanupRetentionInvalid is returned when cleanup retention is not positive.
	ErrCleanupRetentionInvalid = errors.New("outbox cleanup retention must be positive")
)
