package outbox

// Logger provides structured logging hooks. Args are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Common log keys shared by the outbox components.
const (
	LogKeyEventID   = "event_id"
	LogKeyEventType = "event_type"
	LogKeyAttempt   = "attempt"
	LogKeyWorker    = "worker"
	LogKeyErr       = "err"
)

// NopLogger discards everything.
type NopLogger struct{}

// Debug implements Logger.
func (NopLogger) Debug(string, ...any) {}

// Info implements Logger.
func (NopLogger) Info(string, ...any) {}

// Warn implements Logger.
func (NopLogger) Warn(string, ...any) {}

// Error implements Logger.
func (NopLogger) Error(string, ...any) {}

func eventArgs(event Event, args ...any) []any {
	out := make([]any, 0, len(args)+6)
	out = append(out,
		LogKeyEventID, event.ID.String(),
		LogKeyEventType, event.EventType,
		LogKeyAttempt, event.Attempts,
	)

	return append(out, args...)
}
