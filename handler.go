package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler processes a single outbox event.
type Handler interface {
	// Handle processes the event and returns an error on failure.
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle implements Handler.
func (fn HandlerFunc) Handle(ctx context.Context, event Event) error {
	return fn(ctx, event)
}

// HandlerRegistry maps event types to handlers. It is safe for concurrent use.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register binds handler to eventType, replacing any previous binding.
func (r *HandlerRegistry) Register(eventType string, handler Handler) {
	if eventType == "" {
		panic("outbox: empty event type")
	}
	if handler == nil {
		panic("outbox: nil Handler")
	}

	r.mu.Lock()
	r.handlers[eventType] = handler
	r.mu.Unlock()
}

// RegisterFunc binds fn to eventType.
func (r *HandlerRegistry) RegisterFunc(eventType string, fn func(ctx context.Context, event Event) error) {
	r.Register(eventType, HandlerFunc(fn))
}

// Lookup returns the handler bound to eventType.
func (r *HandlerRegistry) Lookup(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[eventType]

	return handler, ok
}

// EventTypes lists the registered event types in sorted order.
func (r *HandlerRegistry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		types = append(types, eventType)
	}
	sort.Strings(types)

	return types
}

// Handle dispatches event to its registered handler.
// A missing handler is reported as ErrHandlerNotRegistered so the event follows the retry path.
func (r *HandlerRegistry) Handle(ctx context.Context, event Event) error {
	handler, ok := r.Lookup(event.EventType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotRegistered, event.EventType)
	}

	return handler.Handle(ctx, event)
}
