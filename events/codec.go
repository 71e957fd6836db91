package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/velmie/pipeline-outbox"
)

var (
	// ErrTypeMismatch is returned when an event is decoded into the wrong payload type.
	ErrTypeMismatch = errors.New("events: payload type mismatch")
	// ErrNilPayload is returned when a nil payload is encoded.
	ErrNilPayload = errors.New("events: payload is nil")
)

// Encode marshals p for the outbox.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, ErrNilPayload
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", p.EventType(), err)
	}

	return data, nil
}

// Decode unmarshals the payload of event into T after checking the event type.
func Decode[T Payload](event outbox.Event) (T, error) {
	var out T
	if want := out.EventType(); Type(event.EventType) != want {
		return out, fmt.Errorf("%w: event is %s, want %s", ErrTypeMismatch, event.EventType, want)
	}
	if err := json.Unmarshal(event.Payload, &out); err != nil {
		return out, fmt.Errorf("events: decode %s: %w", event.EventType, err)
	}

	return out, nil
}

// Handle adapts a typed function to an outbox handler.
// Payloads that fail to decode are reported as permanent failures.
func Handle[T Payload](fn func(ctx context.Context, payload T, event outbox.Event) error) outbox.Handler {
	return outbox.HandlerFunc(func(ctx context.Context, event outbox.Event) error {
		payload, err := Decode[T](event)
		if err != nil {
			return outbox.Permanent(err)
		}

		return fn(ctx, payload, event)
	})
}

// Register binds a typed handler for T's event type.
func Register[T Payload](registry *outbox.HandlerRegistry, fn func(ctx context.Context, payload T, event outbox.Event) error) {
	var zero T
	registry.Register(zero.EventType().String(), Handle(fn))
}

// Publish encodes p and publishes it under its own event type.
func Publish(
	ctx context.Context,
	publisher *outbox.Publisher,
	exec outbox.Executor,
	p Payload,
	opts ...outbox.PublishOption,
) (uuid.UUID, error) {
	data, err := Encode(p)
	if err != nil {
		return uuid.Nil, err
	}

	return publisher.Publish(ctx, exec, p.EventType().String(), data, opts...)
}

// SourceOf returns the source slug carried by job and scrape payloads.
func SourceOf(event outbox.Event) (string, bool) {
	switch Type(event.EventType) {
	case ArticleJobCreated, ArticleExtractionRequested, RegulationScrapeRequested:
	default:
		return "", false
	}

	var body struct {
		SourceSlug string `json:"source_slug"`
	}
	if err := json.Unmarshal(event.Payload, &body); err != nil || body.SourceSlug == "" {
		return "", false
	}

	return body.SourceSlug, true
}
