package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces event ids.
type IDGenerator func() (uuid.UUID, error)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Clock stamps created_at and scheduled_at.
	Clock Clock
	// NewID defaults to uuid.NewV7 so ids sort by creation time.
	NewID IDGenerator
	// MaxAttempts is used when a publish call does not set one.
	MaxAttempts int
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.NewID == nil {
		c.NewID = uuid.NewV7
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}

	return c
}

// PublishOptions are per-call publish settings.
type PublishOptions struct {
	Delay       time.Duration
	MaxAttempts int
}

// PublishOption configures a single Publish call.
type PublishOption func(*PublishOptions)

// WithDelay postpones the earliest processing time by d.
func WithDelay(d time.Duration) PublishOption {
	return func(o *PublishOptions) {
		o.Delay = d
	}
}

// WithMaxAttempts overrides the attempt budget of the event.
func WithMaxAttempts(attempts int) PublishOption {
	return func(o *PublishOptions) {
		o.MaxAttempts = attempts
	}
}

// Publisher appends events to the outbox.
type Publisher struct {
	store Store
	cfg   PublisherConfig
}

// NewPublisher constructs a Publisher over store.
func NewPublisher(store Store, cfg PublisherConfig) *Publisher {
	if store == nil {
		panic("outbox: nil Store")
	}

	return &Publisher{store: store, cfg: cfg.withDefaults()}
}

// Publish inserts a PENDING event through exec and returns its id.
// The insert is the only side effect: when exec is a transaction, the event
// exists only if that transaction commits.
func (p *Publisher) Publish(
	ctx context.Context,
	exec Executor,
	eventType string,
	payload json.RawMessage,
	opts ...PublishOption,
) (uuid.UUID, error) {
	if exec == nil {
		return uuid.Nil, ErrExecutorRequired
	}

	options := PublishOptions{MaxAttempts: p.cfg.MaxAttempts}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Delay < 0 {
		return uuid.Nil, ErrInvalidDelay
	}

	id, err := p.cfg.NewID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox generate id failed: %w", err)
	}

	now := p.cfg.Clock.Now()
	event := Event{
		ID:          id,
		EventType:   eventType,
		Payload:     payload,
		Status:      StatusPending,
		MaxAttempts: options.MaxAttempts,
		ScheduledAt: now.Add(options.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := event.Validate(); err != nil {
		return uuid.Nil, err
	}
	if err := p.store.Insert(ctx, exec, event); err != nil {
		return uuid.Nil, err
	}

	return id, nil
}
