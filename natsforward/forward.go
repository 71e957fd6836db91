// Package natsforward delivers claimed outbox events to NATS subjects.
//
// Subjects are <prefix>.<event type>. Every message carries the event id in
// the Nats-Msg-Id header so JetStream can drop the duplicates that
// at-least-once delivery produces.
package natsforward

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/retrylearn"
)

// Header names set on forwarded messages.
const (
	HeaderEventType = "Outbox-Event-Type"
	HeaderAttempt   = "Outbox-Attempt"
	HeaderCreatedAt = "Outbox-Created-At"
)

// DefaultPrefix is the subject prefix when none is configured.
const DefaultPrefix = "pipeline"

// ErrPublisherRequired is returned when a nil publisher is provided.
var ErrPublisherRequired = errors.New("natsforward: publisher is required")

// Publisher is the part of *nats.Conn the forwarder uses.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Forwarder implements outbox.Handler by publishing each event to NATS.
type Forwarder struct {
	pub    Publisher
	prefix string
}

var _ outbox.Handler = (*Forwarder)(nil)

// New constructs a Forwarder. An empty prefix uses DefaultPrefix.
func New(pub Publisher, prefix string) (*Forwarder, error) {
	if pub == nil {
		return nil, ErrPublisherRequired
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Forwarder{pub: pub, prefix: prefix}, nil
}

// Subject returns the subject an event type is published to.
func (f *Forwarder) Subject(eventType string) string {
	return f.prefix + "." + eventType
}

// Handle implements outbox.Handler. Publish failures are categorized as
// network errors so the retry learner can tune their cooldown.
func (f *Forwarder) Handle(ctx context.Context, event outbox.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := nats.NewMsg(f.Subject(event.EventType))
	msg.Data = event.Payload
	msg.Header.Set(nats.MsgIdHdr, event.ID.String())
	msg.Header.Set(HeaderEventType, event.EventType)
	msg.Header.Set(HeaderAttempt, strconv.Itoa(event.Attempts))
	msg.Header.Set(HeaderCreatedAt, event.CreatedAt.UTC().Format(time.RFC3339Nano))

	if err := f.pub.PublishMsg(msg); err != nil {
		category := retrylearn.CategoryNetwork
		if errors.Is(err, nats.ErrTimeout) {
			category = retrylearn.CategoryTimeout
		}

		return retrylearn.Categorize(category, fmt.Errorf("natsforward: publish %s: %w", msg.Subject, err))
	}

	return nil
}

// Config holds the connection settings of Connect.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns a Config with reconnects enabled.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "pipeline-outbox",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect opens a NATS connection that logs disconnects and reconnects.
func Connect(cfg Config, logger outbox.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = outbox.NopLogger{}
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", outbox.LogKeyErr, err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsforward: connect: %w", err)
	}

	return conn, nil
}
