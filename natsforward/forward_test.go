package natsforward

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/retrylearn"
)

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakePublisher) PublishMsg(msg *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)

	return nil
}

func testEvent() outbox.Event {
	return outbox.Event{
		ID:        uuid.MustParse("0195f2a8-7c1e-7b3a-9d4e-2f6a8b0c1d2e"),
		EventType: "article.job.completed",
		Payload:   []byte(`{"job_id":"j-1"}`),
		Attempts:  2,
		CreatedAt: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestNewRequiresPublisher(t *testing.T) {
	_, err := New(nil, "x")
	assert.ErrorIs(t, err, ErrPublisherRequired)
}

func TestHandlePublishesWithDedupeHeader(t *testing.T) {
	pub := &fakePublisher{}
	f, err := New(pub, "")
	require.NoError(t, err)

	require.NoError(t, f.Handle(context.Background(), testEvent()))
	require.Len(t, pub.msgs, 1)

	msg := pub.msgs[0]
	assert.Equal(t, "pipeline.article.job.completed", msg.Subject)
	assert.JSONEq(t, `{"job_id":"j-1"}`, string(msg.Data))
	assert.Equal(t, "0195f2a8-7c1e-7b3a-9d4e-2f6a8b0c1d2e", msg.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, "article.job.completed", msg.Header.Get(HeaderEventType))
	assert.Equal(t, "2", msg.Header.Get(HeaderAttempt))
	assert.Equal(t, "2026-03-02T09:00:00Z", msg.Header.Get(HeaderCreatedAt))
}

func TestHandleCategorizesFailures(t *testing.T) {
	f, err := New(&fakePublisher{err: nats.ErrConnectionClosed}, "content")
	require.NoError(t, err)
	err = f.Handle(context.Background(), testEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
	assert.Equal(t, retrylearn.CategoryNetwork, retrylearn.Classify(err))

	var categorized *retrylearn.CategorizedError
	require.True(t, errors.As(err, &categorized))
	assert.Equal(t, retrylearn.CategoryNetwork, categorized.Category)

	f, err = New(&fakePublisher{err: nats.ErrTimeout}, "content")
	require.NoError(t, err)
	err = f.Handle(context.Background(), testEvent())
	assert.Equal(t, retrylearn.CategoryTimeout, retrylearn.Classify(err))
}

func TestHandleHonorsCanceledContext(t *testing.T) {
	pub := &fakePublisher{}
	f, err := New(pub, "content")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, f.Handle(ctx, testEvent()), context.Canceled)
	assert.Empty(t, pub.msgs)
}

func TestForwarderInWorker(t *testing.T) {
	pub := &fakePublisher{}
	f, err := New(pub, "content")
	require.NoError(t, err)

	registry := outbox.NewHandlerRegistry()
	registry.Register("article.job.completed", f)

	require.NoError(t, registry.Handle(context.Background(), testEvent()))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, f.Subject("article.job.completed"), pub.msgs[0].Subject)
}
