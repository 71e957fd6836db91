package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/healthgate"
)

func TestWorkerCounters(t *testing.T) {
	m := New(prometheus.NewRegistry(), "test")

	m.AddClaimed(3)
	m.AddSkipped(1)
	m.AddCompleted(2)
	m.AddRetried(1)
	m.AddFailed(1)
	m.AddReclaimed(4)
	m.ObserveHandler("webhook.received", 10*time.Millisecond, nil)
	m.ObserveHandler("webhook.received", 20*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.events.WithLabelValues("claimed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("retried")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.reclaimed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handlerErrors.WithLabelValues("webhook.received")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.handlerDuration))
}

func TestSetStats(t *testing.T) {
	m := New(prometheus.NewRegistry(), "")

	m.SetStats(outbox.Stats{Pending: 5, Processing: 1, Completed: 9, Failed: 2, Due: 3, OldestDueAge: 90 * time.Second})

	assert.Equal(t, 5.0, testutil.ToFloat64(m.backlog.WithLabelValues("PENDING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backlog.WithLabelValues("PROCESSING")))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.backlog.WithLabelValues("COMPLETED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.backlog.WithLabelValues("FAILED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.due))
	assert.Equal(t, 90.0, testutil.ToFloat64(m.oldestDue))
}

func TestSetHealth(t *testing.T) {
	m := New(prometheus.NewRegistry(), "")

	m.SetHealth(healthgate.Report{
		Status: healthgate.StatusDegraded,
		Gates: []healthgate.Gate{
			{Name: "extraction_rejection_rate", Status: healthgate.StatusDegraded, Value: 7.5},
			{Name: "draft_provenance_coverage", Status: healthgate.StatusHealthy},
			{Name: "mandatory_approval_compliance", Status: healthgate.StatusCritical, Value: 1},
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.overall))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gateStatus.WithLabelValues("extraction_rejection_rate")))
	assert.Equal(t, 7.5, testutil.ToFloat64(m.gateValue.WithLabelValues("extraction_rejection_rate")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.gateStatus.WithLabelValues("draft_provenance_coverage")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.gateStatus.WithLabelValues("mandatory_approval_compliance")))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, "dup")

	assert.Panics(t, func() { New(reg, "dup") })
}
