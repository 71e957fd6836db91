// Package metrics exports outbox and health gate telemetry to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/healthgate"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "pipeline_outbox"

// Prometheus implements outbox.Metrics.
type Prometheus struct {
	batchDuration   prometheus.Histogram
	handlerDuration *prometheus.HistogramVec
	handlerErrors   *prometheus.CounterVec
	events          *prometheus.CounterVec
	reclaimed       prometheus.Counter
	backlog         *prometheus.GaugeVec
	due             prometheus.Gauge
	oldestDue       prometheus.Gauge
	gateStatus      *prometheus.GaugeVec
	gateValue       *prometheus.GaugeVec
	overall         prometheus.Gauge
}

var _ outbox.Metrics = (*Prometheus)(nil)

// New registers the collectors on reg. A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Prometheus{
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of one polled worker batch in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		handlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Duration of event handler invocations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		handlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Total number of failed handler invocations",
		}, []string{"event_type"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of events by worker outcome",
		}, []string{"outcome"}),
		reclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimed_total",
			Help:      "Total number of stuck events reset to pending",
		}),
		backlog: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events",
			Help:      "Current number of events by status",
		}, []string{"status"}),
		due: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_events",
			Help:      "Current number of pending events whose scheduled time has passed",
		}),
		oldestDue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "oldest_due_age_seconds",
			Help:      "Age of the oldest due event in seconds",
		}),
		gateStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_gate_status",
			Help:      "Health gate status: 0 healthy, 1 degraded, 2 critical",
		}, []string{"gate"}),
		gateValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_gate_value",
			Help:      "Last measured value of a health gate",
		}, []string{"gate"}),
		overall: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_status",
			Help:      "Overall health status: 0 healthy, 1 degraded, 2 critical",
		}),
	}
}

// ObserveBatchDuration implements outbox.Metrics.
func (p *Prometheus) ObserveBatchDuration(d time.Duration) {
	p.batchDuration.Observe(d.Seconds())
}

// ObserveHandler implements outbox.Metrics.
func (p *Prometheus) ObserveHandler(eventType string, d time.Duration, err error) {
	p.handlerDuration.WithLabelValues(eventType).Observe(d.Seconds())
	if err != nil {
		p.handlerErrors.WithLabelValues(eventType).Inc()
	}
}

// AddClaimed implements outbox.Metrics.
func (p *Prometheus) AddClaimed(n int) { p.events.WithLabelValues("claimed").Add(float64(n)) }

// AddSkipped implements outbox.Metrics.
func (p *Prometheus) AddSkipped(n int) { p.events.WithLabelValues("skipped").Add(float64(n)) }

// AddCompleted implements outbox.Metrics.
func (p *Prometheus) AddCompleted(n int) { p.events.WithLabelValues("completed").Add(float64(n)) }

// AddRetried implements outbox.Metrics.
func (p *Prometheus) AddRetried(n int) { p.events.WithLabelValues("retried").Add(float64(n)) }

// AddFailed implements outbox.Metrics.
func (p *Prometheus) AddFailed(n int) { p.events.WithLabelValues("failed").Add(float64(n)) }

// AddReclaimed implements outbox.Metrics.
func (p *Prometheus) AddReclaimed(n int64) { p.reclaimed.Add(float64(n)) }

// SetStats implements outbox.Metrics.
func (p *Prometheus) SetStats(stats outbox.Stats) {
	p.backlog.WithLabelValues(string(outbox.StatusPending)).Set(float64(stats.Pending))
	p.backlog.WithLabelValues(string(outbox.StatusProcessing)).Set(float64(stats.Processing))
	p.backlog.WithLabelValues(string(outbox.StatusCompleted)).Set(float64(stats.Completed))
	p.backlog.WithLabelValues(string(outbox.StatusFailed)).Set(float64(stats.Failed))
	p.due.Set(float64(stats.Due))
	p.oldestDue.Set(stats.OldestDueAge.Seconds())
}

// SetHealth publishes a health report.
func (p *Prometheus) SetHealth(report healthgate.Report) {
	p.overall.Set(statusValue(report.Status))
	for _, gate := range report.Gates {
		p.gateStatus.WithLabelValues(gate.Name).Set(statusValue(gate.Status))
		p.gateValue.WithLabelValues(gate.Name).Set(gate.Value)
	}
}

func statusValue(s healthgate.Status) float64 {
	switch s {
	case healthgate.StatusCritical:
		return 2
	case healthgate.StatusDegraded:
		return 1
	default:
		return 0
	}
}
