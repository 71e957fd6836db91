// Package healthgate runs independent threshold checks over pipeline-wide
// counters and folds them into a single worst-of report.
package healthgate

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/velmie/pipeline-outbox"
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithChecks replaces the default checks.
func WithChecks(checks ...Check) Option {
	return func(m *Monitor) {
		m.checks = checks
	}
}

// WithClock sets the clock windows are computed from.
func WithClock(clock outbox.Clock) Option {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger outbox.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Monitor evaluates gates against a CounterSource.
type Monitor struct {
	source CounterSource
	checks []Check
	clock  outbox.Clock
	logger outbox.Logger
}

// NewMonitor constructs a Monitor running DefaultChecks unless WithChecks is given.
func NewMonitor(source CounterSource, opts ...Option) *Monitor {
	if source == nil {
		panic("healthgate: nil CounterSource")
	}

	m := &Monitor{
		source: source,
		checks: DefaultChecks(),
		clock:  outbox.SystemClock{},
		logger: outbox.NopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Check runs every gate once, sequentially. A gate whose evaluation fails
// or panics is reported critical with the failure as its message; the
// remaining gates still run.
func (m *Monitor) Check(ctx context.Context) Report {
	now := m.clock.Now()
	gates := make([]Gate, 0, len(m.checks))
	for _, c := range m.checks {
		g := m.run(ctx, c, now)
		if g.Status != StatusHealthy {
			m.logger.Warn("health gate unhealthy", "gate", g.Name, "status", g.Status, "message", g.Message)
		}
		gates = append(gates, g)
	}

	return Report{Status: Aggregate(gates), Gates: gates, CheckedAt: now}
}

func (m *Monitor) run(ctx context.Context, c Check, now time.Time) (g Gate) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health gate panicked", "gate", c.Name, "panic", r, "stack", string(debug.Stack()))
			g = failedGate(c.Name, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return failedGate(c.Name, err)
	}

	g, err := c.Evaluate(ctx, m.source, now)
	if err != nil {
		m.logger.Error("health gate check failed", "gate", c.Name, outbox.LogKeyErr, err)

		return failedGate(c.Name, err)
	}
	if g.Name == "" {
		g.Name = c.Name
	}

	return g
}

func failedGate(name string, err error) Gate {
	return Gate{
		Name:           name,
		Status:         StatusCritical,
		Message:        err.Error(),
		Recommendation: "check counter source connectivity and the query behind this gate",
	}
}
