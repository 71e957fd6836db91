// Package sourcepattern recommends whether a fetch from an external source
// should run now, based on smoothed success history by weekday and hour.
//
// Each outcome updates four patterns of the source: the exact weekday and
// hour, the weekday alone, the hour alone, and the source as a whole.
// OptimalTiming blends the patterns covering the current moment into a
// weighted failure rate and, when it is too high, proposes the best slot.
package sourcepattern

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/velmie/pipeline-outbox"
)

const (
	// Alpha is the smoothing weight given to a new observation.
	Alpha = 0.2
	// MinSamples is the sample size a pattern needs to take part in a decision.
	MinSamples = 3
	// FailureThreshold is the weighted failure rate at which fetching is discouraged.
	FailureThreshold = 0.5
	// DefaultFallbackDelay is the delay recommended when no better slot is known.
	DefaultFallbackDelay = 60 * time.Minute
	// DefaultStaleAfter is the idle age after which sparse patterns are purged.
	DefaultStaleAfter = 30 * 24 * time.Hour
)

// Slot is a recommended time window for a source.
type Slot struct {
	Day         *time.Weekday
	Hour        *int
	SuccessRate float64
	SampleSize  int
	// Next is the next start of the slot after the decision time.
	Next time.Time
}

func (s Slot) String() string {
	switch {
	case s.Day != nil && s.Hour != nil:
		return fmt.Sprintf("%s %02d:00", *s.Day, *s.Hour)
	case s.Day != nil:
		return s.Day.String()
	case s.Hour != nil:
		return fmt.Sprintf("%02d:00 daily", *s.Hour)
	default:
		return "any time"
	}
}

// Timing is a fetch recommendation.
type Timing struct {
	ShouldProceed       bool
	Reason              string
	WeightedFailureRate float64
	Alternative         *Slot
	// Delay is how long to wait before fetching, zero when ShouldProceed.
	Delay time.Duration
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock sets the clock used for recording and decisions.
func WithClock(clock outbox.Clock) Option {
	return func(a *Analyzer) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger outbox.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithFallbackDelay sets the delay recommended when no alternative slot exists.
func WithFallbackDelay(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.fallbackDelay = d
		}
	}
}

// WithLocation sets the time zone weekdays and hours are evaluated in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(a *Analyzer) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// Analyzer records source outcomes and recommends fetch timing.
type Analyzer struct {
	store         Store
	clock         outbox.Clock
	logger        outbox.Logger
	fallbackDelay time.Duration
	loc           *time.Location
}

// NewAnalyzer constructs an Analyzer over store.
func NewAnalyzer(store Store, opts ...Option) *Analyzer {
	if store == nil {
		panic("sourcepattern: nil Store")
	}

	a := &Analyzer{
		store:         store,
		clock:         outbox.SystemClock{},
		logger:        outbox.NopLogger{},
		fallbackDelay: DefaultFallbackDelay,
		loc:           time.UTC,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// RecordOutcome records a fetch outcome of source at the current time.
// latency is optional.
func (a *Analyzer) RecordOutcome(ctx context.Context, source string, success bool, latency *time.Duration) error {
	return a.RecordOutcomeAt(ctx, source, a.clock.Now(), success, latency)
}

// RecordOutcomeAt records a fetch outcome of source observed at at.
func (a *Analyzer) RecordOutcomeAt(ctx context.Context, source string, at time.Time, success bool, latency *time.Duration) error {
	if source == "" {
		return ErrSourceRequired
	}

	at = at.In(a.loc)
	obs := Observation{Success: success, Latency: latency, At: at}
	for _, key := range KeysAt(source, at) {
		if err := a.store.Apply(ctx, key, obs, Alpha); err != nil {
			return fmt.Errorf("sourcepattern: update %s: %w", key, err)
		}
	}

	return nil
}

// OptimalTiming recommends whether source should be fetched now.
func (a *Analyzer) OptimalTiming(ctx context.Context, source string) (Timing, error) {
	return a.OptimalTimingAt(ctx, source, a.clock.Now())
}

// OptimalTimingAt recommends whether source should be fetched at now.
func (a *Analyzer) OptimalTimingAt(ctx context.Context, source string, now time.Time) (Timing, error) {
	if source == "" {
		return Timing{}, ErrSourceRequired
	}

	patterns, err := a.store.List(ctx, source)
	if err != nil {
		return Timing{}, fmt.Errorf("sourcepattern: list patterns of %s: %w", source, err)
	}
	if len(patterns) == 0 {
		return Timing{ShouldProceed: true, Reason: "no history for source"}, nil
	}

	now = now.In(a.loc)
	rate, ok := WeightedFailureRate(patterns, now)
	if !ok {
		return Timing{ShouldProceed: true, Reason: "insufficient samples for current slot"}, nil
	}
	if rate < FailureThreshold {
		return Timing{
			ShouldProceed:       true,
			Reason:              fmt.Sprintf("weighted failure rate %.0f%% is acceptable", rate*100),
			WeightedFailureRate: rate,
		}, nil
	}

	timing := Timing{WeightedFailureRate: rate}
	if slot, found := bestSlot(patterns, now); found {
		timing.Alternative = &slot
		timing.Delay = slot.Next.Sub(now)
		timing.Reason = fmt.Sprintf("weighted failure rate %.0f%%, %s succeeds %.0f%% of the time",
			rate*100, slot, slot.SuccessRate*100)
	} else {
		timing.Delay = a.fallbackDelay
		timing.Reason = fmt.Sprintf("weighted failure rate %.0f%%, no better slot known", rate*100)
	}
	a.logger.Debug("source fetch discouraged", "source", source, "failure_rate", rate, "delay", timing.Delay)

	return timing, nil
}

// Cleanup purges patterns with fewer than minSamples samples not updated for olderThan.
// Non-positive arguments use MinSamples and DefaultStaleAfter.
func (a *Analyzer) Cleanup(ctx context.Context, minSamples int, olderThan time.Duration) (int64, error) {
	if minSamples <= 0 {
		minSamples = MinSamples
	}
	if olderThan <= 0 {
		olderThan = DefaultStaleAfter
	}

	n, err := a.store.Purge(ctx, minSamples, a.clock.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("sourcepattern: purge: %w", err)
	}
	if n > 0 {
		a.logger.Info("source patterns purged", "count", n)
	}

	return n, nil
}

// WeightedFailureRate blends the failure rates of the patterns covering now.
// It reports false when no covering pattern has enough samples.
func WeightedFailureRate(patterns []Pattern, now time.Time) (float64, bool) {
	var weighted, total float64
	for _, p := range patterns {
		if p.SampleSize < MinSamples || !p.Covers(now) {
			continue
		}
		w := p.Granularity().Weight()
		weighted += w * p.FailureRate
		total += w
	}
	if total == 0 {
		return 0, false
	}

	return weighted / total, true
}

func bestSlot(patterns []Pattern, now time.Time) (Slot, bool) {
	type candidate struct {
		pattern Pattern
		next    time.Time
	}

	var candidates []candidate
	for _, p := range patterns {
		if p.SampleSize < MinSamples || p.Granularity() == GranularityGlobal || p.Covers(now) {
			continue
		}
		candidates = append(candidates, candidate{pattern: p, next: NextOccurrence(p.Key, now)})
	}
	if len(candidates) == 0 {
		return Slot{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := candidates[i].pattern, candidates[j].pattern
		if pi.SuccessRate != pj.SuccessRate {
			return pi.SuccessRate > pj.SuccessRate
		}
		if gi, gj := pi.Granularity(), pj.Granularity(); gi != gj {
			return gi < gj
		}
		if pi.SampleSize != pj.SampleSize {
			return pi.SampleSize > pj.SampleSize
		}

		return candidates[i].next.Before(candidates[j].next)
	})

	best := candidates[0]

	return Slot{
		Day:         best.pattern.Day,
		Hour:        best.pattern.Hour,
		SuccessRate: best.pattern.SuccessRate,
		SampleSize:  best.pattern.SampleSize,
		Next:        best.next,
	}, true
}

// NextOccurrence returns the first start of the slot of key strictly after now.
// A day-only slot starts at midnight and an hour-only slot at the top of the hour.
func NextOccurrence(key Key, now time.Time) time.Time {
	hour := 0
	if key.Hour != nil {
		hour = *key.Hour
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())

	switch {
	case key.Day != nil:
		next = next.AddDate(0, 0, (int(*key.Day)-int(now.Weekday())+7)%7)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
	case key.Hour != nil:
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
	default:
		return now
	}

	return next
}
