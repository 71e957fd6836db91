package sourcepattern

import (
	"fmt"
	"time"
)

// Any is the column value backends store for an unset day or hour.
const Any = -1

// Granularity is the specificity of a pattern key.
type Granularity int

const (
	GranularityExact Granularity = iota
	GranularityDay
	GranularityHour
	GranularityGlobal
)

var granularityWeights = [...]float64{
	GranularityExact:  4,
	GranularityDay:    2,
	GranularityHour:   2,
	GranularityGlobal: 1,
}

// Weight returns the contribution of the granularity to the weighted failure rate.
func (g Granularity) Weight() float64 {
	if g < GranularityExact || g > GranularityGlobal {
		return 0
	}

	return granularityWeights[g]
}

func (g Granularity) String() string {
	switch g {
	case GranularityExact:
		return "exact"
	case GranularityDay:
		return "day"
	case GranularityHour:
		return "hour"
	case GranularityGlobal:
		return "global"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// Key identifies a pattern row. A nil Day or Hour matches any value.
type Key struct {
	Source string
	Day    *time.Weekday
	Hour   *int
}

// KeysAt returns the exact, day-only, hour-only and global keys covering t.
func KeysAt(source string, t time.Time) [4]Key {
	day, hour := t.Weekday(), t.Hour()

	return [4]Key{
		{Source: source, Day: &day, Hour: &hour},
		{Source: source, Day: &day},
		{Source: source, Hour: &hour},
		{Source: source},
	}
}

// KeyFromColumns builds a key from stored columns, where Any means unset.
func KeyFromColumns(source string, day, hour int) Key {
	k := Key{Source: source}
	if day != Any {
		d := time.Weekday(day)
		k.Day = &d
	}
	if hour != Any {
		h := hour
		k.Hour = &h
	}

	return k
}

// Columns returns the day and hour column values of k.
func (k Key) Columns() (day, hour int) {
	day, hour = Any, Any
	if k.Day != nil {
		day = int(*k.Day)
	}
	if k.Hour != nil {
		hour = *k.Hour
	}

	return day, hour
}

// Granularity reports which of the four key shapes k has.
func (k Key) Granularity() Granularity {
	switch {
	case k.Day != nil && k.Hour != nil:
		return GranularityExact
	case k.Day != nil:
		return GranularityDay
	case k.Hour != nil:
		return GranularityHour
	default:
		return GranularityGlobal
	}
}

// Covers reports whether t falls in the slot described by k.
func (k Key) Covers(t time.Time) bool {
	if k.Day != nil && *k.Day != t.Weekday() {
		return false
	}
	if k.Hour != nil && *k.Hour != t.Hour() {
		return false
	}

	return true
}

// Validate checks the source and the day and hour ranges.
func (k Key) Validate() error {
	if k.Source == "" {
		return ErrSourceRequired
	}
	if k.Day != nil && (*k.Day < time.Sunday || *k.Day > time.Saturday) {
		return fmt.Errorf("%w: day %d", ErrInvalidKey, *k.Day)
	}
	if k.Hour != nil && (*k.Hour < 0 || *k.Hour > 23) {
		return fmt.Errorf("%w: hour %d", ErrInvalidKey, *k.Hour)
	}

	return nil
}

func (k Key) String() string {
	switch k.Granularity() {
	case GranularityExact:
		return fmt.Sprintf("%s %s %02d:00", k.Source, *k.Day, *k.Hour)
	case GranularityDay:
		return fmt.Sprintf("%s %s", k.Source, *k.Day)
	case GranularityHour:
		return fmt.Sprintf("%s %02d:00 daily", k.Source, *k.Hour)
	default:
		return k.Source
	}
}

// Observation is one fetch outcome for a source.
type Observation struct {
	Success bool
	Latency *time.Duration
	At      time.Time
}

func (o Observation) failure() float64 {
	if o.Success {
		return 0
	}

	return 1
}

// Pattern is the smoothed outcome history of one key.
type Pattern struct {
	Key
	FailureRate  float64
	SuccessRate  float64
	SampleSize   int
	AvgLatencyMs *float64
	LastUpdated  time.Time
}

// NewPattern starts a pattern at the value of its first observation.
func NewPattern(key Key, obs Observation) Pattern {
	p := Pattern{
		Key:         key,
		FailureRate: obs.failure(),
		SuccessRate: 1 - obs.failure(),
		SampleSize:  1,
		LastUpdated: obs.At,
	}
	if obs.Latency != nil {
		ms := latencyMs(*obs.Latency)
		p.AvgLatencyMs = &ms
	}

	return p
}

// Apply blends obs into p with smoothing weight alpha: rate' = rate*(1-alpha) + outcome*alpha.
func (p Pattern) Apply(obs Observation, alpha float64) Pattern {
	p.FailureRate = p.FailureRate*(1-alpha) + obs.failure()*alpha
	p.SuccessRate = p.SuccessRate*(1-alpha) + (1-obs.failure())*alpha
	p.SampleSize++
	p.LastUpdated = obs.At
	if obs.Latency != nil {
		ms := latencyMs(*obs.Latency)
		if p.AvgLatencyMs != nil {
			ms = *p.AvgLatencyMs*(1-alpha) + ms*alpha
		}
		p.AvgLatencyMs = &ms
	}

	return p
}

func latencyMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
