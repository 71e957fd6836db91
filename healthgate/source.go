package healthgate

import (
	"context"
	"time"
)

// Metric names a pipeline-wide counter.
type Metric string

const (
	MetricExtractions                Metric = "extractions_total"
	MetricExtractionsRejected        Metric = "extractions_rejected"
	MetricQuotesChecked              Metric = "quotes_checked"
	MetricQuotesFailed               Metric = "quotes_failed"
	MetricHighRiskUnapproved         Metric = "high_risk_published_unapproved"
	MetricPublishedMissingProvenance Metric = "published_missing_provenance"
	MetricDrafts                     Metric = "drafts_total"
	MetricDraftsMissingProvenance    Metric = "drafts_missing_provenance"
	MetricConflicts                  Metric = "conflicts_total"
	MetricConflictsUnresolved        Metric = "conflicts_unresolved"
	MetricReleaseAttempts            Metric = "release_attempts"
	MetricReleasesBlocked            Metric = "releases_blocked"
)

// Metrics returns every metric the default checks read.
func Metrics() []Metric {
	return []Metric{
		MetricExtractions,
		MetricExtractionsRejected,
		MetricQuotesChecked,
		MetricQuotesFailed,
		MetricHighRiskUnapproved,
		MetricPublishedMissingProvenance,
		MetricDrafts,
		MetricDraftsMissingProvenance,
		MetricConflicts,
		MetricConflictsUnresolved,
		MetricReleaseAttempts,
		MetricReleasesBlocked,
	}
}

// Window bounds the records counted: From inclusive, To exclusive.
// A zero From means since the beginning.
type Window struct {
	From time.Time
	To   time.Time
}

// Last returns the window of length d ending at now.
func Last(d time.Duration, now time.Time) Window {
	return Window{From: now.Add(-d), To: now}
}

// Until returns the window of everything before to.
func Until(to time.Time) Window {
	return Window{To: to}
}

// CounterSource counts records of a metric inside a window.
type CounterSource interface {
	Count(ctx context.Context, metric Metric, window Window) (int64, error)
}

// CounterFunc adapts a function to CounterSource.
type CounterFunc func(ctx context.Context, metric Metric, window Window) (int64, error)

// Count implements CounterSource.
func (fn CounterFunc) Count(ctx context.Context, metric Metric, window Window) (int64, error) {
	return fn(ctx, metric, window)
}
