package healthgate

import (
	"context"
	"fmt"
	"time"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// Check evaluates one gate against a counter source at now.
type Check struct {
	Name     string
	Evaluate func(ctx context.Context, src CounterSource, now time.Time) (Gate, error)
}

// RateRule describes a numerator/denominator gate. Thresholds are percentages
// and are exceeded only when the rate is strictly greater. A zero
// DegradedAbove disables the degraded level.
type RateRule struct {
	Name           string
	Numerator      Metric
	Denominator    Metric
	Window         func(now time.Time) Window
	CriticalAbove  float64
	DegradedAbove  float64
	Subject        string
	Population     string
	Recommendation string
}

// RateCheck builds a Check from r.
func RateCheck(r RateRule) Check {
	return Check{
		Name: r.Name,
		Evaluate: func(ctx context.Context, src CounterSource, now time.Time) (Gate, error) {
			w := r.Window(now)
			num, den, err := countPair(ctx, src, r.Numerator, r.Denominator, w)
			if err != nil {
				return Gate{}, err
			}

			g := Gate{Name: r.Name, Status: StatusHealthy, Threshold: r.CriticalAbove}
			if den == 0 {
				g.Message = fmt.Sprintf("no %s", r.Population)

				return g, nil
			}

			g.Value = percent(num, den)
			switch {
			case exceeds(num, den, r.CriticalAbove):
				g.Status = StatusCritical
			case r.DegradedAbove > 0 && exceeds(num, den, r.DegradedAbove):
				g.Status = StatusDegraded
				g.Threshold = r.DegradedAbove
			}
			g.Message = fmt.Sprintf("%d of %d %s (%.2f%%)", num, den, r.Subject, g.Value)
			if g.Status != StatusHealthy {
				g.Recommendation = r.Recommendation
			}

			return g, nil
		},
	}
}

// exceeds reports num/den*100 > pct without rounding the ratio.
func exceeds(num, den int64, pct float64) bool {
	return float64(num)*100 > float64(den)*pct
}

func percent(num, den int64) float64 {
	if den == 0 {
		return 0
	}

	return float64(num) * 100 / float64(den)
}

func countPair(ctx context.Context, src CounterSource, num, den Metric, w Window) (int64, int64, error) {
	n, err := src.Count(ctx, num, w)
	if err != nil {
		return 0, 0, fmt.Errorf("count %s: %w", num, err)
	}
	d, err := src.Count(ctx, den, w)
	if err != nil {
		return 0, 0, fmt.Errorf("count %s: %w", den, err)
	}

	return n, d, nil
}

func lastDay(now time.Time) Window  { return Last(day, now) }
func lastWeek(now time.Time) Window { return Last(week, now) }
func allTime(now time.Time) Window  { return Until(now) }

// ExtractionRejectionCheck fails when too many extractions were rejected in the last 24h.
func ExtractionRejectionCheck() Check {
	return RateCheck(RateRule{
		Name:           "extraction_rejection_rate",
		Numerator:      MetricExtractionsRejected,
		Denominator:    MetricExtractions,
		Window:         lastDay,
		CriticalAbove:  10,
		DegradedAbove:  5,
		Subject:        "extractions rejected in 24h",
		Population:     "extractions in 24h",
		Recommendation: "review extraction prompts and source quality for recent rejections",
	})
}

// QuoteValidationCheck fails when quoted passages do not match their sources.
func QuoteValidationCheck() Check {
	return RateCheck(RateRule{
		Name:           "quote_validation_failure_rate",
		Numerator:      MetricQuotesFailed,
		Denominator:    MetricQuotesChecked,
		Window:         lastDay,
		CriticalAbove:  5,
		DegradedAbove:  2,
		Subject:        "quotes failed validation in 24h",
		Population:     "quotes checked in 24h",
		Recommendation: "inspect generations with unverifiable quotes before publishing more",
	})
}

// DraftProvenanceCheck fails when drafts of the last 7 days lack provenance.
func DraftProvenanceCheck() Check {
	return RateCheck(RateRule{
		Name:           "draft_provenance_coverage",
		Numerator:      MetricDraftsMissingProvenance,
		Denominator:    MetricDrafts,
		Window:         lastWeek,
		CriticalAbove:  5,
		Subject:        "drafts missing provenance in 7d",
		Population:     "drafts in 7d",
		Recommendation: "backfill source links on drafts before they reach review",
	})
}

// StaleConflictCheck fails when conflicts older than 7 days remain unresolved.
func StaleConflictCheck() Check {
	return RateCheck(RateRule{
		Name:        "stale_conflict_resolution",
		Numerator:   MetricConflictsUnresolved,
		Denominator: MetricConflicts,
		Window: func(now time.Time) Window {
			return Until(now.Add(-week))
		},
		CriticalAbove:  50,
		DegradedAbove:  30,
		Subject:        "conflicts older than 7d unresolved",
		Population:     "conflicts older than 7d",
		Recommendation: "assign reviewers to the oldest open conflicts",
	})
}

// ZeroToleranceCheck builds a gate that is critical as soon as metric counts anything.
func ZeroToleranceCheck(name string, metric Metric, window func(time.Time) Window, subject, recommendation string) Check {
	return Check{
		Name: name,
		Evaluate: func(ctx context.Context, src CounterSource, now time.Time) (Gate, error) {
			n, err := src.Count(ctx, metric, window(now))
			if err != nil {
				return Gate{}, fmt.Errorf("count %s: %w", metric, err)
			}

			g := Gate{Name: name, Status: StatusHealthy, Value: float64(n)}
			if n > 0 {
				g.Status = StatusCritical
				g.Message = fmt.Sprintf("%d %s", n, subject)
				g.Recommendation = recommendation

				return g, nil
			}
			g.Message = fmt.Sprintf("no %s", subject)

			return g, nil
		},
	}
}

// ApprovalComplianceCheck fails when a high or critical risk item was published without an approver.
func ApprovalComplianceCheck() Check {
	return ZeroToleranceCheck(
		"mandatory_approval_compliance",
		MetricHighRiskUnapproved,
		allTime,
		"high-risk items published without a recorded approver",
		"unpublish the items and route them through approval",
	)
}

// PublishedProvenanceCheck fails when any published item lacks provenance.
func PublishedProvenanceCheck() Check {
	return ZeroToleranceCheck(
		"published_provenance_coverage",
		MetricPublishedMissingProvenance,
		allTime,
		"published items missing provenance",
		"restore the audit trail of the listed items",
	)
}

// BlockedReleaseCheck is informational: it is degraded when releases were
// blocked and blocks make up more than half of the release attempts of the last 24h.
func BlockedReleaseCheck() Check {
	const name = "blocked_release_rate"
	const threshold = 50.0

	return Check{
		Name: name,
		Evaluate: func(ctx context.Context, src CounterSource, now time.Time) (Gate, error) {
			blocked, attempts, err := countPair(ctx, src, MetricReleasesBlocked, MetricReleaseAttempts, lastDay(now))
			if err != nil {
				return Gate{}, err
			}

			g := Gate{Name: name, Status: StatusHealthy, Threshold: threshold}
			if attempts == 0 {
				g.Message = "no release attempts in 24h"

				return g, nil
			}

			g.Value = percent(blocked, attempts)
			g.Message = fmt.Sprintf("%d of %d release attempts blocked in 24h (%.2f%%)", blocked, attempts, g.Value)
			if blocked > 0 && exceeds(blocked, attempts, threshold) {
				g.Status = StatusDegraded
				g.Recommendation = "gates are working, but upstream drafts keep failing them; fix the process gap"
			}

			return g, nil
		},
	}
}

// DefaultChecks returns the standard pipeline gates.
func DefaultChecks() []Check {
	return []Check{
		ExtractionRejectionCheck(),
		QuoteValidationCheck(),
		ApprovalComplianceCheck(),
		PublishedProvenanceCheck(),
		DraftProvenanceCheck(),
		StaleConflictCheck(),
		BlockedReleaseCheck(),
	}
}
