package retrylearn

import (
	"math"
	"sort"
	"time"
)

const (
	// MinObservations is the per-category sample count below which nothing is learned.
	MinObservations = 5
	// MinBucketSamples is the per-bucket sample count required for a bucket to compete.
	MinBucketSamples = 2
	// FullConfidenceSamples is the bucket sample count at which confidence reaches 1.
	FullConfidenceSamples = 20
	// MinConfidence is the confidence a learned value needs to replace the static default.
	MinConfidence = 0.5

	materialGain   = 0.10
	speedTolerance = 0.05
)

// Observation is one recorded retry outcome.
type Observation struct {
	Category   Category
	WaitBucket time.Duration
	Success    bool
	ObservedAt time.Time
}

// BucketStat aggregates observations of one category and wait bucket.
type BucketStat struct {
	Category  Category
	Bucket    time.Duration
	Samples   int
	Successes int
}

// SuccessRate returns Successes/Samples, or 0 for an empty bucket.
func (s BucketStat) SuccessRate() float64 {
	if s.Samples == 0 {
		return 0
	}

	return float64(s.Successes) / float64(s.Samples)
}

// Params is the learned cooldown of a category.
type Params struct {
	OptimalWait time.Duration `json:"optimal_wait"`
	SuccessRate float64       `json:"success_rate"`
	SampleSize  int           `json:"sample_size"`
	Confidence  float64       `json:"confidence"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Learn derives Params per category from bucket aggregates.
//
// Buckets are compared in ascending wait order. A candidate replaces the
// current best when its success rate is more than 10 points higher, or when
// it is within 5 points and its wait is shorter.
func Learn(stats []BucketStat, now time.Time) map[Category]Params {
	byCategory := make(map[Category][]BucketStat)
	totals := make(map[Category]int)
	for _, s := range stats {
		if !s.Category.Retryable() || s.Samples <= 0 {
			continue
		}
		totals[s.Category] += s.Samples
		if s.Samples >= MinBucketSamples {
			byCategory[s.Category] = append(byCategory[s.Category], s)
		}
	}

	out := make(map[Category]Params, len(byCategory))
	for category, candidates := range byCategory {
		if totals[category] < MinObservations {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].Bucket < candidates[j].Bucket
		})

		best := candidates[0]
		for _, candidate := range candidates[1:] {
			if better(candidate, best) {
				best = candidate
			}
		}

		out[category] = Params{
			OptimalWait: best.Bucket,
			SuccessRate: best.SuccessRate(),
			SampleSize:  best.Samples,
			Confidence:  math.Min(1, float64(best.Samples)/FullConfidenceSamples),
			LastUpdated: now,
		}
	}

	return out
}

func better(candidate, best BucketStat) bool {
	rate, bestRate := candidate.SuccessRate(), best.SuccessRate()
	if rate > bestRate+materialGain {
		return true
	}

	return math.Abs(rate-bestRate) <= speedTolerance && candidate.Bucket < best.Bucket
}
