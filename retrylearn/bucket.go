package retrylearn

import "time"

// bucketSlack widens the snap-up rule: a wait belongs to the smallest bucket >= wait/1.5.
const bucketSlack = 1.5

var buckets = []time.Duration{
	time.Minute,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	45 * time.Minute,
	time.Hour,
	2 * time.Hour,
}

// Buckets returns the ascending wait buckets observations are grouped by.
func Buckets() []time.Duration {
	out := make([]time.Duration, len(buckets))
	copy(out, buckets)

	return out
}

// BucketFor snaps wait to the smallest bucket that is >= wait/1.5.
// Waits beyond every bucket land in the largest one.
func BucketFor(wait time.Duration) time.Duration {
	target := float64(wait) / bucketSlack
	for _, b := range buckets {
		if float64(b) >= target {
			return b
		}
	}

	return buckets[len(buckets)-1]
}
