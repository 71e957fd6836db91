package retrylearn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketFor(t *testing.T) {
	cases := []struct {
		wait time.Duration
		want time.Duration
	}{
		{0, time.Minute},
		{90 * time.Second, time.Minute},
		{91 * time.Second, 2 * time.Minute},
		{3 * time.Minute, 2 * time.Minute},
		{7 * time.Minute, 5 * time.Minute},
		{20 * time.Minute, 15 * time.Minute},
		{90 * time.Minute, time.Hour},
		{10 * time.Hour, 2 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.wait.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, BucketFor(tc.wait))
		})
	}
}

func TestBucketsAreAscendingCopies(t *testing.T) {
	got := Buckets()
	require.Len(t, got, 9)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
	got[0] = 0
	assert.Equal(t, time.Minute, Buckets()[0])
}

func TestCategoryDefaults(t *testing.T) {
	assert.Equal(t, 5*time.Minute, CategoryNetwork.DefaultCooldown())
	assert.Equal(t, 10*time.Minute, CategoryTimeout.DefaultCooldown())
	assert.Equal(t, time.Hour, CategoryQuota.DefaultCooldown())
	assert.Equal(t, 15*time.Minute, CategoryParse.DefaultCooldown())
	for _, c := range []Category{CategoryAuth, CategoryValidation, CategoryEmptyResult, CategoryUnknown} {
		assert.False(t, c.Retryable())
		assert.True(t, IsInfinite(c.DefaultCooldown()))
	}
	assert.Len(t, Categories(), 8)

	c, err := ParseCategory("quota")
	require.NoError(t, err)
	assert.Equal(t, CategoryQuota, c)
	_, err = ParseCategory("RATE_LIMIT")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net failure" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryUnknown},
		{"plain", errors.New("boom"), CategoryUnknown},
		{"categorized", Categorize(CategoryQuota, errors.New("429")), CategoryQuota},
		{"wrapped categorized", fmt.Errorf("fetch: %w", Categorize(CategoryParse, errors.New("bad html"))), CategoryParse},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), CategoryTimeout},
		{"net timeout", timeoutErr{timeout: true}, CategoryTimeout},
		{"net error", &net.OpError{Op: "dial", Err: timeoutErr{}}, CategoryNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
	assert.Nil(t, Categorize(CategoryNetwork, nil))
}

func stat(c Category, bucket time.Duration, samples, successes int) BucketStat {
	return BucketStat{Category: c, Bucket: bucket, Samples: samples, Successes: successes}
}

func TestLearnPrefersMateriallyBetterBucket(t *testing.T) {
	got := Learn([]BucketStat{
		stat(CategoryNetwork, 5*time.Minute, 10, 7),
		stat(CategoryNetwork, time.Minute, 10, 5),
	}, t0)

	require.Contains(t, got, CategoryNetwork)
	assert.Equal(t, 5*time.Minute, got[CategoryNetwork].OptimalWait)
	assert.InDelta(t, 0.5, got[CategoryNetwork].Confidence, 1e-9)
}

func TestLearnKeepsShorterWaitWithinTolerance(t *testing.T) {
	got := Learn([]BucketStat{
		stat(CategoryTimeout, time.Minute, 50, 42),
		stat(CategoryTimeout, 30*time.Minute, 50, 44),
	}, t0)

	assert.Equal(t, time.Minute, got[CategoryTimeout].OptimalWait)
	assert.True(t, better(stat(CategoryTimeout, time.Minute, 10, 8), stat(CategoryTimeout, time.Hour, 10, 8)))
	assert.False(t, better(stat(CategoryTimeout, time.Hour, 20, 17), stat(CategoryTimeout, time.Minute, 20, 16)))
}

func TestLearnThresholds(t *testing.T) {
	got := Learn([]BucketStat{
		stat(CategoryNetwork, time.Minute, 4, 4),
		stat(CategoryQuota, time.Minute, 1, 1),
		stat(CategoryQuota, 2*time.Minute, 1, 1),
		stat(CategoryQuota, 5*time.Minute, 1, 1),
		stat(CategoryQuota, 10*time.Minute, 1, 1),
		stat(CategoryQuota, time.Hour, 2, 0),
		stat(CategoryAuth, time.Minute, 50, 50),
	}, t0)

	assert.NotContains(t, got, CategoryNetwork, "below the observation floor")
	assert.NotContains(t, got, CategoryAuth, "non-retryable")
	require.Contains(t, got, CategoryQuota)
	assert.Equal(t, time.Hour, got[CategoryQuota].OptimalWait, "only buckets with two samples compete")
}

func TestFormatErrorKeepsCategory(t *testing.T) {
	msg := FormatError(Categorize(CategoryQuota, errors.New("429 too many requests")))
	assert.Equal(t, "[QUOTA] 429 too many requests", msg)
	assert.Equal(t, CategoryQuota, ClassifyMessage(msg))

	assert.Equal(t, CategoryTimeout, ClassifyMessage(FormatError(context.DeadlineExceeded)))
	assert.Equal(t, CategoryNetwork, ClassifyMessage(FormatError(timeoutErr{timeout: false})))
	assert.Equal(t, CategoryUnknown, ClassifyMessage(FormatError(errors.New("plain"))))
	assert.Empty(t, FormatError(nil))
}

func TestClassifyMessageRejectsForeignText(t *testing.T) {
	assert.Equal(t, CategoryUnknown, ClassifyMessage("upstream 503"))
	assert.Equal(t, CategoryUnknown, ClassifyMessage("[SOMETHING] else"))
	assert.Equal(t, CategoryUnknown, ClassifyMessage("[NETWORK]no space"))
	assert.Equal(t, CategoryUnknown, ClassifyMessage("reclaimed: stuck in PROCESSING"))
}
