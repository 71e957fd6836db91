package retrylearn

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Infinite is the cooldown of a category that must never be retried automatically.
const Infinite = time.Duration(math.MaxInt64)

// IsInfinite reports whether d means "never auto-retry".
func IsInfinite(d time.Duration) bool {
	return d == Infinite
}

// Category classifies a failure for cooldown purposes. The set is closed.
type Category string

// Retryable categories.
const (
	CategoryNetwork Category = "NETWORK"
	CategoryTimeout Category = "TIMEOUT"
	CategoryQuota   Category = "QUOTA"
	CategoryParse   Category = "PARSE"
)

// Non-retryable categories. They require manual remediation.
const (
	CategoryAuth        Category = "AUTH"
	CategoryValidation  Category = "VALIDATION"
	CategoryEmptyResult Category = "EMPTY_RESULT"
	CategoryUnknown     Category = "UNKNOWN"
)

var staticCooldowns = map[Category]time.Duration{
	CategoryNetwork:     5 * time.Minute,
	CategoryTimeout:     10 * time.Minute,
	CategoryQuota:       time.Hour,
	CategoryParse:       15 * time.Minute,
	CategoryAuth:        Infinite,
	CategoryValidation:  Infinite,
	CategoryEmptyResult: Infinite,
	CategoryUnknown:     Infinite,
}

var categoryOrder = []Category{
	CategoryNetwork,
	CategoryTimeout,
	CategoryQuota,
	CategoryParse,
	CategoryAuth,
	CategoryValidation,
	CategoryEmptyResult,
	CategoryUnknown,
}

// Categories returns the closed category set, retryable ones first.
func Categories() []Category {
	out := make([]Category, len(categoryOrder))
	copy(out, categoryOrder)

	return out
}

// ParseCategory resolves a category name, case-insensitively.
func ParseCategory(name string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(name)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}

	return c, nil
}

// Valid reports whether c belongs to the closed set.
func (c Category) Valid() bool {
	_, ok := staticCooldowns[c]

	return ok
}

// Retryable reports whether c has a finite default cooldown.
func (c Category) Retryable() bool {
	d, ok := staticCooldowns[c]

	return ok && !IsInfinite(d)
}

// DefaultCooldown returns the static cooldown used when nothing has been learned.
// Unknown names are treated as CategoryUnknown.
func (c Category) DefaultCooldown() time.Duration {
	d, ok := staticCooldowns[c]
	if !ok {
		return Infinite
	}

	return d
}

func (c Category) String() string {
	return string(c)
}
