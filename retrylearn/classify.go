package retrylearn

import (
	"context"
	"errors"
	"net"
	"strings"
)

// CategorizedError attaches a Category to an error.
type CategorizedError struct {
	Category Category
	Err      error
}

func (e *CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}

	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Categorize wraps err with category c.
func Categorize(c Category, err error) error {
	if err == nil {
		return nil
	}

	return &CategorizedError{Category: c, Err: err}
}

// Classify derives a category from err. Explicit categorization wins,
// deadlines and network timeouts are TIMEOUT, other network errors are NETWORK.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var categorized *CategorizedError
	if errors.As(err, &categorized) && categorized.Category.Valid() {
		return categorized.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}

		return CategoryNetwork
	}

	return CategoryUnknown
}

// FormatError renders err for Event.LastError with its category as a
// "[CATEGORY] " prefix, so the next attempt can recover it.
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	return "[" + string(Classify(err)) + "] " + err.Error()
}

// ClassifyMessage recovers the category of a LastError written by FormatError.
// Other messages are UNKNOWN.
func ClassifyMessage(msg string) Category {
	rest, ok := strings.CutPrefix(msg, "[")
	if !ok {
		return CategoryUnknown
	}
	name, _, ok := strings.Cut(rest, "] ")
	if !ok {
		return CategoryUnknown
	}
	category, err := ParseCategory(name)
	if err != nil {
		return CategoryUnknown
	}

	return category
}
