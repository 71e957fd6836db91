package sourcepattern

import "errors"

var (
	// ErrSourceRequired is returned when a source slug is empty.
	ErrSourceRequired = errors.New("sourcepattern: source is required")
	// ErrInvalidKey is returned for a day or hour out of range.
	ErrInvalidKey = errors.New("sourcepattern: invalid pattern key")
	// ErrInvalidAlpha is returned when the smoothing weight is outside (0, 1].
	ErrInvalidAlpha = errors.New("sourcepattern: alpha must be in (0, 1]")
)
