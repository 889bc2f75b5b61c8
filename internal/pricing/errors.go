package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest rejects a product scrape that has no competitor URLs.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRateLimitTimeout is returned when tokens could not be acquired before the deadline.
	ErrRateLimitTimeout = errors.New("rate limit timeout")
	// ErrValidationRejected marks a candidate that failed normalization or range checks.
	ErrValidationRejected = errors.New("validation rejected")
	// ErrNoPriceFound records a fetched page without any valid price candidate.
	ErrNoPriceFound = errors.New("no price found")
	// ErrConfiguration marks missing or invalid wiring such as an absent proxy credential.
	ErrConfiguration = errors.New("configuration error")
)

// TransientFetchError is a fetch failure worth retrying: timeouts, 5xx and 429.
type TransientFetchError struct {
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient fetch error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient fetch error: %v", e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// PermanentFetchError is a fetch failure that will not improve on retry.
type PermanentFetchError struct {
	StatusCode int
	Err        error
}

func (e *PermanentFetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("permanent fetch error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("permanent fetch error: %v", e.Err)
}

func (e *PermanentFetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is (or wraps) a TransientFetchError.
func IsTransient(err error) bool {
	var transient *TransientFetchError
	return errors.As(err, &transient)
}

// ErrorLabel maps an error onto a low-cardinality label for metrics and logs.
func ErrorLabel(err error) string {
	var (
		transient *TransientFetchError
		permanent *PermanentFetchError
	)
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrRateLimitTimeout):
		return "rate_limit_timeout"
	case errors.As(err, &transient):
		return "transient"
	case errors.As(err, &permanent):
		return "permanent"
	case errors.Is(err, ErrNoPriceFound):
		return "no_price"
	default:
		return "other"
	}
}
