package amap

import (
	"errors"
	"fmt"
)

// ErrExhaustedRetries matches any *ExhaustedRetriesError via errors.Is.
var ErrExhaustedRetries = errors.New("upstream retries exhausted")

// TransportError wraps a network-level or decode failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("amap %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx upstream status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("amap http status %d", e.StatusCode)
}

// RateLimitedError reports a 2xx payload carrying the soft rate-limit marker.
type RateLimitedError struct {
	Info     string
	InfoCode string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("amap rate limited: %s (%s)", e.Info, e.InfoCode)
}

// ExhaustedRetriesError is returned once every attempt failed. Last holds
// the cause of the final attempt.
type ExhaustedRetriesError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("amap request failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }

// Is lets errors.Is(err, ErrExhaustedRetries) succeed.
func (e *ExhaustedRetriesError) Is(target error) bool {
	return target == ErrExhaustedRetries
}

// retryReason labels a failed attempt for metrics and logs.
func retryReason(err error) string {
	var (
		rateErr *RateLimitedError
		httpErr *HTTPError
		tErr    *TransportError
	)
	switch {
	case errors.As(err, &rateErr):
		return "rate_limited"
	case errors.As(err, &httpErr):
		return "http_error"
	case errors.As(err, &tErr) && tErr.Op == "decode":
		return "decode_error"
	default:
		return "transport_error"
	}
}
