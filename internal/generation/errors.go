package generation

import (
	"fmt"
	"time"
)

// AuthenticationError means the provider rejected our credentials. Fatal, no
// retry: repeating the call cannot succeed until configuration changes.
type AuthenticationError struct {
	StatusCode int
	Message    string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("generation authentication failed (status %d): %s", e.StatusCode, e.Message)
}

// RateLimitedError means the provider throttled the call. Retryable after the
// server-provided delay, when one was given.
type RateLimitedError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("generation rate limited, retry after %s: %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("generation rate limited: %s", e.Message)
}

// TransientError covers 5xx responses, timeouts, and connection resets.
// Retryable with exponential backoff.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient generation failure (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient generation failure (%s)", e.Reason)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// InvalidRequestError covers any other 4xx. Fatal: the request itself is
// malformed and retrying would repeat the same failure.
type InvalidRequestError struct {
	StatusCode int
	Message    string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("generation request rejected (status %d): %s", e.StatusCode, e.Message)
}

// MaxRetriesExceededError is surfaced after the attempt budget is exhausted,
// wrapping the last underlying failure.
type MaxRetriesExceededError struct {
	Attempts int
	Err      error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *MaxRetriesExceededError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether an error cannot be fixed by retrying.
func IsFatal(err error) bool {
	switch err.(type) {
	case *AuthenticationError, *InvalidRequestError:
		return true
	default:
		return false
	}
}
