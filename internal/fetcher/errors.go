package fetcher

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a fetch failure.
type Kind string

// Failure kinds
const (
	KindRateLimited Kind = "rate_limited"
	KindFetchFailed Kind = "fetch_failed"
)

// errors
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrFetchFailed       = errors.New("fetch failed")
)

// Error is a fetch that gave up after the retry policy.
type Error struct {
	Kind      Kind
	Channel   string
	MessageID int
	Attempts  int
	Err       error
}

func (e *Error) Error() string {
	if e.MessageID > 0 {
		return fmt.Sprintf("%s: %s/%d after %d attempt(s): %v", e.Kind, e.Channel, e.MessageID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", e.Kind, e.Channel, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindRateLimited:
		return target == ErrRateLimitExceeded
	case KindFetchFailed:
		return target == ErrFetchFailed
	}
	return false
}

// asError keeps *Error and context errors as they are and wraps the rest.
func asError(err error, chKey string, id int) error {
	var fe *Error
	if errors.As(err, &fe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Kind: KindFetchFailed, Channel: chKey, MessageID: id, Attempts: 1, Err: err}
}

// KindOf returns the failure kind of err, empty for non fetch errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
