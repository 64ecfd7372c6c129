// Package apperrors defines the error taxonomy shared by the webhook
// pipeline, the reconciliation queue and the auth gate. Handlers branch on
// these kinds to decide whether an error is acknowledged, retried or
// surfaced to the caller.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation"
	KindProvider    Kind = "provider"
	KindPersistence Kind = "persistence"
	KindRateLimited Kind = "rate_limited"
)

// Error is a classified application error. Retryable is only meaningful for
// provider errors and drives the reconciliation queue's retry decision.
type Error struct {
	Kind      Kind
	Msg       string
	Retryable bool
	// RetryAfter carries the remaining lockout for rate-limited errors.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports an unresolvable assistant or call reference.
func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Validation reports a malformed event payload.
func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Provider wraps a failed external call; retryable decides queue behavior.
func Provider(retryable bool, msg string, err error) error {
	return &Error{Kind: KindProvider, Msg: msg, Retryable: retryable, Err: err}
}

// Persistence wraps a failed storage write. These must propagate to the
// webhook acknowledgement so the provider redelivers.
func Persistence(msg string, err error) error {
	return &Error{Kind: KindPersistence, Msg: msg, Err: err}
}

// RateLimited reports an active short-code lockout with remaining duration.
func RateLimited(retryAfter time.Duration) error {
	return &Error{Kind: KindRateLimited, Msg: "too many failed attempts", RetryAfter: retryAfter}
}

// KindOf extracts the kind of a classified error, or "" for plain errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether a provider error may be retried. Anything not
// classified defaults to retryable, network-level failures included.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Kind == KindProvider {
			return ae.Retryable
		}
		return ae.Kind == KindPersistence
	}
	return true
}

// RetryAfter returns the remaining lockout for rate-limited errors.
func RetryAfter(err error) time.Duration {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}
