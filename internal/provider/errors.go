package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind classifies a provider failure. Retry policy is a property of the kind,
// never of the error text.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindUnavailable Kind = "unavailable"
	KindTimeout     Kind = "timeout"
	KindConnReset   Kind = "conn_reset"
	KindRejected    Kind = "rejected"
	KindInvalid     Kind = "invalid"
)

// Error is the only error type provider calls surface. Callers never see raw
// transport errors.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("provider %s (http %d): %s", e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure is worth retrying.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindUnavailable, KindTimeout, KindConnReset:
		return true
	}
	return false
}

// Classify converts an arbitrary error into a *Error. Already-classified
// errors pass through; transport errors map by type.
func Classify(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: err.Error()}
	case errors.Is(err, syscall.ECONNRESET):
		return &Error{Kind: KindConnReset, Message: err.Error()}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Kind: KindTimeout, Message: err.Error()}
	}
	return &Error{Kind: KindUnavailable, Message: err.Error()}
}

// classifyStatus maps an HTTP response code to an error kind.
func classifyStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 408:
		return KindTimeout
	case status >= 500:
		return KindUnavailable
	default:
		return KindRejected
	}
}
