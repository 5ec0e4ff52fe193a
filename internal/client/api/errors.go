package api

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the presentation-level classification of a failure.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNetwork         Kind = "network"
	KindTimeout         Kind = "timeout"
	KindServer          Kind = "server"
	KindPaymentProvider Kind = "payment_provider"
	KindInvalidPackage  Kind = "invalid_package"
)

// Error is the only error type that leaves this package and the components built on it.
type Error struct {
	Kind Kind
	// Op names the client operation, e.g. "fetch balance".
	Op string
	// Endpoint is the request path, empty for local validation.
	Endpoint string
	// Status is the HTTP status, zero when no response was received.
	Status int
	// Code is the backend error code, if any.
	Code string
	// Message is safe to show to the user; empty means use the default for Kind.
	Message string
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		s += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage returns text for the user. Raw transport details never appear here.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindValidation, KindInvalidPackage:
		if e.Message != "" {
			return e.Message
		}
		if e.Kind == KindInvalidPackage {
			return "This package is not available."
		}
		return "Please check your input."
	case KindNetwork:
		return "Connection problem. Check your network and try again."
	case KindTimeout:
		return "The request took longer than expected. Please try again later."
	case KindPaymentProvider:
		return "The payment service is unavailable right now. Your package selection is kept, try again."
	default:
		return "The service is temporarily unavailable."
	}
}

// Diagnostic returns the full error chain for a collapsed details panel.
func (e *Error) Diagnostic() string { return e.Error() }

// Validation builds a local validation error; no request was sent.
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

// KindOf returns the Kind of err, or KindServer for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// AsError returns err as *Error, classifying unknown errors as transport failures.
func AsError(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return transportError(op, "", err)
}

// transportError classifies a failure that happened before any response arrived.
func transportError(op, endpoint string, err error) *Error {
	kind := KindNetwork
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &ne) && ne.Timeout():
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Endpoint: endpoint, Err: err}
}
