// Package apperr defines the error taxonomy shared by the order pipeline.
// Every mutating flow maps its failures onto one of these sentinels so that
// handlers and workers agree on retry/abort semantics.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation: malformed input, rejected before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrConflict: insufficient stock, price drift, exhausted coupon. The
	// whole transaction aborted, nothing was written.
	ErrConflict = errors.New("conflict")
	// ErrRateLimited: checkout abuse cap hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrIdempotentNoop: duplicate webhook or already-settled refund; the
	// prior outcome stands.
	ErrIdempotentNoop = errors.New("already processed")
	// ErrTransientGateway: network/timeout on an outbound call, retryable.
	ErrTransientGateway = errors.New("transient gateway error")
	// ErrPermanentGateway: business rejection from the gateway, not retried.
	ErrPermanentGateway = errors.New("gateway rejected")
	// ErrInvariant: state that must never auto-resolve, e.g. payment
	// confirmed for a cancelled order. Always paired with an operator alert.
	ErrInvariant = errors.New("invariant violation")
	ErrNotFound  = errors.New("not found")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func RateLimitedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRateLimited, fmt.Sprintf(format, args...))
}

func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrIdempotentNoop):
		return "idempotent_noop"
	case errors.Is(err, ErrTransientGateway):
		return "transient_gateway"
	case errors.Is(err, ErrPermanentGateway):
		return "permanent_gateway"
	case errors.Is(err, ErrInvariant):
		return "invariant_violation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, ErrConflict):
		return http.StatusConflict

	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests

	case errors.Is(err, ErrIdempotentNoop):
		return http.StatusOK

	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrTransientGateway),
		errors.Is(err, ErrPermanentGateway):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
