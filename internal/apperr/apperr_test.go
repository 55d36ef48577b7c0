package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrValidation, "validation"},
		{ErrConflict, "conflict"},
		{ErrRateLimited, "rate_limited"},
		{ErrIdempotentNoop, "idempotent_noop"},
		{ErrTransientGateway, "transient_gateway"},
		{ErrPermanentGateway, "permanent_gateway"},
		{ErrInvariant, "invariant_violation"},
		{ErrNotFound, "not_found"},
		{errors.New("boom"), "internal"},
		{fmt.Errorf("stock check: %w", ErrConflict), "conflict"},
	}
	for _, c := range cases {
		if got := Kind(c.err); got != c.want {
			t.Errorf("Kind(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{Validationf("missing cart ref"), http.StatusBadRequest},
		{Conflictf("price drift on %d items", 2), http.StatusConflict},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrIdempotentNoop, http.StatusOK},
		{ErrNotFound, http.StatusNotFound},
		{ErrTransientGateway, http.StatusBadGateway},
		{ErrPermanentGateway, http.StatusBadGateway},
		{ErrInvariant, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestWrappedSentinelsSurviveIs(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("coupon SUMMER10: %w", ErrConflict)
	if !errors.Is(err, ErrConflict) {
		t.Fatal("wrapped conflict no longer matches sentinel")
	}
}
