package refunds

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/owlsmarket/order-core/internal/apperr"
)

func TestPolicyNextDelayGrowsAndCaps(t *testing.T) {
	p := Policy{MaxAttempts: 5, Base: time.Minute, Max: 15 * time.Minute}

	prevFloor := time.Duration(0)
	for attempt := 0; attempt < 6; attempt++ {
		d := p.NextDelay(attempt)

		floor := p.Base << attempt
		if floor > p.Max {
			floor = p.Max
		}
		ceil := floor + floor/4
		if d < floor || d > ceil {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, d, floor, ceil)
		}
		if floor < prevFloor {
			t.Errorf("attempt %d: floor shrank", attempt)
		}
		prevFloor = floor
	}

	if d := p.NextDelay(20); d > p.Max+p.Max/4 {
		t.Errorf("large attempt must stay near cap, got %v", d)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient gateway sentinel", fmt.Errorf("%w: http 503", apperr.ErrTransientGateway), true},
		{"permanent gateway sentinel", fmt.Errorf("%w: code 91", apperr.ErrPermanentGateway), false},
		{"deadline", context.DeadlineExceeded, true},
		{"net timeout", timeoutErr{}, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Transient(tc.err); got != tc.want {
				t.Errorf("Transient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestMaxRefundable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		captured, refunded, want int64
	}{
		{100_000, 0, 100_000},
		{100_000, 40_000, 60_000},
		{100_000, 100_000, 0},
		{100_000, 120_000, 0},
	}
	for _, tc := range cases {
		if got := MaxRefundable(tc.captured, tc.refunded); got != tc.want {
			t.Errorf("MaxRefundable(%d, %d) = %d, want %d", tc.captured, tc.refunded, got, tc.want)
		}
	}
}
