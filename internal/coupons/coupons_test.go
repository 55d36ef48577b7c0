package coupons

import (
	"errors"
	"testing"
	"time"

	"github.com/owlsmarket/order-core/internal/apperr"
)

func validCoupon() Coupon {
	return Coupon{
		ID:       "c-1",
		Code:     "SUMMER10",
		Type:     TypePercentage,
		Value:    10,
		Active:   true,
		StartsAt: time.Now().Add(-time.Hour),
		EndsAt:   time.Now().Add(time.Hour),
	}
}

func TestValidAt(t *testing.T) {
	t.Parallel()

	now := time.Now()

	c := validCoupon()
	if err := c.ValidAt(now); err != nil {
		t.Fatalf("valid coupon rejected: %v", err)
	}

	inactive := validCoupon()
	inactive.Active = false
	if err := inactive.ValidAt(now); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("inactive coupon: got %v, want conflict", err)
	}

	expired := validCoupon()
	expired.EndsAt = now.Add(-time.Minute)
	if err := expired.ValidAt(now); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expired coupon: got %v, want conflict", err)
	}

	notYet := validCoupon()
	notYet.StartsAt = now.Add(time.Minute)
	if err := notYet.ValidAt(now); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("future coupon: got %v, want conflict", err)
	}

	exhausted := validCoupon()
	exhausted.UsageLimit = 5
	exhausted.UsedCount = 5
	if err := exhausted.ValidAt(now); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("exhausted coupon: got %v, want conflict", err)
	}

	unlimited := validCoupon()
	unlimited.UsageLimit = 0
	unlimited.UsedCount = 1_000_000
	if err := unlimited.ValidAt(now); err != nil {
		t.Errorf("unlimited coupon rejected: %v", err)
	}
}

func TestDiscount(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		coupon   Coupon
		subtotal int64
		want     int64
	}{
		{"percentage", Coupon{Type: TypePercentage, Value: 10}, 200000, 20000},
		{"percentage capped", Coupon{Type: TypePercentage, Value: 50, MaxDiscount: 30000}, 200000, 30000},
		{"percentage under cap", Coupon{Type: TypePercentage, Value: 10, MaxDiscount: 30000}, 200000, 20000},
		{"fixed", Coupon{Type: TypeFixed, Value: 15000}, 200000, 15000},
		{"fixed clamped to subtotal", Coupon{Type: TypeFixed, Value: 250000}, 200000, 200000},
		{"free shipping is zero here", Coupon{Type: TypeFreeShipping, Value: 1}, 200000, 0},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			if got := c.coupon.Discount(c.subtotal); got != c.want {
				t.Errorf("Discount(%d) = %d, want %d", c.subtotal, got, c.want)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"Alice@Example.com", "alice@example.com"},
		{"alice+promo@example.com", "alice@example.com"},
		{"a.l.i.c.e@gmail.com", "alice@gmail.com"},
		{"a.l.i.c.e+x@googlemail.com", "alice@googlemail.com"},
		{"dots.kept@example.com", "dots.kept@example.com"},
		{"not-an-email", "not-an-email"},
		{"  padded@example.com ", "padded@example.com"},
	}
	for _, c := range cases {
		if got := NormalizeEmail(c.in); got != c.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
