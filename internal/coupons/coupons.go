// Package coupons validates discount codes and owns the usage counter. The
// counter increment is a single conditional UPDATE so two concurrent
// checkouts can never both pass the cap.
package coupons

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/owlsmarket/order-core/internal/apperr"
)

type DiscountType string

const (
	TypePercentage   DiscountType = "percentage"
	TypeFixed        DiscountType = "fixed"
	TypeFreeShipping DiscountType = "free_shipping"
)

type Coupon struct {
	ID           string
	Code         string
	Type         DiscountType
	Value        int64 // percent for percentage, minor units for fixed
	MaxDiscount  int64 // cap for percentage discounts, 0 = uncapped
	MinOrder     int64 // minimum subtotal in minor units, 0 = none
	UsageLimit   int64 // 0 = unlimited
	PerUserLimit int64
	UsedCount    int64
	RequiresLogin bool
	VendorID     string // empty = platform-wide
	Active       bool
	StartsAt     time.Time
	EndsAt       time.Time
}

// ValidAt checks temporal validity and the global counter snapshot. The
// counter is re-checked atomically in Consume; this is the cheap pre-check.
func (c Coupon) ValidAt(now time.Time) error {
	if !c.Active {
		return apperr.Conflictf("coupon %s is inactive", c.Code)
	}
	if now.Before(c.StartsAt) || now.After(c.EndsAt) {
		return apperr.Conflictf("coupon %s is outside its validity window", c.Code)
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return apperr.Conflictf("coupon %s has reached its usage limit", c.Code)
	}
	return nil
}

// Discount computes the discount for a subtotal, both in minor units.
func (c Coupon) Discount(subtotal int64) int64 {
	switch c.Type {
	case TypePercentage:
		d := subtotal * c.Value / 100
		if c.MaxDiscount > 0 && d > c.MaxDiscount {
			d = c.MaxDiscount
		}
		return d
	case TypeFixed:
		if c.Value > subtotal {
			return subtotal
		}
		return c.Value
	default: // free_shipping: handled on the shipping line, not here
		return 0
	}
}

// NormalizeEmail collapses guest email aliases so per-guest usage caps cannot
// be dodged with plus-addressing or gmail dots.
func NormalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	local, domain := email[:at], email[at+1:]
	if i := strings.Index(local, "+"); i >= 0 {
		local = local[:i]
	}
	if domain == "gmail.com" || domain == "googlemail.com" {
		local = strings.ReplaceAll(local, ".", "")
	}
	return local + "@" + domain
}

type Usage struct {
	ID         string
	CouponID   string
	UserID     string
	GuestEmail string
	OrderID    string
	Discount   int64
}

type Store struct {
	Log *logrus.Logger
}

func (s *Store) GetByCode(ctx context.Context, tx pgx.Tx, code string) (Coupon, error) {
	var c Coupon
	var typ string
	err := tx.QueryRow(ctx, `
		SELECT id, code, discount_type, discount_value, max_discount_amount, min_order_amount,
		       usage_limit, usage_limit_per_user, used_count, requires_login,
		       COALESCE(vendor_id,''), is_active, start_date, end_date
		FROM coupons WHERE code=$1`, code).Scan(
		&c.ID, &c.Code, &typ, &c.Value, &c.MaxDiscount, &c.MinOrder,
		&c.UsageLimit, &c.PerUserLimit, &c.UsedCount, &c.RequiresLogin,
		&c.VendorID, &c.Active, &c.StartsAt, &c.EndsAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Coupon{}, apperr.Conflictf("coupon %s does not exist", code)
	}
	if err != nil {
		return Coupon{}, err
	}
	c.Type = DiscountType(typ)
	return c, nil
}

// UsageCount returns prior uses by this identity (user id, or normalized
// guest email for guest checkout).
func (s *Store) UsageCount(ctx context.Context, tx pgx.Tx, couponID, userID, guestEmail string) (int64, error) {
	var n int64
	var err error
	if userID != "" {
		err = tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM coupon_usages WHERE coupon_id=$1 AND user_id=$2`,
			couponID, userID).Scan(&n)
	} else {
		err = tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM coupon_usages WHERE coupon_id=$1 AND guest_email=$2`,
			couponID, NormalizeEmail(guestEmail)).Scan(&n)
	}
	return n, err
}

// Consume is the conditional atomic increment: one round trip, succeeds only
// while used_count is below the limit. NULL/zero limit means unlimited.
func (s *Store) Consume(ctx context.Context, tx pgx.Tx, couponID string) error {
	ct, err := tx.Exec(ctx, `
		UPDATE coupons SET used_count = used_count + 1, updated_at = now()
		WHERE id=$1 AND (usage_limit = 0 OR used_count < usage_limit)`, couponID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.Conflictf("coupon usage limit reached")
	}
	return nil
}

// ReleaseSlot hands a consumed slot back when the order is cancelled or
// expires unpaid.
func (s *Store) ReleaseSlot(ctx context.Context, tx pgx.Tx, couponID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE coupons SET used_count = used_count - 1, updated_at = now()
		WHERE id=$1 AND used_count > 0`, couponID)
	return err
}

func (s *Store) RecordUsage(ctx context.Context, tx pgx.Tx, u Usage) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO coupon_usages(id, coupon_id, user_id, guest_email, order_id, discount_applied)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6)`,
		u.ID, u.CouponID, u.UserID, NormalizeEmail(u.GuestEmail), u.OrderID, u.Discount)
	return err
}

// ReleaseUsage drops the usage row tied to a cancelled order so the per-user
// cap does not count orders that never settled.
func (s *Store) ReleaseUsage(ctx context.Context, tx pgx.Tx, orderID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM coupon_usages WHERE order_id=$1`, orderID)
	return err
}
