package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/owlsmarket/order-core/internal/apperr"
	"github.com/owlsmarket/order-core/internal/coupons"
	"github.com/owlsmarket/order-core/internal/inventory"
	"github.com/owlsmarket/order-core/internal/postgres"
	"github.com/owlsmarket/order-core/internal/ports"
	"github.com/owlsmarket/order-core/internal/redisx"
)

// Orchestrator drives the checkout pipeline: abuse caps, cart snapshot
// verification, pricing, coupon consumption, sub-order split and stock
// reservation in one transaction, then events after commit.
type Orchestrator struct {
	DB      *pgxpool.Pool
	Repo    *Repo
	Ledger  *inventory.Ledger
	Coupons *coupons.Store
	Cart    ports.CartService
	Catalog ports.Catalog
	Vendors ports.VendorDirectory
	Redis   *redis.Client
	Events  Publisher
	Log     *logrus.Logger

	ServiceName string

	MaxPendingPerUser int
	MaxGuestOrders24h int64
	MaxOrdersPerIP1h  int64

	ShippingFlat int64
	TaxRateBps   int64
}

type CreateOrderRequest struct {
	CartRef    string
	UserID     string
	GuestEmail string
	ClientIP   string

	Shipping      ShippingInfo
	CouponCode    string
	PaymentMethod string
	CustomerNote  string
}

func (o *Orchestrator) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if req.CartRef == "" {
		return nil, apperr.Validationf("cart_ref is required")
	}
	if req.UserID == "" && req.GuestEmail == "" {
		return nil, apperr.Validationf("either user_id or guest_email is required")
	}
	if req.Shipping.Name == "" || req.Shipping.Address == "" {
		return nil, apperr.Validationf("shipping name and address are required")
	}

	if err := o.checkAbuseCaps(ctx, req); err != nil {
		return nil, err
	}

	items, err := o.Cart.GetCart(ctx, req.CartRef)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperr.Validationf("cart is empty")
	}

	// Live prices and commission rates are read outside the transaction;
	// stock availability is read inside, under the row locks.
	prices := make(map[string]int64, len(items))
	commissions := map[string]int64{}
	for _, it := range items {
		k := PriceKey(it.ProductID, it.VariantID)
		if _, ok := prices[k]; !ok {
			p, err := o.Catalog.CurrentUnitPrice(ctx, it.ProductID, it.VariantID)
			if err != nil {
				return nil, err
			}
			prices[k] = p
		}
		if _, ok := commissions[it.VendorID]; !ok {
			bps, err := o.Vendors.CommissionBps(ctx, it.VendorID)
			if err != nil {
				return nil, err
			}
			commissions[it.VendorID] = bps
		}
	}

	var draft *Draft
	err = postgres.WithTx(ctx, o.DB, func(tx pgx.Tx) error {
		if req.UserID != "" && o.MaxPendingPerUser > 0 {
			n, err := o.Repo.CountPendingForUser(ctx, tx, req.UserID)
			if err != nil {
				return err
			}
			if n >= o.MaxPendingPerUser {
				return apperr.RateLimitedf("too many unpaid orders, complete or cancel one first")
			}
		}

		invIDs := make([]string, 0, len(items))
		for _, it := range items {
			invIDs = append(invIDs, it.InventoryID)
		}
		locked, err := o.Ledger.LockRows(ctx, tx, invIDs)
		if err != nil {
			return err
		}
		available := make(map[string]int64, len(locked))
		for id, r := range locked {
			available[id] = r.Available()
		}

		in := CheckoutInput{
			Items:         items,
			CurrentPrices: prices,
			Available:     available,
			CommissionBps: commissions,
			UserID:        req.UserID,
			GuestEmail:    req.GuestEmail,
			Shipping:      req.Shipping,
			PaymentMethod: req.PaymentMethod,
			CustomerNote:  req.CustomerNote,
			ShippingFlat:  o.ShippingFlat,
			TaxRateBps:    o.TaxRateBps,
			Now:           time.Now().UTC(),
		}
		if req.CouponCode != "" {
			c, err := o.Coupons.GetByCode(ctx, tx, req.CouponCode)
			if err != nil {
				return err
			}
			uses, err := o.Coupons.UsageCount(ctx, tx, c.ID, req.UserID, req.GuestEmail)
			if err != nil {
				return err
			}
			in.Coupon = &c
			in.PriorCouponUses = uses
		}

		draft, err = BuildOrder(in)
		if err != nil {
			return err
		}

		if in.Coupon != nil {
			if err := o.Coupons.Consume(ctx, tx, in.Coupon.ID); err != nil {
				return err
			}
			if err := o.Coupons.RecordUsage(ctx, tx, coupons.Usage{
				CouponID:   in.Coupon.ID,
				UserID:     req.UserID,
				GuestEmail: req.GuestEmail,
				OrderID:    draft.Order.ID,
				Discount:   draft.Order.Discount,
			}); err != nil {
				return err
			}
		}

		actor := req.UserID
		if actor == "" {
			actor = "guest"
		}
		if err := o.Repo.InsertDraft(ctx, tx, draft, actor); err != nil {
			return err
		}

		// Reservation per aggregated inventory id, in lock order.
		totals := map[string]int64{}
		for _, it := range draft.Items {
			totals[it.InventoryID] += it.Quantity
		}
		for _, invID := range inventory.LockOrder(invIDs) {
			qty := totals[invID]
			if qty == 0 {
				continue
			}
			if err := o.Ledger.Reserve(ctx, tx, invID, qty, "order", draft.Order.ID, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Best effort after commit. The order stands even if these fail.
	if err := o.Cart.ClearCart(ctx, req.CartRef); err != nil {
		o.Log.WithError(err).WithField("cart_ref", req.CartRef).Warn("clear cart failed")
	}
	o.bumpAbuseCounters(ctx, req)
	o.cacheStatus(ctx, draft.Order.ID, draft.Order.Status)

	Emit(o.Events, TopicOrderCreated, NewEnvelope(EventOrderCreated, o.ServiceName, "", draft.Order.ID,
		OrderCreatedPayload{
			OrderID:    draft.Order.ID,
			Number:     draft.Order.Number,
			UserID:     draft.Order.UserID,
			GuestEmail: draft.Order.GuestEmail,
			Total:      draft.Order.Total,
			SubOrders:  len(draft.SubOrders),
		}))

	o.Log.WithFields(logrus.Fields{
		"order_id": draft.Order.ID,
		"number":   draft.Order.Number,
		"total":    draft.Order.Total,
		"vendors":  len(draft.SubOrders),
	}).Info("order created")
	return &draft.Order, nil
}

// OverCap reports whether a window counter has used up its cap. Cap <= 0
// means unlimited.
func OverCap(count, cap int64) bool {
	return cap > 0 && count >= cap
}

// checkAbuseCaps only reads the counters. They count created orders, so the
// increment happens after the order transaction commits; a failed checkout
// burns no quota.
func (o *Orchestrator) checkAbuseCaps(ctx context.Context, req CreateOrderRequest) error {
	if req.UserID == "" && o.MaxGuestOrders24h > 0 {
		key := fmt.Sprintf(redisx.KeyGuestOrders, coupons.NormalizeEmail(req.GuestEmail))
		n, err := o.Redis.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			o.Log.WithError(err).Warn("guest cap check skipped, redis unavailable")
		} else if OverCap(n, o.MaxGuestOrders24h) {
			return apperr.RateLimitedf("too many guest orders for this email, try again later")
		}
	}
	if req.ClientIP != "" && o.MaxOrdersPerIP1h > 0 {
		key := fmt.Sprintf(redisx.KeyIPOrders, req.ClientIP)
		n, err := o.Redis.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			o.Log.WithError(err).Warn("ip cap check skipped, redis unavailable")
		} else if OverCap(n, o.MaxOrdersPerIP1h) {
			return apperr.RateLimitedf("too many orders from this address, try again later")
		}
	}
	return nil
}

func (o *Orchestrator) bumpAbuseCounters(ctx context.Context, req CreateOrderRequest) {
	if req.UserID == "" && o.MaxGuestOrders24h > 0 {
		key := fmt.Sprintf(redisx.KeyGuestOrders, coupons.NormalizeEmail(req.GuestEmail))
		if _, err := redisx.IncrWindow(ctx, o.Redis, key, redisx.TTLGuestWindow); err != nil {
			o.Log.WithError(err).Warn("guest order counter bump failed")
		}
	}
	if req.ClientIP != "" && o.MaxOrdersPerIP1h > 0 {
		key := fmt.Sprintf(redisx.KeyIPOrders, req.ClientIP)
		if _, err := redisx.IncrWindow(ctx, o.Redis, key, redisx.TTLIPWindow); err != nil {
			o.Log.WithError(err).Warn("ip order counter bump failed")
		}
	}
}

// CancelOrder is the customer/admin path. Orders past confirmation are not
// cancellable here; the money already moved, so that goes through refunds.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, actor, reason string) error {
	var cancelled Order
	err := postgres.WithTx(ctx, o.DB, func(tx pgx.Tx) error {
		ord, err := o.Repo.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if ord.Status == StatusCancelled {
			return apperr.ErrIdempotentNoop
		}
		if !Cancellable(ord.Status) {
			return apperr.Conflictf("order %s cannot be cancelled in status %s", ord.Number, ord.Status)
		}
		if err := o.cancelLocked(ctx, tx, &ord, actor, reason); err != nil {
			return err
		}
		cancelled = ord
		return nil
	})
	if errors.Is(err, apperr.ErrIdempotentNoop) {
		o.Log.WithField("order_id", orderID).Info("cancel noop, already cancelled")
		return nil
	}
	if err != nil {
		return err
	}

	o.cacheStatus(ctx, cancelled.ID, StatusCancelled)
	Emit(o.Events, TopicOrderCancelled, NewEnvelope(EventOrderCancelled, o.ServiceName, "", cancelled.ID,
		OrderStatusPayload{OrderID: cancelled.ID, Number: cancelled.Number, Status: string(StatusCancelled), Reason: reason}))
	return nil
}

// ExpireStale cancels one stale unpaid order on behalf of the sweeper. State
// is re-checked under the row lock: a payment may have confirmed the order
// between the scan and this call.
func (o *Orchestrator) ExpireStale(ctx context.Context, orderID string, cutoff time.Time) error {
	var expired Order
	err := postgres.WithTx(ctx, o.DB, func(tx pgx.Tx) error {
		ord, err := o.Repo.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if ord.Status != StatusPending || ord.PaymentStatus != PaymentPending || !ord.CreatedAt.Before(cutoff) {
			return apperr.ErrIdempotentNoop
		}
		if err := o.cancelLocked(ctx, tx, &ord, "system", "payment window expired"); err != nil {
			return err
		}
		expired = ord
		return nil
	})
	if errors.Is(err, apperr.ErrIdempotentNoop) {
		return nil
	}
	if err != nil {
		return err
	}

	o.cacheStatus(ctx, expired.ID, StatusCancelled)
	Emit(o.Events, TopicOrderCancelled, NewEnvelope(EventOrderCancelled, o.ServiceName, "", expired.ID,
		OrderStatusPayload{OrderID: expired.ID, Number: expired.Number, Status: string(StatusCancelled), Reason: "expired"}))
	return nil
}

// cancelLocked releases every reservation and coupon slot and marks the order
// cancelled. Caller holds the order row lock and owns the transaction.
func (o *Orchestrator) cancelLocked(ctx context.Context, tx pgx.Tx, ord *Order, actor, reason string) error {
	items, err := o.Repo.ItemsForOrder(ctx, tx, ord.ID)
	if err != nil {
		return err
	}
	totals := map[string]int64{}
	invIDs := make([]string, 0, len(items))
	for _, it := range items {
		if totals[it.InventoryID] == 0 {
			invIDs = append(invIDs, it.InventoryID)
		}
		totals[it.InventoryID] += it.Quantity
	}
	if _, err := o.Ledger.LockRows(ctx, tx, invIDs); err != nil {
		return err
	}
	for _, invID := range inventory.LockOrder(invIDs) {
		if err := o.Ledger.Release(ctx, tx, invID, totals[invID], "order", ord.ID, reason); err != nil {
			return err
		}
	}

	if ord.CouponID != "" {
		if err := o.Coupons.ReleaseSlot(ctx, tx, ord.CouponID); err != nil {
			return err
		}
		if err := o.Coupons.ReleaseUsage(ctx, tx, ord.ID); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	if err := o.Repo.SetOrderStatus(ctx, tx, ord.ID, StatusCancelled, now); err != nil {
		return err
	}
	if err := o.Repo.SetItemStatusForOrder(ctx, tx, ord.ID, StatusCancelled); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE sub_orders SET status=$2, cancelled_at=$3, updated_at=now()
		WHERE order_id=$1 AND status NOT IN ('cancelled')`,
		ord.ID, string(StatusCancelled), now); err != nil {
		return err
	}
	return o.Repo.InsertHistory(ctx, tx, StatusHistory{
		OrderID: ord.ID, Status: string(StatusCancelled), Note: reason, CreatedBy: actor,
	})
}

// GetOrder serves the read path: redis status cache first for the hot field,
// then the row itself.
func (o *Orchestrator) GetOrder(ctx context.Context, orderID string) (Order, error) {
	ord, err := o.Repo.GetOrder(ctx, o.DB, orderID)
	if err != nil {
		return Order{}, err
	}
	return ord, nil
}

// CachedStatus returns the order status from redis when present, falling back
// to the DB. Misses repopulate the cache.
func (o *Orchestrator) CachedStatus(ctx context.Context, orderID string) (Status, error) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if v, err := o.Redis.Get(ctx, key).Result(); err == nil && v != "" {
		return Status(v), nil
	}
	ord, err := o.Repo.GetOrder(ctx, o.DB, orderID)
	if err != nil {
		return "", err
	}
	o.cacheStatus(ctx, orderID, ord.Status)
	return ord.Status, nil
}

func (o *Orchestrator) cacheStatus(ctx context.Context, orderID string, s Status) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if err := o.Redis.Set(ctx, key, string(s), redisx.TTLStatusCache).Err(); err != nil {
		o.Log.WithError(err).WithField("order_id", orderID).Warn("status cache write failed")
	}
}
