package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/owlsmarket/order-core/internal/apperr"
	"github.com/owlsmarket/order-core/internal/inventory"
	"github.com/owlsmarket/order-core/internal/postgres"
)

type FulfillmentUpdate struct {
	SubOrderID string
	VendorID   string
	Next       Status
	Note       string
}

// UpdateSubOrderStatus moves one vendor's sub-order along confirmed ->
// processing -> shipped -> delivered. The parent order row is locked before
// the sub-order row so every writer agrees on the lock sequence. Shipping
// converts the reservation into a real stock decrement, delivery books the
// vendor balance and rolls the parent status up.
func (o *Orchestrator) UpdateSubOrderStatus(ctx context.Context, upd FulfillmentUpdate, holdDays int) error {
	var (
		parent Order
		sub    SubOrder
	)
	err := postgres.WithTx(ctx, o.DB, func(tx pgx.Tx) error {
		orderID, err := o.Repo.SubOrderParent(ctx, tx, upd.SubOrderID)
		if err != nil {
			return err
		}
		parent, err = o.Repo.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		sub, err = o.Repo.LockSubOrder(ctx, tx, upd.SubOrderID)
		if err != nil {
			return err
		}
		if upd.VendorID != "" && sub.VendorID != upd.VendorID {
			return apperr.ErrNotFound
		}
		if sub.Status == upd.Next {
			return apperr.ErrIdempotentNoop
		}
		if !CanTransition(sub.Status, upd.Next) {
			return apperr.Conflictf("sub-order %s cannot go %s -> %s", sub.Number, sub.Status, upd.Next)
		}
		if parent.PaymentStatus != PaymentPaid {
			return apperr.Conflictf("order %s is not paid yet", parent.Number)
		}

		now := time.Now().UTC()
		if err := o.Repo.SetSubOrderStatus(ctx, tx, sub.ID, upd.Next, now); err != nil {
			return err
		}
		if err := o.Repo.SetItemStatusForSubOrder(ctx, tx, sub.ID, upd.Next); err != nil {
			return err
		}

		switch upd.Next {
		case StatusShipped:
			if err := o.deductForSubOrder(ctx, tx, &sub); err != nil {
				return err
			}
		case StatusDelivered:
			amount := sub.Subtotal - sub.CommissionAmount
			if err := o.Repo.InsertVendorBalance(ctx, tx, VendorBalance{
				VendorID:    sub.VendorID,
				SubOrderID:  sub.ID,
				Amount:      amount,
				AvailableAt: now.Add(time.Duration(holdDays) * 24 * time.Hour),
			}); err != nil {
				return err
			}
		}

		subs, err := o.Repo.SubOrderStatuses(ctx, tx, parent.ID)
		if err != nil {
			return err
		}
		if next := RollupStatus(parent.Status, subs); next != parent.Status {
			if err := o.Repo.SetOrderStatus(ctx, tx, parent.ID, next, now); err != nil {
				return err
			}
			parent.Status = next
		}

		return o.Repo.InsertHistory(ctx, tx, StatusHistory{
			OrderID:    parent.ID,
			SubOrderID: sub.ID,
			Status:     string(upd.Next),
			Note:       upd.Note,
			CreatedBy:  "vendor:" + sub.VendorID,
		})
	})
	if errors.Is(err, apperr.ErrIdempotentNoop) {
		return nil
	}
	if err != nil {
		return err
	}

	o.cacheStatus(ctx, parent.ID, parent.Status)
	Emit(o.Events, TopicSubOrderStatus, NewEnvelope(EventSubOrderStatus, o.ServiceName, "", parent.ID,
		SubOrderStatusPayload{
			OrderID:    parent.ID,
			SubOrderID: sub.ID,
			VendorID:   sub.VendorID,
			Status:     string(upd.Next),
		}))
	return nil
}

// deductForSubOrder turns the reservations behind one sub-order's items into
// out movements, in inventory lock order.
func (o *Orchestrator) deductForSubOrder(ctx context.Context, tx pgx.Tx, sub *SubOrder) error {
	items, err := o.Repo.ItemsForSubOrder(ctx, tx, sub.ID)
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
		if err := o.Ledger.Deduct(ctx, tx, invID, totals[invID], "sub_order", sub.ID, "shipped"); err != nil {
			return err
		}
	}
	return nil
}
