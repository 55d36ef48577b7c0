package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/owlsmarket/order-core/internal/apperr"
)

type Repo struct {
	Log *logrus.Logger
}

const orderColumns = `
	id, order_number, COALESCE(user_id,''), COALESCE(guest_email,''),
	status, payment_status,
	subtotal, shipping_cost, discount_amount, tax_amount, total,
	COALESCE(coupon_id,''), COALESCE(coupon_code,''), payment_method,
	shipping_name, shipping_phone, shipping_address, shipping_province,
	shipping_ward, shipping_country, shipping_postal_code,
	customer_note, created_at, updated_at,
	confirmed_at, shipped_at, delivered_at, cancelled_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &o.GuestEmail,
		&o.Status, &o.PaymentStatus,
		&o.Subtotal, &o.ShippingCost, &o.Discount, &o.Tax, &o.Total,
		&o.CouponID, &o.CouponCode, &o.PaymentMethod,
		&o.Shipping.Name, &o.Shipping.Phone, &o.Shipping.Address, &o.Shipping.Province,
		&o.Shipping.Ward, &o.Shipping.Country, &o.Shipping.PostalCode,
		&o.CustomerNote, &o.CreatedAt, &o.UpdatedAt,
		&o.ConfirmedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt)
	return o, err
}

// LockOrder takes the row lock every writer (gateway, sweeper, cancel,
// fulfillment) agrees on before branching on order state.
func (r *Repo) LockOrder(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, apperr.ErrNotFound
	}
	return o, err
}

func (r *Repo) GetOrder(ctx context.Context, db *pgxpool.Pool, id string) (Order, error) {
	o, err := scanOrder(db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, apperr.ErrNotFound
	}
	return o, err
}

// InsertDraft persists the aggregate produced by BuildOrder plus the initial
// status-history entry, all on the caller's transaction.
func (r *Repo) InsertDraft(ctx context.Context, tx pgx.Tx, d *Draft, createdBy string) error {
	o := &d.Order
	_, err := tx.Exec(ctx, `
		INSERT INTO orders(
			id, order_number, user_id, guest_email, status, payment_status,
			subtotal, shipping_cost, discount_amount, tax_amount, total,
			coupon_id, coupon_code, payment_method,
			shipping_name, shipping_phone, shipping_address, shipping_province,
			shipping_ward, shipping_country, shipping_postal_code, customer_note)
		VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,
		        NULLIF($12,''),NULLIF($13,''),$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		o.ID, o.Number, o.UserID, o.GuestEmail, string(o.Status), string(o.PaymentStatus),
		o.Subtotal, o.ShippingCost, o.Discount, o.Tax, o.Total,
		o.CouponID, o.CouponCode, o.PaymentMethod,
		o.Shipping.Name, o.Shipping.Phone, o.Shipping.Address, o.Shipping.Province,
		o.Shipping.Ward, o.Shipping.Country, o.Shipping.PostalCode, o.CustomerNote)
	if err != nil {
		return err
	}

	for i := range d.SubOrders {
		s := &d.SubOrders[i]
		if _, err := tx.Exec(ctx, `
			INSERT INTO sub_orders(
				id, order_id, vendor_id, sub_order_number, status,
				subtotal, shipping_cost, total, commission_rate_bps, commission_amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			s.ID, s.OrderID, s.VendorID, s.Number, string(s.Status),
			s.Subtotal, s.ShippingCost, s.Total, s.CommissionBps, s.CommissionAmount); err != nil {
			return err
		}
	}

	for i := range d.Items {
		it := &d.Items[i]
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(
				id, order_id, sub_order_id, vendor_id, product_id, variant_id, inventory_id,
				product_name, product_sku, variant_name,
				quantity, unit_price, total_price, commission_rate_bps, commission_amount, status)
			VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			it.ID, it.OrderID, it.SubOrderID, it.VendorID, it.ProductID, it.VariantID, it.InventoryID,
			it.ProductName, it.ProductSKU, it.VariantName,
			it.Quantity, it.UnitPrice, it.TotalPrice, it.CommissionBps, it.CommissionAmount,
			string(it.Status)); err != nil {
			return err
		}
	}

	return r.InsertHistory(ctx, tx, StatusHistory{
		OrderID:   o.ID,
		Status:    string(StatusPending),
		Note:      "Order created",
		CreatedBy: createdBy,
	})
}

func (r *Repo) InsertHistory(ctx context.Context, tx pgx.Tx, h StatusHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history(id, order_id, sub_order_id, status, note, created_by)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6)`,
		h.ID, h.OrderID, h.SubOrderID, h.Status, h.Note, h.CreatedBy)
	return err
}

func (r *Repo) ItemsForOrder(ctx context.Context, tx pgx.Tx, orderID string) ([]OrderItem, error) {
	return r.queryItems(ctx, tx, `WHERE order_id=$1`, orderID)
}

func (r *Repo) ItemsForSubOrder(ctx context.Context, tx pgx.Tx, subOrderID string) ([]OrderItem, error) {
	return r.queryItems(ctx, tx, `WHERE sub_order_id=$1`, subOrderID)
}

func (r *Repo) queryItems(ctx context.Context, tx pgx.Tx, where string, arg any) ([]OrderItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, order_id, sub_order_id, vendor_id, product_id, COALESCE(variant_id,''),
		       inventory_id, product_name, product_sku, variant_name,
		       quantity, unit_price, total_price, commission_rate_bps, commission_amount, status
		FROM order_items `+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		var st string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.SubOrderID, &it.VendorID, &it.ProductID,
			&it.VariantID, &it.InventoryID, &it.ProductName, &it.ProductSKU, &it.VariantName,
			&it.Quantity, &it.UnitPrice, &it.TotalPrice, &it.CommissionBps, &it.CommissionAmount, &st); err != nil {
			return nil, err
		}
		it.Status = Status(st)
		out = append(out, it)
	}
	return out, rows.Err()
}

// CountPendingForUser backs the per-user concurrent pending-order cap.
func (r *Repo) CountPendingForUser(ctx context.Context, tx pgx.Tx, userID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders WHERE user_id=$1 AND status=$2`,
		userID, string(StatusPending)).Scan(&n)
	return n, err
}

func (r *Repo) SetOrderStatus(ctx context.Context, tx pgx.Tx, orderID string, s Status, at time.Time) error {
	col := ""
	switch s {
	case StatusConfirmed:
		col = ", confirmed_at=$3"
	case StatusShipped:
		col = ", shipped_at=$3"
	case StatusDelivered:
		col = ", delivered_at=$3"
	case StatusCancelled:
		col = ", cancelled_at=$3"
	}
	args := []any{orderID, string(s)}
	if col != "" {
		args = append(args, at)
	}
	_, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now()`+col+` WHERE id=$1`, args...)
	return err
}

func (r *Repo) SetPaymentStatus(ctx context.Context, tx pgx.Tx, orderID string, ps PaymentStatus) error {
	_, err := tx.Exec(ctx, `UPDATE orders SET payment_status=$2, updated_at=now() WHERE id=$1`,
		orderID, string(ps))
	return err
}

func (r *Repo) SetItemStatusForOrder(ctx context.Context, tx pgx.Tx, orderID string, s Status) error {
	_, err := tx.Exec(ctx, `UPDATE order_items SET status=$2 WHERE order_id=$1`, orderID, string(s))
	return err
}

func (r *Repo) SetItemStatusForSubOrder(ctx context.Context, tx pgx.Tx, subOrderID string, s Status) error {
	_, err := tx.Exec(ctx, `UPDATE order_items SET status=$2 WHERE sub_order_id=$1`, subOrderID, string(s))
	return err
}

const subOrderColumns = `
	id, order_id, vendor_id, sub_order_number, status,
	subtotal, shipping_cost, total, commission_rate_bps, commission_amount,
	COALESCE(vendor_note,''), created_at, updated_at,
	confirmed_at, shipped_at, delivered_at, cancelled_at`

func scanSubOrder(row pgx.Row) (SubOrder, error) {
	var s SubOrder
	var st string
	err := row.Scan(&s.ID, &s.OrderID, &s.VendorID, &s.Number, &st,
		&s.Subtotal, &s.ShippingCost, &s.Total, &s.CommissionBps, &s.CommissionAmount,
		&s.VendorNote, &s.CreatedAt, &s.UpdatedAt,
		&s.ConfirmedAt, &s.ShippedAt, &s.DeliveredAt, &s.CancelledAt)
	s.Status = Status(st)
	return s, err
}

func (r *Repo) LockSubOrder(ctx context.Context, tx pgx.Tx, id string) (SubOrder, error) {
	s, err := scanSubOrder(tx.QueryRow(ctx, `SELECT `+subOrderColumns+` FROM sub_orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SubOrder{}, apperr.ErrNotFound
	}
	return s, err
}

// SubOrderParent resolves the parent order id without locking; the order row
// is then locked first to keep the order->sub_order lock sequence global.
func (r *Repo) SubOrderParent(ctx context.Context, tx pgx.Tx, subOrderID string) (string, error) {
	var orderID string
	err := tx.QueryRow(ctx, `SELECT order_id FROM sub_orders WHERE id=$1`, subOrderID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.ErrNotFound
	}
	return orderID, err
}

func (r *Repo) SetSubOrderStatus(ctx context.Context, tx pgx.Tx, subOrderID string, s Status, at time.Time) error {
	col := ""
	switch s {
	case StatusConfirmed:
		col = ", confirmed_at=$3"
	case StatusShipped:
		col = ", shipped_at=$3"
	case StatusDelivered:
		col = ", delivered_at=$3"
	case StatusCancelled:
		col = ", cancelled_at=$3"
	}
	args := []any{subOrderID, string(s)}
	if col != "" {
		args = append(args, at)
	}
	_, err := tx.Exec(ctx, `UPDATE sub_orders SET status=$2, updated_at=now()`+col+` WHERE id=$1`, args...)
	return err
}

// SetSubOrderStatusForOrder moves every sub-order of an order at once, used
// when the whole order flips (payment confirmation).
func (r *Repo) SetSubOrderStatusForOrder(ctx context.Context, tx pgx.Tx, orderID string, s Status, at time.Time) error {
	col := ""
	switch s {
	case StatusConfirmed:
		col = ", confirmed_at=$3"
	case StatusCancelled:
		col = ", cancelled_at=$3"
	}
	args := []any{orderID, string(s)}
	if col != "" {
		args = append(args, at)
	}
	_, err := tx.Exec(ctx, `UPDATE sub_orders SET status=$2, updated_at=now()`+col+` WHERE order_id=$1`, args...)
	return err
}

func (r *Repo) SubOrderStatuses(ctx context.Context, tx pgx.Tx, orderID string) ([]Status, error) {
	rows, err := tx.Query(ctx, `SELECT status FROM sub_orders WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Status
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, Status(s))
	}
	return out, rows.Err()
}

// ExpiredPendingIDs lists orders the sweeper should look at. The sweeper
// re-checks each one under its own row lock before acting.
func (r *Repo) ExpiredPendingIDs(ctx context.Context, db *pgxpool.Pool, cutoff time.Time, limit int) ([]string, error) {
	rows, err := db.Query(ctx, `
		SELECT id FROM orders
		WHERE status=$1 AND payment_status=$2 AND created_at < $3
		ORDER BY created_at
		LIMIT $4`,
		string(StatusPending), string(PaymentPending), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repo) InsertVendorBalance(ctx context.Context, tx pgx.Tx, vb VendorBalance) error {
	if vb.ID == "" {
		vb.ID = uuid.NewString()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO vendor_balances(id, vendor_id, sub_order_id, amount, available_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (sub_order_id) DO NOTHING`,
		vb.ID, vb.VendorID, vb.SubOrderID, vb.Amount, vb.AvailableAt)
	return err
}
