// Package inventory owns stock counters and the movement ledger. Counter
// mutation and ledger append always happen in the caller's transaction, and
// multi-row locking always goes through LockRows so every call site (order
// create, cancel, sweeper, vendor shipment, refund restock) takes row locks
// in the same ascending order.
package inventory

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/owlsmarket/order-core/internal/apperr"
)

type Ledger struct {
	Log *logrus.Logger
}

// LockOrder returns the distinct ids sorted ascending. Lock acquisition in
// this order across all transactions rules out lock cycles.
func LockOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SignedQuantity maps a movement type plus a positive magnitude onto the
// signed value persisted in the ledger.
func SignedQuantity(t MovementType, qty int64) int64 {
	if qty < 0 {
		qty = -qty
	}
	switch t {
	case MovementOut, MovementReleased:
		return -qty
	default:
		return qty
	}
}

// LockRows locks the given inventory rows FOR UPDATE in ascending id order
// and returns their current counters.
func (l *Ledger) LockRows(ctx context.Context, tx pgx.Tx, ids []string) (map[string]Row, error) {
	rows := make(map[string]Row, len(ids))
	for _, id := range LockOrder(ids) {
		var r Row
		err := tx.QueryRow(ctx, `
			SELECT id, quantity, reserved_quantity
			FROM inventory WHERE id=$1 FOR UPDATE`, id).Scan(&r.ID, &r.Quantity, &r.Reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Validationf("inventory %s not found", id)
		}
		if err != nil {
			return nil, err
		}
		rows[r.ID] = r
	}
	return rows, nil
}

// Reserve places a hold for a pending order. Stock itself is untouched.
// Caller must already hold the row lock via LockRows.
func (l *Ledger) Reserve(ctx context.Context, tx pgx.Tx, invID string, qty int64, refType, refID, note string) error {
	ct, err := tx.Exec(ctx, `
		UPDATE inventory SET reserved_quantity = reserved_quantity + $2, updated_at = now()
		WHERE id=$1 AND quantity - reserved_quantity >= $2`, invID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.Conflictf("insufficient stock for inventory %s", invID)
	}
	return l.append(ctx, tx, invID, MovementReserved, qty, refType, refID, note)
}

// Release returns a hold without touching stock (cancel / expiry).
func (l *Ledger) Release(ctx context.Context, tx pgx.Tx, invID string, qty int64, refType, refID, note string) error {
	ct, err := tx.Exec(ctx, `
		UPDATE inventory SET reserved_quantity = reserved_quantity - $2, updated_at = now()
		WHERE id=$1 AND reserved_quantity >= $2`, invID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.Conflictf("release exceeds reservation for inventory %s", invID)
	}
	return l.append(ctx, tx, invID, MovementReleased, qty, refType, refID, note)
}

// Deduct converts a reservation into an actual stock decrement at shipment.
func (l *Ledger) Deduct(ctx context.Context, tx pgx.Tx, invID string, qty int64, refType, refID, note string) error {
	ct, err := tx.Exec(ctx, `
		UPDATE inventory
		SET quantity = quantity - $2, reserved_quantity = reserved_quantity - $2, updated_at = now()
		WHERE id=$1 AND reserved_quantity >= $2 AND quantity >= $2`, invID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.Conflictf("deduct exceeds reserved stock for inventory %s", invID)
	}
	return l.append(ctx, tx, invID, MovementOut, qty, refType, refID, note)
}

// Restock puts returned goods back after a refund of shipped items.
func (l *Ledger) Restock(ctx context.Context, tx pgx.Tx, invID string, qty int64, refType, refID, note string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE inventory SET quantity = quantity + $2, updated_at = now()
		WHERE id=$1`, invID, qty); err != nil {
		return err
	}
	return l.append(ctx, tx, invID, MovementReturned, qty, refType, refID, note)
}

// StockIn records received stock.
func (l *Ledger) StockIn(ctx context.Context, tx pgx.Tx, invID string, qty int64, refType, refID, note string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE inventory SET quantity = quantity + $2, updated_at = now()
		WHERE id=$1`, invID, qty); err != nil {
		return err
	}
	return l.append(ctx, tx, invID, MovementIn, qty, refType, refID, note)
}

// Adjust sets the absolute stock level (manual correction). The ledger entry
// carries the delta so the log still sums. New level may not cut under the
// outstanding reservations.
func (l *Ledger) Adjust(ctx context.Context, tx pgx.Tx, invID string, newQty int64, refID, note string) error {
	rows, err := l.LockRows(ctx, tx, []string{invID})
	if err != nil {
		return err
	}
	cur := rows[invID]
	if newQty < cur.Reserved {
		return apperr.Conflictf("adjustment below reserved quantity for inventory %s", invID)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE inventory SET quantity = $2, updated_at = now() WHERE id=$1`, invID, newQty); err != nil {
		return err
	}
	m := Movement{
		ID:            uuid.NewString(),
		InventoryID:   invID,
		Type:          MovementAdjustment,
		Quantity:      newQty - cur.Quantity,
		ReferenceType: "manual",
		ReferenceID:   refID,
		Note:          note,
	}
	return l.insert(ctx, tx, m)
}

func (l *Ledger) append(ctx context.Context, tx pgx.Tx, invID string, t MovementType, qty int64, refType, refID, note string) error {
	return l.insert(ctx, tx, Movement{
		ID:            uuid.NewString(),
		InventoryID:   invID,
		Type:          t,
		Quantity:      SignedQuantity(t, qty),
		ReferenceType: refType,
		ReferenceID:   refID,
		Note:          note,
	})
}

func (l *Ledger) insert(ctx context.Context, tx pgx.Tx, m Movement) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO inventory_movements(id, inventory_id, movement_type, quantity, reference_type, reference_id, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.InventoryID, string(m.Type), m.Quantity, m.ReferenceType, m.ReferenceID, m.Note)
	return err
}

// MovementsFor lists the ledger entries behind one reference, newest first.
func (l *Ledger) MovementsFor(ctx context.Context, tx pgx.Tx, refType, refID string) ([]Movement, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, inventory_id, movement_type, quantity, reference_type, reference_id, note, created_at
		FROM inventory_movements
		WHERE reference_type=$1 AND reference_id=$2
		ORDER BY created_at DESC`, refType, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var m Movement
		var t string
		if err := rows.Scan(&m.ID, &m.InventoryID, &t, &m.Quantity, &m.ReferenceType, &m.ReferenceID, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(t)
		out = append(out, m)
	}
	return out, rows.Err()
}
