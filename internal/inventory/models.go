package inventory

import "time"

type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
	MovementReserved   MovementType = "reserved"
	MovementReleased   MovementType = "released"
	MovementReturned   MovementType = "returned"
)

// Movement is one append-only ledger entry. Quantity is signed: reservations
// and stock-in are positive, releases and stock-out negative, adjustments
// carry the delta. reserved/released never touch Row.Quantity, only
// Row.Reserved.
type Movement struct {
	ID            string
	InventoryID   string
	Type          MovementType
	Quantity      int64
	ReferenceType string // "order", "sub_order", "refund", "manual"
	ReferenceID   string
	Note          string
	CreatedAt     time.Time
}

type Row struct {
	ID       string
	Quantity int64
	Reserved int64
}

// Available is what new orders can still reserve.
func (r Row) Available() int64 { return r.Quantity - r.Reserved }
