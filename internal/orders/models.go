package orders

import (
	"math/rand"
	"strings"
	"time"
)

// Order is the aggregate root. All money fields are minor currency units and
// computed server-side only. Invariant: Total = Subtotal + ShippingCost +
// Tax - Discount.
type Order struct {
	ID         string
	Number     string
	UserID     string // empty for guest checkout
	GuestEmail string // normalized, set for guest checkout

	Status        Status
	PaymentStatus PaymentStatus

	Subtotal     int64
	ShippingCost int64
	Discount     int64
	Tax          int64
	Total        int64

	CouponID      string
	CouponCode    string
	PaymentMethod string

	Shipping     ShippingInfo
	CustomerNote string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
}

type ShippingInfo struct {
	Name       string
	Phone      string
	Address    string
	Province   string
	Ward       string
	Country    string
	PostalCode string
}

// OrderItem is an immutable snapshot of product/variant/price/vendor taken at
// order time. Later catalog changes never touch it.
type OrderItem struct {
	ID          string
	OrderID     string
	SubOrderID  string
	VendorID    string
	ProductID   string
	VariantID   string
	InventoryID string

	ProductName string
	ProductSKU  string
	VariantName string

	Quantity   int64
	UnitPrice  int64
	TotalPrice int64

	CommissionBps    int64
	CommissionAmount int64

	Status Status
}

// SubOrder is one vendor's slice of an Order with its own status timeline.
type SubOrder struct {
	ID       string
	OrderID  string
	VendorID string
	Number   string

	Status Status

	Subtotal     int64
	ShippingCost int64
	Total        int64

	CommissionBps    int64
	CommissionAmount int64

	VendorNote string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
}

type StatusHistory struct {
	ID         string
	OrderID    string
	SubOrderID string // empty for order-level entries
	Status     string
	Note       string
	CreatedBy  string // user id or "system"
	CreatedAt  time.Time
}

// VendorBalance is the amount owed to a vendor for a delivered sub-order,
// held until AvailableAt to absorb late refunds.
type VendorBalance struct {
	ID          string
	VendorID    string
	SubOrderID  string
	Amount      int64
	AvailableAt time.Time
	CreatedAt   time.Time
}

const orderNumberPrefix = "OWL"

var numberAlphabet = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// NewOrderNumber returns OWL + 8 random chars. Uniqueness is enforced by the
// DB constraint; collisions just retry at the insert.
func NewOrderNumber() string {
	var b strings.Builder
	b.WriteString(orderNumberPrefix)
	for i := 0; i < 8; i++ {
		b.WriteByte(numberAlphabet[rand.Intn(len(numberAlphabet))])
	}
	return b.String()
}

// SubOrderNumber derives the per-vendor number: OWLABC12DEF-V001.
func SubOrderNumber(orderNumber, vendorID string) string {
	code := strings.ToUpper(vendorID)
	if len(code) > 4 {
		code = code[:4]
	}
	return orderNumber + "-" + code
}
