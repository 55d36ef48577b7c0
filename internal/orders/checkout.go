package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/owlsmarket/order-core/internal/apperr"
	"github.com/owlsmarket/order-core/internal/coupons"
	"github.com/owlsmarket/order-core/internal/ports"
)

// CheckoutInput carries everything BuildOrder needs, already fetched: the
// cart snapshot, live catalog prices, locked inventory availability, the
// resolved coupon and vendor commission rates. BuildOrder itself touches no
// I/O so the whole pricing/splitting path is deterministic.
type CheckoutInput struct {
	Items []ports.CartItem

	// CurrentPrices: live catalog price per PriceKey(product, variant).
	CurrentPrices map[string]int64
	// Available: available quantity per inventory id, read under row lock.
	Available map[string]int64
	// CommissionBps per vendor id.
	CommissionBps map[string]int64

	Coupon          *coupons.Coupon
	PriorCouponUses int64

	UserID     string
	GuestEmail string

	Shipping      ShippingInfo
	PaymentMethod string
	CustomerNote  string

	ShippingFlat int64
	TaxRateBps   int64

	Now time.Time
}

// Draft is the fully-priced aggregate ready to be persisted and reserved in
// one transaction.
type Draft struct {
	Order     Order
	Items     []OrderItem
	SubOrders []SubOrder
}

func PriceKey(productID, variantID string) string {
	if variantID == "" {
		return productID
	}
	return productID + "|" + variantID
}

// PriceDrift describes one cart line whose snapshot price no longer matches
// the catalog.
type PriceDrift struct {
	ProductID    string
	VariantID    string
	CartPrice    int64
	CurrentPrice int64
}

// PriceDriftError aborts the whole checkout: the customer re-confirms the new
// prices, we never silently re-price and charge the difference.
type PriceDriftError struct {
	Items []PriceDrift
}

func (e *PriceDriftError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, d := range e.Items {
		parts = append(parts, fmt.Sprintf("%s: %d -> %d", PriceKey(d.ProductID, d.VariantID), d.CartPrice, d.CurrentPrice))
	}
	return "price changed for " + strings.Join(parts, ", ")
}

func (e *PriceDriftError) Unwrap() error { return apperr.ErrConflict }

// BuildOrder validates the snapshot against live prices and stock, prices the
// order from server-side data only, applies the coupon and splits per-vendor
// sub-orders. Any failure returns before anything is produced.
func BuildOrder(in CheckoutInput) (*Draft, error) {
	if len(in.Items) == 0 {
		return nil, apperr.Validationf("cart is empty")
	}
	if in.UserID == "" && in.GuestEmail == "" {
		return nil, apperr.Validationf("order needs a user or a guest email")
	}

	var drift []PriceDrift
	needed := map[string]int64{} // inventory id -> total requested qty
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, apperr.Validationf("invalid quantity for product %s", it.ProductID)
		}
		cur, ok := in.CurrentPrices[PriceKey(it.ProductID, it.VariantID)]
		if !ok {
			return nil, apperr.Validationf("product %s is no longer available", it.ProductID)
		}
		if cur != it.UnitPrice {
			drift = append(drift, PriceDrift{
				ProductID: it.ProductID, VariantID: it.VariantID,
				CartPrice: it.UnitPrice, CurrentPrice: cur,
			})
		}
		needed[it.InventoryID] += it.Quantity
	}
	if len(drift) > 0 {
		return nil, &PriceDriftError{Items: drift}
	}

	for invID, qty := range needed {
		if in.Available[invID] < qty {
			return nil, apperr.Conflictf("insufficient stock for inventory %s: want %d, have %d",
				invID, qty, in.Available[invID])
		}
	}

	var subtotal int64
	for _, it := range in.Items {
		subtotal += it.UnitPrice * it.Quantity
	}

	shipping := in.ShippingFlat
	var discount int64
	var couponID, couponCode string
	if c := in.Coupon; c != nil {
		if err := c.ValidAt(in.Now); err != nil {
			return nil, err
		}
		if c.RequiresLogin && in.UserID == "" {
			return nil, apperr.Conflictf("coupon %s requires a logged-in account", c.Code)
		}
		// Vendor-scoped coupons discount only that vendor's items.
		base := subtotal
		if c.VendorID != "" {
			base = 0
			for _, it := range in.Items {
				if it.VendorID == c.VendorID {
					base += it.UnitPrice * it.Quantity
				}
			}
			if base == 0 {
				return nil, apperr.Conflictf("coupon %s does not apply to any item in this order", c.Code)
			}
		}
		if c.MinOrder > 0 && base < c.MinOrder {
			return nil, apperr.Conflictf("coupon %s needs a minimum order of %d", c.Code, c.MinOrder)
		}
		if c.PerUserLimit > 0 && in.PriorCouponUses >= c.PerUserLimit {
			return nil, apperr.Conflictf("coupon %s already used the maximum number of times", c.Code)
		}
		discount = c.Discount(base)
		// Shipping is a single order-level fee. A vendor-scoped coupon only
		// waives it when every item belongs to that vendor; on a mixed order
		// the other vendors' parcels still have to ship.
		if c.Type == coupons.TypeFreeShipping && (c.VendorID == "" || base == subtotal) {
			shipping = 0
		}
		couponID, couponCode = c.ID, c.Code
	}

	tax := subtotal * in.TaxRateBps / 10000

	now := in.Now
	order := Order{
		ID:            uuid.NewString(),
		Number:        NewOrderNumber(),
		UserID:        in.UserID,
		GuestEmail:    coupons.NormalizeEmail(in.GuestEmail),
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		Subtotal:      subtotal,
		ShippingCost:  shipping,
		Discount:      discount,
		Tax:           tax,
		Total:         subtotal + shipping + tax - discount,
		CouponID:      couponID,
		CouponCode:    couponCode,
		PaymentMethod: in.PaymentMethod,
		Shipping:      in.Shipping,
		CustomerNote:  in.CustomerNote,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Split per vendor, preserving first-seen vendor order.
	var vendorSeq []string
	byVendor := map[string]*SubOrder{}
	for _, it := range in.Items {
		if _, ok := byVendor[it.VendorID]; !ok {
			vendorSeq = append(vendorSeq, it.VendorID)
			byVendor[it.VendorID] = &SubOrder{
				ID:            uuid.NewString(),
				OrderID:       order.ID,
				VendorID:      it.VendorID,
				Number:        SubOrderNumber(order.Number, it.VendorID),
				Status:        StatusPending,
				CommissionBps: in.CommissionBps[it.VendorID],
				CreatedAt:     now,
				UpdatedAt:     now,
			}
		}
	}

	items := make([]OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		sub := byVendor[it.VendorID]
		lineTotal := it.UnitPrice * it.Quantity
		items = append(items, OrderItem{
			ID:               uuid.NewString(),
			OrderID:          order.ID,
			SubOrderID:       sub.ID,
			VendorID:         it.VendorID,
			ProductID:        it.ProductID,
			VariantID:        it.VariantID,
			InventoryID:      it.InventoryID,
			ProductName:      it.Name,
			ProductSKU:       it.SKU,
			VariantName:      it.VariantName,
			Quantity:         it.Quantity,
			UnitPrice:        it.UnitPrice,
			TotalPrice:       lineTotal,
			CommissionBps:    sub.CommissionBps,
			CommissionAmount: lineTotal * sub.CommissionBps / 10000,
			Status:           StatusPending,
		})
		sub.Subtotal += lineTotal
	}

	subOrders := make([]SubOrder, 0, len(vendorSeq))
	for _, v := range vendorSeq {
		sub := byVendor[v]
		sub.Total = sub.Subtotal + sub.ShippingCost
		sub.CommissionAmount = sub.Subtotal * sub.CommissionBps / 10000
		subOrders = append(subOrders, *sub)
	}

	return &Draft{Order: order, Items: items, SubOrders: subOrders}, nil
}
