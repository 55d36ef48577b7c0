package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/owlsmarket/order-core/internal/apperr"
	"github.com/owlsmarket/order-core/internal/coupons"
	"github.com/owlsmarket/order-core/internal/ports"
)

var checkoutNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func baseInput() CheckoutInput {
	items := []ports.CartItem{
		{ProductID: "p1", VendorID: "vend-a", InventoryID: "inv1", Name: "Mug", SKU: "MUG-1", Quantity: 2, UnitPrice: 50_000},
		{ProductID: "p2", VariantID: "v1", VendorID: "vend-b", InventoryID: "inv2", Name: "Shirt", VariantName: "L", SKU: "SHT-1-L", Quantity: 1, UnitPrice: 120_000},
	}
	return CheckoutInput{
		Items: items,
		CurrentPrices: map[string]int64{
			PriceKey("p1", ""):   50_000,
			PriceKey("p2", "v1"): 120_000,
		},
		Available:     map[string]int64{"inv1": 10, "inv2": 5},
		CommissionBps: map[string]int64{"vend-a": 1000, "vend-b": 500},
		UserID:        "user-1",
		Shipping:      ShippingInfo{Name: "Ana", Address: "Jl. Melati 5"},
		PaymentMethod: "gateway",
		ShippingFlat:  30_000,
		Now:           checkoutNow,
	}
}

func TestBuildOrderTotals(t *testing.T) {
	d, err := BuildOrder(baseInput())
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	o := d.Order
	if o.Subtotal != 220_000 {
		t.Errorf("subtotal = %d, want 220000", o.Subtotal)
	}
	if o.Total != o.Subtotal+o.ShippingCost+o.Tax-o.Discount {
		t.Errorf("total %d violates subtotal+shipping+tax-discount", o.Total)
	}
	if o.Status != StatusPending || o.PaymentStatus != PaymentPending {
		t.Errorf("new order must start pending/pending, got %s/%s", o.Status, o.PaymentStatus)
	}
}

func TestBuildOrderVendorSplit(t *testing.T) {
	d, err := BuildOrder(baseInput())
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	if len(d.SubOrders) != 2 {
		t.Fatalf("sub-orders = %d, want 2", len(d.SubOrders))
	}
	if d.SubOrders[0].VendorID != "vend-a" || d.SubOrders[1].VendorID != "vend-b" {
		t.Errorf("vendor order not preserved: %s, %s", d.SubOrders[0].VendorID, d.SubOrders[1].VendorID)
	}
	a := d.SubOrders[0]
	if a.Subtotal != 100_000 {
		t.Errorf("vend-a subtotal = %d, want 100000", a.Subtotal)
	}
	if a.CommissionAmount != 10_000 {
		t.Errorf("vend-a commission = %d, want 10000 (10%% of 100000)", a.CommissionAmount)
	}

	var sum int64
	for _, s := range d.SubOrders {
		sum += s.Subtotal
	}
	if sum != d.Order.Subtotal {
		t.Errorf("sub-order subtotals sum %d != order subtotal %d", sum, d.Order.Subtotal)
	}
	for _, it := range d.Items {
		if it.SubOrderID == "" {
			t.Errorf("item %s not attached to a sub-order", it.ProductID)
		}
	}
}

func TestBuildOrderPriceDriftListsEveryItem(t *testing.T) {
	in := baseInput()
	in.CurrentPrices[PriceKey("p1", "")] = 55_000
	in.CurrentPrices[PriceKey("p2", "v1")] = 110_000

	_, err := BuildOrder(in)
	var drift *PriceDriftError
	if !errors.As(err, &drift) {
		t.Fatalf("want PriceDriftError, got %v", err)
	}
	if len(drift.Items) != 2 {
		t.Errorf("drift items = %d, want 2 (all drifted lines reported at once)", len(drift.Items))
	}
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("price drift must map to conflict")
	}
}

func TestBuildOrderInsufficientStock(t *testing.T) {
	in := baseInput()
	in.Available["inv1"] = 1

	_, err := BuildOrder(in)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("want conflict for short stock, got %v", err)
	}
}

func TestBuildOrderAggregatesDuplicateInventoryLines(t *testing.T) {
	in := baseInput()
	// Two cart lines draw on the same inventory row; the check must see 4.
	in.Items = append(in.Items, ports.CartItem{
		ProductID: "p1", VendorID: "vend-a", InventoryID: "inv1",
		Name: "Mug", SKU: "MUG-1", Quantity: 2, UnitPrice: 50_000,
	})
	in.Available["inv1"] = 3

	_, err := BuildOrder(in)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("want conflict when aggregated need exceeds stock, got %v", err)
	}

	in.Available["inv1"] = 4
	if _, err := BuildOrder(in); err != nil {
		t.Fatalf("want success at exact stock, got %v", err)
	}
}

func TestBuildOrderCoupon(t *testing.T) {
	percent := &coupons.Coupon{
		ID: "c1", Code: "SAVE10", Type: coupons.TypePercentage, Value: 10,
		Active: true, StartsAt: checkoutNow.Add(-time.Hour), EndsAt: checkoutNow.Add(time.Hour),
	}

	t.Run("percentage", func(t *testing.T) {
		in := baseInput()
		in.Coupon = percent
		d, err := BuildOrder(in)
		if err != nil {
			t.Fatalf("BuildOrder: %v", err)
		}
		if d.Order.Discount != 22_000 {
			t.Errorf("discount = %d, want 22000", d.Order.Discount)
		}
		if d.Order.Total != 220_000+30_000-22_000 {
			t.Errorf("total = %d", d.Order.Total)
		}
	})

	t.Run("free shipping zeroes the shipping line", func(t *testing.T) {
		in := baseInput()
		in.Coupon = &coupons.Coupon{
			ID: "c2", Code: "FREESHIP", Type: coupons.TypeFreeShipping,
			Active: true, StartsAt: checkoutNow.Add(-time.Hour), EndsAt: checkoutNow.Add(time.Hour),
		}
		d, err := BuildOrder(in)
		if err != nil {
			t.Fatalf("BuildOrder: %v", err)
		}
		if d.Order.ShippingCost != 0 || d.Order.Discount != 0 {
			t.Errorf("shipping=%d discount=%d, want 0/0", d.Order.ShippingCost, d.Order.Discount)
		}
	})

	t.Run("vendor-scoped free shipping keeps shipping on a mixed order", func(t *testing.T) {
		in := baseInput()
		in.Coupon = &coupons.Coupon{
			ID: "c6", Code: "VENDASHIP", Type: coupons.TypeFreeShipping, VendorID: "vend-a",
			Active: true, StartsAt: checkoutNow.Add(-time.Hour), EndsAt: checkoutNow.Add(time.Hour),
		}
		d, err := BuildOrder(in)
		if err != nil {
			t.Fatalf("BuildOrder: %v", err)
		}
		if d.Order.ShippingCost != 30_000 {
			t.Errorf("shipping = %d, want 30000; other vendors still ship", d.Order.ShippingCost)
		}
	})

	t.Run("vendor-scoped free shipping waives it when the whole order is that vendor", func(t *testing.T) {
		in := baseInput()
		in.Items = in.Items[:1] // only the vend-a line
		in.Coupon = &coupons.Coupon{
			ID: "c6", Code: "VENDASHIP", Type: coupons.TypeFreeShipping, VendorID: "vend-a",
			Active: true, StartsAt: checkoutNow.Add(-time.Hour), EndsAt: checkoutNow.Add(time.Hour),
		}
		d, err := BuildOrder(in)
		if err != nil {
			t.Fatalf("BuildOrder: %v", err)
		}
		if d.Order.ShippingCost != 0 {
			t.Errorf("shipping = %d, want 0", d.Order.ShippingCost)
		}
	})

	t.Run("min order not met", func(t *testing.T) {
		in := baseInput()
		c := *percent
		c.MinOrder = 500_000
		in.Coupon = &c
		if _, err := BuildOrder(in); !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("want conflict, got %v", err)
		}
	})

	t.Run("per-user limit exhausted", func(t *testing.T) {
		in := baseInput()
		c := *percent
		c.PerUserLimit = 2
		in.Coupon = &c
		in.PriorCouponUses = 2
		if _, err := BuildOrder(in); !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("want conflict, got %v", err)
		}
	})

	t.Run("vendor-scoped coupon discounts only that vendor", func(t *testing.T) {
		in := baseInput()
		c := *percent
		c.VendorID = "vend-a" // vend-a subtotal is 100000
		in.Coupon = &c
		d, err := BuildOrder(in)
		if err != nil {
			t.Fatalf("BuildOrder: %v", err)
		}
		if d.Order.Discount != 10_000 {
			t.Errorf("discount = %d, want 10000 (10%% of vendor subtotal)", d.Order.Discount)
		}
	})

	t.Run("vendor-scoped coupon with no matching items", func(t *testing.T) {
		in := baseInput()
		c := *percent
		c.VendorID = "vend-z"
		in.Coupon = &c
		if _, err := BuildOrder(in); !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("want conflict, got %v", err)
		}
	})

	t.Run("requires login rejects guests", func(t *testing.T) {
		in := baseInput()
		in.UserID = ""
		in.GuestEmail = "ana@example.com"
		c := *percent
		c.RequiresLogin = true
		in.Coupon = &c
		if _, err := BuildOrder(in); !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("want conflict, got %v", err)
		}
	})
}

func TestBuildOrderValidation(t *testing.T) {
	t.Run("empty cart", func(t *testing.T) {
		in := baseInput()
		in.Items = nil
		if _, err := BuildOrder(in); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("want validation error, got %v", err)
		}
	})
	t.Run("no identity", func(t *testing.T) {
		in := baseInput()
		in.UserID = ""
		if _, err := BuildOrder(in); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("want validation error, got %v", err)
		}
	})
	t.Run("zero quantity", func(t *testing.T) {
		in := baseInput()
		in.Items[0].Quantity = 0
		if _, err := BuildOrder(in); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("want validation error, got %v", err)
		}
	})
	t.Run("delisted product", func(t *testing.T) {
		in := baseInput()
		delete(in.CurrentPrices, PriceKey("p2", "v1"))
		if _, err := BuildOrder(in); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("want validation error, got %v", err)
		}
	})
}

func TestBuildOrderNormalizesGuestEmail(t *testing.T) {
	in := baseInput()
	in.UserID = ""
	in.GuestEmail = "Ana.Lim+promo@Gmail.com"
	d, err := BuildOrder(in)
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	if d.Order.GuestEmail != "analim@gmail.com" {
		t.Errorf("guest email = %q, want normalized analim@gmail.com", d.Order.GuestEmail)
	}
}
