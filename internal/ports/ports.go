// Package ports holds the narrow interfaces to external collaborators. The
// pipeline never reaches into catalog/cart/vendor storage directly.
package ports

import "context"

// CartItem is the checkout snapshot of one cart line. UnitPrice is the price
// the customer saw; the orchestrator re-verifies it against the catalog.
type CartItem struct {
	ProductID   string
	VariantID   string // empty when the product has no variants
	VendorID    string
	InventoryID string
	Name        string
	SKU         string
	VariantName string
	Quantity    int64
	UnitPrice   int64 // minor currency units
}

type CartService interface {
	GetCart(ctx context.Context, ref string) ([]CartItem, error)
	ClearCart(ctx context.Context, ref string) error
}

type Catalog interface {
	// CurrentUnitPrice returns the live catalog price in minor units.
	CurrentUnitPrice(ctx context.Context, productID, variantID string) (int64, error)
}

type VendorDirectory interface {
	// CommissionBps returns the platform commission for a vendor in basis
	// points (1000 = 10%).
	CommissionBps(ctx context.Context, vendorID string) (int64, error)
}
