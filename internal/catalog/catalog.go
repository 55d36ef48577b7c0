// Package catalog is the read-only lookup side the pipeline needs from
// product and vendor data: live prices and commission rates.
package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/owlsmarket/order-core/internal/apperr"
)

type Store struct {
	DB *pgxpool.Pool
}

// CurrentUnitPrice returns the live price in minor units. A variant price
// overrides the product price when set.
func (s *Store) CurrentUnitPrice(ctx context.Context, productID, variantID string) (int64, error) {
	var price int64
	var err error
	if variantID != "" {
		err = s.DB.QueryRow(ctx, `
			SELECT COALESCE(v.price, p.price)
			FROM product_variants v
			JOIN products p ON p.id = v.product_id
			WHERE v.id=$1 AND v.product_id=$2 AND p.is_active`, variantID, productID).Scan(&price)
	} else {
		err = s.DB.QueryRow(ctx, `
			SELECT price FROM products WHERE id=$1 AND is_active`, productID).Scan(&price)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.Validationf("product %s is not available", productID)
	}
	return price, err
}

// CommissionBps returns the vendor's commission in basis points.
func (s *Store) CommissionBps(ctx context.Context, vendorID string) (int64, error) {
	var bps int64
	err := s.DB.QueryRow(ctx, `
		SELECT commission_rate_bps FROM vendors WHERE id=$1 AND is_active`, vendorID).Scan(&bps)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.Validationf("vendor %s is not active", vendorID)
	}
	return bps, err
}
