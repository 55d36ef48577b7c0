// Package sweeper cancels unpaid orders whose payment window has closed,
// releasing their reservations and coupon slots.
package sweeper

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/owlsmarket/order-core/internal/orders"
)

type Sweeper struct {
	DB     *pgxpool.Pool
	Repo   *orders.Repo
	Orders *orders.Orchestrator
	Log    *logrus.Logger

	Interval time.Duration
	TTL      time.Duration
	Batch    int
}

// IsExpired reports whether an order created at createdAt has outlived the
// payment window at the given instant.
func IsExpired(createdAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(createdAt) > ttl
}

// Run ticks until the context ends. Each pass scans a bounded batch; each
// order is expired in its own transaction so one failure never blocks the
// rest of the batch.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.Log.WithFields(logrus.Fields{"interval": s.Interval, "ttl": s.TTL}).Info("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.Log.Info("sweeper stopped")
			return nil
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.TTL)
	ids, err := s.Repo.ExpiredPendingIDs(ctx, s.DB, cutoff, s.Batch)
	if err != nil {
		s.Log.WithError(err).Error("expired order scan failed")
		return
	}
	if len(ids) == 0 {
		return
	}

	var done int
	for _, id := range ids {
		if err := s.Orders.ExpireStale(ctx, id, cutoff); err != nil {
			s.Log.WithError(err).WithField("order_id", id).Error("expire failed, skipping")
			continue
		}
		done++
	}
	s.Log.WithFields(logrus.Fields{"scanned": len(ids), "expired": done}).Info("sweep pass done")
}
