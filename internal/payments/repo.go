package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/owlsmarket/order-core/internal/apperr"
)

type Repo struct {
	Log *logrus.Logger
}

const paymentColumns = `
	id, order_id, transaction_ref, amount, refunded_amount, currency, method,
	status, COALESCE(gateway_txn_id,''), COALESCE(failure_reason,''),
	paid_at, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var st string
	err := row.Scan(&p.ID, &p.OrderID, &p.TransactionRef, &p.Amount, &p.RefundedAmount,
		&p.Currency, &p.Method, &st, &p.GatewayTxnID, &p.FailureReason,
		&p.PaidAt, &p.CreatedAt, &p.UpdatedAt)
	p.Status = Status(st)
	return p, err
}

func (r *Repo) Insert(ctx context.Context, tx pgx.Tx, p Payment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payments(id, order_id, transaction_ref, amount, currency, method, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.OrderID, p.TransactionRef, p.Amount, p.Currency, p.Method, string(p.Status))
	return err
}

// LockByRef locks the payment addressed by a gateway notification.
func (r *Repo) LockByRef(ctx context.Context, tx pgx.Tx, transactionRef string) (Payment, error) {
	p, err := scanPayment(tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_ref=$1 FOR UPDATE`, transactionRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, apperr.ErrNotFound
	}
	return p, err
}

func (r *Repo) Lock(ctx context.Context, tx pgx.Tx, id string) (Payment, error) {
	p, err := scanPayment(tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, apperr.ErrNotFound
	}
	return p, err
}

func (r *Repo) MarkCompleted(ctx context.Context, tx pgx.Tx, id, gatewayTxnID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payments
		SET status=$2, gateway_txn_id=$3, paid_at=now(), updated_at=now()
		WHERE id=$1`, id, string(StatusCompleted), gatewayTxnID)
	return err
}

func (r *Repo) MarkFailed(ctx context.Context, tx pgx.Tx, id, reason string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payments SET status=$2, failure_reason=$3, updated_at=now()
		WHERE id=$1`, id, string(StatusFailed), reason)
	return err
}

func (r *Repo) SetStatus(ctx context.Context, tx pgx.Tx, id string, s Status) error {
	_, err := tx.Exec(ctx, `UPDATE payments SET status=$2, updated_at=now() WHERE id=$1`, id, string(s))
	return err
}

// AddRefunded accumulates a settled refund amount onto the payment.
func (r *Repo) AddRefunded(ctx context.Context, tx pgx.Tx, id string, amount int64) error {
	ct, err := tx.Exec(ctx, `
		UPDATE payments SET refunded_amount = refunded_amount + $2, updated_at=now()
		WHERE id=$1 AND refunded_amount + $2 <= amount`, id, amount)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.Conflictf("refund would exceed the captured amount")
	}
	return nil
}

// InsertWebhookEvent records a processed notification. Returns
// ErrIdempotentNoop when (source, gateway_txn_id) was already recorded, which
// is the duplicate-delivery signal.
func (r *Repo) InsertWebhookEvent(ctx context.Context, tx pgx.Tx, ev WebhookEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ct, err := tx.Exec(ctx, `
		INSERT INTO webhook_events(id, source, gateway_txn_id, payment_id, response_code, outcome)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (source, gateway_txn_id) DO NOTHING`,
		ev.ID, ev.Source, ev.GatewayTxnID, ev.PaymentID, ev.ResponseCode, ev.Outcome)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.ErrIdempotentNoop
	}
	return nil
}
