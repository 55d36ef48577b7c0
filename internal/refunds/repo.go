package refunds

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/owlsmarket/order-core/internal/apperr"
)

type Repo struct {
	Log *logrus.Logger
}

const ticketColumns = `
	id, payment_id, order_id, amount, reason, status,
	attempts, COALESCE(last_error,''), requested_by,
	created_at, updated_at, completed_at`

func scanTicket(row pgx.Row) (Ticket, error) {
	var t Ticket
	var st string
	err := row.Scan(&t.ID, &t.PaymentID, &t.OrderID, &t.Amount, &t.Reason, &st,
		&t.Attempts, &t.LastError, &t.RequestedBy,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	t.Status = TicketStatus(st)
	return t, err
}

func (r *Repo) Insert(ctx context.Context, tx pgx.Tx, t Ticket) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO refund_tickets(id, payment_id, order_id, amount, reason, status, requested_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.PaymentID, t.OrderID, t.Amount, t.Reason, string(t.Status), t.RequestedBy)
	return err
}

func (r *Repo) Lock(ctx context.Context, tx pgx.Tx, id string) (Ticket, error) {
	t, err := scanTicket(tx.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM refund_tickets WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Ticket{}, apperr.ErrNotFound
	}
	return t, err
}

// MarkProcessing bumps the attempt counter under the ticket lock.
func (r *Repo) MarkProcessing(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `
		UPDATE refund_tickets SET status=$2, attempts = attempts + 1, updated_at=now()
		WHERE id=$1`, id, string(TicketProcessing))
	return err
}

func (r *Repo) MarkCompleted(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `
		UPDATE refund_tickets SET status=$2, completed_at=now(), updated_at=now()
		WHERE id=$1`, id, string(TicketCompleted))
	return err
}

func (r *Repo) MarkFailed(ctx context.Context, tx pgx.Tx, id, lastError string) error {
	_, err := tx.Exec(ctx, `
		UPDATE refund_tickets SET status=$2, last_error=$3, updated_at=now()
		WHERE id=$1`, id, string(TicketFailed), lastError)
	return err
}

// OpenAmountFor sums the not-yet-settled tickets of a payment so a new
// request cannot over-commit the remaining refundable amount.
func (r *Repo) OpenAmountFor(ctx context.Context, tx pgx.Tx, paymentID string) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM refund_tickets
		WHERE payment_id=$1 AND status IN ('pending','processing')`, paymentID).Scan(&n)
	return n, err
}
