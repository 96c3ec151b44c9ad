package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/robertarktes/venue-reservations/internal/domain"
)

func (r *Repository) InsertOrder(ctx context.Context, o *domain.PaymentOrder) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_orders (id, booking_id, amount, currency, status, payment_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.BookingID, int64(o.Amount), o.Currency, string(o.Status), o.PaymentID, o.CreatedAt, o.UpdatedAt)
	if pgCode(err) == UniqueViolationCode {
		return errors.Wrapf(domain.ErrInvalidInput, "payment order %s already exists", o.ID)
	}
	return errors.Wrapf(err, "insert payment order %s", o.ID)
}

func (r *Repository) GetOrder(ctx context.Context, id string) (*domain.PaymentOrder, error) {
	var o domain.PaymentOrder
	var amount int64
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, booking_id, amount, currency, status, payment_id, created_at, updated_at
		FROM payment_orders WHERE id = $1
	`, id).Scan(&o.ID, &o.BookingID, &amount, &o.Currency, &status, &o.PaymentID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "payment order %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get payment order %s", id)
	}
	o.Amount = domain.Money(amount)
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

// UpdateOrderStatus keeps an existing payment id when paymentID is empty.
func (r *Repository) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, paymentID string, at time.Time) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE payment_orders
		SET status = $2, payment_id = IF($3 = '', payment_id, $3), updated_at = $4
		WHERE id = $1
	`, id, string(status), paymentID, at.UTC())
	if err != nil {
		return errors.Wrapf(err, "update payment order %s", id)
	}
	if res.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "payment order %s", id)
	}
	return nil
}
