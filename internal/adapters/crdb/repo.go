package crdb

import (
	"context"
	_ "embed"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robertarktes/venue-reservations/internal/booking"
	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"

	maxTxAttempts = 5
)

//go:embed schema.sql
var schema string

type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

var _ booking.Store = (*Repository)(nil)

func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// WithTx runs fn in a SERIALIZABLE transaction and reruns it when
// CockroachDB reports a serialization conflict. fn must not keep state
// across attempts.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if attempt > 0 {
			observability.DBTxRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * 5 * time.Millisecond):
			}
		}
		err = r.runTx(ctx, fn)
		if pgCode(err) != SerializationFailureCode {
			return err
		}
	}
	return errors.Mark(errors.Wrapf(err, "gave up after %d attempts", maxTxAttempts), domain.ErrSerializationFailure)
}

func (r *Repository) runTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txStore{tx: tx, now: r.now}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const bookingColumns = `id, venue_id, owner_id, customer_id, status, dates_timings, pricing, currency,
	created_at, updated_at, payment_deadline, confirmed_at, cancelled_at, cancelled_by,
	payment_order_id, payment_id, version`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var cancelledBy string
	err := row.Scan(&b.ID, &b.VenueID, &b.OwnerID, &b.CustomerID, &b.Status, &b.DatesTimings, &b.Pricing, &b.Currency,
		&b.CreatedAt, &b.UpdatedAt, &b.PaymentDeadline, &b.ConfirmedAt, &b.CancelledAt, &cancelledBy,
		&b.PaymentOrderID, &b.PaymentID, &b.Version)
	if err != nil {
		return nil, err
	}
	b.CancelledBy = domain.Role(cancelledBy)
	return &b, nil
}

func (r *Repository) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get booking %s", id)
	}
	return b, nil
}

func (r *Repository) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status IN ('pending_payment', 'payment_failed') AND payment_deadline < $1
		ORDER BY payment_deadline ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query due bookings")
	}
	defer rows.Close()

	var due []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due booking")
		}
		due = append(due, b)
	}
	return due, rows.Err()
}

const holdColumns = `venue_id, day, booking_id, kind, expires_at, created_at`

func (r *Repository) queryHolds(ctx context.Context, sql string, args ...interface{}) ([]domain.AvailabilityHold, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query holds")
	}
	defer rows.Close()

	var holds []domain.AvailabilityHold
	for rows.Next() {
		var h domain.AvailabilityHold
		var day time.Time
		var kind string
		if err := rows.Scan(&h.VenueID, &day, &h.BookingID, &kind, &h.ExpiresAt, &h.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan hold")
		}
		h.Date = domain.DateOf(day)
		h.Kind = domain.HoldKind(kind)
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

func (r *Repository) HoldsForBooking(ctx context.Context, bookingID string) ([]domain.AvailabilityHold, error) {
	return r.queryHolds(ctx, `SELECT `+holdColumns+` FROM holds WHERE booking_id = $1 ORDER BY venue_id, day`, bookingID)
}

func (r *Repository) HoldsForVenue(ctx context.Context, venueID string, from, to domain.Date) ([]domain.AvailabilityHold, error) {
	return r.queryHolds(ctx, `
		SELECT `+holdColumns+` FROM holds
		WHERE venue_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day
	`, venueID, from.Time(), to.Time())
}

// txStore is the booking.Tx view of an open transaction.
type txStore struct {
	tx  pgx.Tx
	now func() time.Time
}

func (t *txStore) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get booking %s", id)
	}
	return b, nil
}

func (t *txStore) InsertBooking(ctx context.Context, b *domain.Booking) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, b.ID, b.VenueID, b.OwnerID, b.CustomerID, b.Status, b.DatesTimings, b.Pricing, b.Currency,
		b.CreatedAt, b.UpdatedAt, b.PaymentDeadline, b.ConfirmedAt, b.CancelledAt, string(b.CancelledBy),
		b.PaymentOrderID, b.PaymentID, b.Version)
	if pgCode(err) == UniqueViolationCode {
		return errors.Wrapf(domain.ErrInvalidInput, "booking %s already exists", b.ID)
	}
	return errors.Wrapf(err, "insert booking %s", b.ID)
}

func (t *txStore) UpdateBooking(ctx context.Context, b *domain.Booking, expected int64) error {
	res, err := t.tx.Exec(ctx, `
		UPDATE bookings SET
			status = $3, updated_at = $4, payment_deadline = $5, confirmed_at = $6, cancelled_at = $7,
			cancelled_by = $8, payment_order_id = $9, payment_id = $10, version = $2 + 1
		WHERE id = $1 AND version = $2
	`, b.ID, expected, b.Status, b.UpdatedAt, b.PaymentDeadline, b.ConfirmedAt, b.CancelledAt,
		string(b.CancelledBy), b.PaymentOrderID, b.PaymentID)
	if err != nil {
		return errors.Wrapf(err, "update booking %s", b.ID)
	}
	if res.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrStaleState, "booking %s no longer at version %d", b.ID, expected)
	}
	b.Version = expected + 1
	return nil
}

// TryHold claims each day with an upsert that only succeeds for a free day or
// one this booking already holds. Any miss fails the call and the caller's
// transaction rolls the other days back.
func (t *txStore) TryHold(ctx context.Context, venueID string, dates []domain.Date, bookingID string, expiresAt *time.Time) error {
	if len(dates) == 0 {
		return errors.Wrap(domain.ErrInvalidDate, "no dates to hold")
	}
	now := t.now().UTC()
	var taken []domain.Date
	for _, d := range dates {
		res, err := t.tx.Exec(ctx, `
			INSERT INTO holds (venue_id, day, booking_id, kind, expires_at, created_at)
			VALUES ($1, $2, $3, 'soft', $4, $5)
			ON CONFLICT (venue_id, day) DO UPDATE SET kind = 'soft', expires_at = excluded.expires_at
			WHERE holds.booking_id = excluded.booking_id
		`, venueID, d.Time(), bookingID, expiresAt, now)
		if err != nil {
			return errors.Wrapf(err, "hold %s %s", venueID, d)
		}
		if res.RowsAffected() == 0 {
			taken = append(taken, d)
		}
	}
	if len(taken) > 0 {
		return &domain.ConflictError{VenueID: venueID, Dates: taken}
	}
	return nil
}

func (t *txStore) SetHoldExpiry(ctx context.Context, bookingID string, expiresAt time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE holds SET expires_at = $2 WHERE booking_id = $1 AND kind = 'soft'`, bookingID, expiresAt)
	return errors.Wrapf(err, "set hold expiry for %s", bookingID)
}

func (t *txStore) PromoteHolds(ctx context.Context, bookingID string) error {
	res, err := t.tx.Exec(ctx, `UPDATE holds SET kind = 'confirmed', expires_at = NULL WHERE booking_id = $1`, bookingID)
	if err != nil {
		return errors.Wrapf(err, "promote holds for %s", bookingID)
	}
	if res.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrHoldNotFound, "booking %s", bookingID)
	}
	return nil
}

func (t *txStore) ReleaseHolds(ctx context.Context, bookingID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM holds WHERE booking_id = $1`, bookingID)
	return errors.Wrapf(err, "release holds for %s", bookingID)
}
