package crdb_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/robertarktes/venue-reservations/internal/adapters/crdb"
	"github.com/robertarktes/venue-reservations/internal/adapters/memory"
	"github.com/robertarktes/venue-reservations/internal/booking"
	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/observability"
	"github.com/robertarktes/venue-reservations/internal/outbox"
)

func startCockroach(t *testing.T) *crdb.Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("cockroach container skipped in -short mode")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = crdbContainer.Terminate(ctx) })

	host, err := crdbContainer.Host(ctx)
	require.NoError(t, err)
	port, err := crdbContainer.MappedPort(ctx, "26257")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgresql://root@%s:%s/defaultdb?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := crdb.NewRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

func days(ds ...int) []domain.Date {
	out := make([]domain.Date, len(ds))
	for i, d := range ds {
		out[i] = domain.Date{Year: 2026, Month: time.December, Day: d}
	}
	return out
}

func TestRepository_Ledger(t *testing.T) {
	repo := startCockroach(t)
	ctx := context.Background()

	err := repo.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.TryHold(ctx, "venue-1", days(1, 2), "b-1", nil)
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.TryHold(ctx, "venue-1", days(2, 3), "b-2", nil)
	})
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, days(2), conflict.Dates)
	assert.True(t, errors.Is(err, domain.ErrDatesUnavailable))

	holds, err := repo.HoldsForVenue(ctx, "venue-1", days(1)[0], days(31)[0])
	require.NoError(t, err)
	require.Len(t, holds, 2, "the free day of a rejected request is not claimed")

	deadline := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.SetHoldExpiry(ctx, "b-1", deadline)
	}))
	holds, err = repo.HoldsForBooking(ctx, "b-1")
	require.NoError(t, err)
	require.NotNil(t, holds[0].ExpiresAt)
	assert.True(t, holds[0].ExpiresAt.Equal(deadline))

	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.PromoteHolds(ctx, "b-1")
	}))
	holds, err = repo.HoldsForBooking(ctx, "b-1")
	require.NoError(t, err)
	for _, h := range holds {
		assert.Equal(t, domain.HoldConfirmed, h.Kind)
		assert.Nil(t, h.ExpiresAt)
	}

	err = repo.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.PromoteHolds(ctx, "b-unknown")
	})
	assert.True(t, errors.Is(err, domain.ErrHoldNotFound))

	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		if err := tx.ReleaseHolds(ctx, "b-1"); err != nil {
			return err
		}
		return tx.ReleaseHolds(ctx, "b-1")
	}))
	holds, err = repo.HoldsForBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestRepository_EngineLifecycle(t *testing.T) {
	repo := startCockroach(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	owner := domain.Actor{ID: "owner-1", Role: domain.RoleOwner}
	catalog := memory.NewCatalog(domain.Venue{ID: "venue-1", OwnerID: owner.ID, PricePerDay: 45000, Currency: "INR"})
	engine := booking.NewEngine(repo, catalog, booking.Options{Clock: clock, Logger: observability.NewNopLogger()})

	inquiry := booking.Inquiry{
		VenueID: "venue-1",
		DatesTimings: []domain.DateTiming{
			{Date: days(20)[0], TimeFrom: 600, TimeTo: 1320},
			{Date: days(21)[0], TimeFrom: 600, TimeTo: 1320},
		},
	}

	var winners atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		customer := domain.Actor{ID: fmt.Sprintf("cust-%d", i), Role: domain.RoleCustomer}
		g.Go(func() error {
			_, err := engine.CreateInquiry(ctx, customer, inquiry)
			if err == nil {
				winners.Add(1)
				return nil
			}
			if errors.IsAny(err, domain.ErrDatesUnavailable, domain.ErrSerializationFailure) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), winners.Load())

	holds, err := repo.HoldsForVenue(ctx, "venue-1", days(20)[0], days(21)[0])
	require.NoError(t, err)
	require.Len(t, holds, 2)
	id := holds[0].BookingID

	b, err := engine.Accept(ctx, owner, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingPayment, b.Status)

	b, err = engine.ConfirmPayment(ctx, id, "order-1", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, b.Status)

	stored, err := repo.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Version)
	assert.Equal(t, domain.Money(116820), stored.Pricing.GrandTotal)
	assert.Equal(t, "pay-1", stored.PaymentID)
	assert.Len(t, stored.DatesTimings, 2)
}

func TestRepository_DueForExpiry(t *testing.T) {
	repo := startCockroach(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	owner := domain.Actor{ID: "owner-1", Role: domain.RoleOwner}
	catalog := memory.NewCatalog(domain.Venue{ID: "venue-1", OwnerID: owner.ID, PricePerDay: 1000, Currency: "INR"})
	engine := booking.NewEngine(repo, catalog, booking.Options{Clock: clock, Logger: observability.NewNopLogger()})

	b, err := engine.CreateInquiry(ctx, domain.Actor{ID: "cust-1", Role: domain.RoleCustomer}, booking.Inquiry{
		VenueID:      "venue-1",
		DatesTimings: []domain.DateTiming{{Date: days(5)[0], TimeFrom: 600, TimeTo: 700}},
	})
	require.NoError(t, err)
	_, err = engine.Accept(ctx, owner, b.ID)
	require.NoError(t, err)

	due, err := repo.DueForExpiry(ctx, clock.Now().Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "the deadline instant is still inside the window")

	clock.Advance(24*time.Hour + time.Second)
	n, err := engine.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	holds, err := repo.HoldsForBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestRepository_PaymentOrders(t *testing.T) {
	repo := startCockroach(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.InsertOrder(ctx, &domain.PaymentOrder{
		ID: "pi_1", BookingID: "b-1", Amount: 116820, Currency: "INR", Status: domain.OrderCreated, CreatedAt: now, UpdatedAt: now,
	}))
	err := repo.InsertOrder(ctx, &domain.PaymentOrder{ID: "pi_1", BookingID: "b-1", Status: domain.OrderCreated})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	require.NoError(t, repo.UpdateOrderStatus(ctx, "pi_1", domain.OrderPaid, "pay-1", now.Add(time.Minute)))
	require.NoError(t, repo.UpdateOrderStatus(ctx, "pi_1", domain.OrderPaid, "", now.Add(2*time.Minute)))

	o, err := repo.GetOrder(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, o.Status)
	assert.Equal(t, "pay-1", o.PaymentID)
	assert.Equal(t, domain.Money(116820), o.Amount)

	_, err = repo.GetOrder(ctx, "pi_404")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.True(t, errors.Is(repo.UpdateOrderStatus(ctx, "pi_404", domain.OrderFailed, "", now), domain.ErrNotFound))
}

func TestRepository_Outbox(t *testing.T) {
	repo := startCockroach(t)
	ctx := context.Background()

	spool := outbox.NewSpool(repo)
	n := domain.Notification{ID: uuid.NewString(), Type: domain.NotifyBookingConfirmed, BookingID: "b-1", RecipientID: "cust-1"}
	require.NoError(t, spool.Spool(ctx, n))
	require.NoError(t, spool.Spool(ctx, n), "spooling the same notification twice keeps one record")

	claimed, err := repo.ClaimUnpublished(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, n.ID, claimed[0].DedupeKey)
	assert.Equal(t, "notification.booking_confirmed", claimed[0].EventType)

	again, err := repo.ClaimUnpublished(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, repo.MarkPublished(ctx, claimed[0].ID, time.Now()))
}
