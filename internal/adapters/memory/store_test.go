package memory_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/robertarktes/venue-reservations/internal/adapters/memory"
	"github.com/robertarktes/venue-reservations/internal/booking"
	"github.com/robertarktes/venue-reservations/internal/domain"
)

func day(d int) domain.Date { return domain.Date{Year: 2026, Month: time.November, Day: d} }

func hold(t *testing.T, s *memory.Store, bookingID string, dates ...domain.Date) error {
	t.Helper()
	return s.WithTx(context.Background(), func(ctx context.Context, tx booking.Tx) error {
		return tx.TryHold(ctx, "venue-1", dates, bookingID, nil)
	})
}

func TestTryHold_AllOrNothing(t *testing.T) {
	s := memory.NewStore()
	require.NoError(t, hold(t, s, "b1", day(10), day(11)))

	err := hold(t, s, "b2", day(11), day(12))
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []domain.Date{day(11)}, conflict.Dates)
	assert.True(t, errors.Is(err, domain.ErrDatesUnavailable))

	held, err := s.HoldsForBooking(context.Background(), "b2")
	require.NoError(t, err)
	assert.Empty(t, held, "a failed TryHold must claim nothing")

	held, err = s.HoldsForVenue(context.Background(), "venue-1", day(1), day(30))
	require.NoError(t, err)
	require.Len(t, held, 2)
	assert.Equal(t, day(10), held[0].Date)
	assert.Equal(t, domain.HoldSoft, held[0].Kind)
}

func TestTryHold_ConcurrentSingleWinner(t *testing.T) {
	s := memory.NewStore()
	var wins int32

	g := new(errgroup.Group)
	for i := 0; i < 32; i++ {
		id := fmt.Sprintf("b%d", i)
		// every request overlaps on day 15 in a different order
		dates := []domain.Date{day(15), day(16 + i%3)}
		if i%2 == 0 {
			dates = []domain.Date{dates[1], dates[0]}
		}
		g.Go(func() error {
			err := hold(t, s, id, dates...)
			if err == nil {
				atomic.AddInt32(&wins, 1)
				return nil
			}
			if errors.Is(err, domain.ErrDatesUnavailable) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins)

	held, err := s.HoldsForVenue(context.Background(), "venue-1", day(15), day(15))
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestReleaseHolds_Idempotent(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, hold(t, s, "b1", day(3)))

	release := func() error {
		return s.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
			return tx.ReleaseHolds(ctx, "b1")
		})
	}
	require.NoError(t, release())
	require.NoError(t, release())

	require.NoError(t, hold(t, s, "b2", day(3)), "released day is available again")

	err := s.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.PromoteHolds(ctx, "b1")
	})
	assert.True(t, errors.Is(err, domain.ErrHoldNotFound))
}

func TestPromoteHolds_ClearsExpiry(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	deadline := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	require.NoError(t, hold(t, s, "b1", day(4), day(5)))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.SetHoldExpiry(ctx, "b1", deadline)
	}))
	held, _ := s.HoldsForBooking(ctx, "b1")
	require.Len(t, held, 2)
	require.NotNil(t, held[0].ExpiresAt)
	assert.True(t, deadline.Equal(*held[0].ExpiresAt))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.PromoteHolds(ctx, "b1")
	}))
	held, _ = s.HoldsForBooking(ctx, "b1")
	for _, h := range held {
		assert.Equal(t, domain.HoldConfirmed, h.Kind)
		assert.Nil(t, h.ExpiresAt)
	}
}

func TestWithTx_RollbackDiscardsWrites(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		if err := tx.TryHold(ctx, "venue-1", []domain.Date{day(7)}, "b1", nil); err != nil {
			return err
		}
		if err := tx.InsertBooking(ctx, &domain.Booking{ID: "b1", VenueID: "venue-1", Version: 1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetBooking(ctx, "b1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	held, _ := s.HoldsForBooking(ctx, "b1")
	assert.Empty(t, held)
}

func TestUpdateBooking_VersionCheck(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.InsertBooking(ctx, &domain.Booking{ID: "b1", Status: domain.StatusPendingOwnerResponse, Version: 1})
	}))

	stale, err := s.GetBooking(ctx, "b1")
	require.NoError(t, err)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		b, err := tx.GetBooking(ctx, "b1")
		if err != nil {
			return err
		}
		b.Status = domain.StatusPendingPayment
		return tx.UpdateBooking(ctx, b, b.Version)
	}))

	err = s.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		stale.Status = domain.StatusCancelled
		return tx.UpdateBooking(ctx, stale, stale.Version)
	})
	assert.True(t, errors.Is(err, domain.ErrStaleState))

	got, err := s.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingPayment, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestDueForExpiry(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	earlier := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		for _, b := range []*domain.Booking{
			{ID: "late", Status: domain.StatusPendingPayment, PaymentDeadline: &past, Version: 1},
			{ID: "later", Status: domain.StatusPaymentFailed, PaymentDeadline: &earlier, Version: 1},
			{ID: "open", Status: domain.StatusPendingPayment, PaymentDeadline: &future, Version: 1},
			{ID: "paid", Status: domain.StatusConfirmed, PaymentDeadline: &past, Version: 1},
		} {
			if err := tx.InsertBooking(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}))

	due, err := s.DueForExpiry(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "later", due[0].ID)
	assert.Equal(t, "late", due[1].ID)

	due, err = s.DueForExpiry(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
