package booking

import (
	"context"
	"time"

	"github.com/robertarktes/venue-reservations/internal/domain"
)

// Store persists bookings and the availability ledger. Everything a
// transition writes goes through one WithTx call so it commits or rolls
// back as a unit.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	HoldsForBooking(ctx context.Context, bookingID string) ([]domain.AvailabilityHold, error)
	HoldsForVenue(ctx context.Context, venueID string, from, to domain.Date) ([]domain.AvailabilityHold, error)
	// DueForExpiry lists bookings awaiting payment whose deadline is before now.
	DueForExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error)
}

type Tx interface {
	Ledger
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	InsertBooking(ctx context.Context, b *domain.Booking) error
	// UpdateBooking writes b if the stored version still equals expected and
	// bumps b.Version; otherwise it returns domain.ErrStaleState.
	UpdateBooking(ctx context.Context, b *domain.Booking, expected int64) error
}

// Ledger is the availability ledger as seen from inside a transaction.
type Ledger interface {
	// TryHold claims every date as a soft hold or none of them. On conflict it
	// returns *domain.ConflictError listing the dates already held.
	TryHold(ctx context.Context, venueID string, dates []domain.Date, bookingID string, expiresAt *time.Time) error
	SetHoldExpiry(ctx context.Context, bookingID string, expiresAt time.Time) error
	// PromoteHolds turns soft holds into confirmed ones; domain.ErrHoldNotFound
	// if the booking holds nothing.
	PromoteHolds(ctx context.Context, bookingID string) error
	// ReleaseHolds drops every hold of the booking. No-op when none exist.
	ReleaseHolds(ctx context.Context, bookingID string) error
}

// VenueCatalog is the read side of the external venue service.
type VenueCatalog interface {
	GetVenue(ctx context.Context, venueID string) (*domain.Venue, error)
}

// DeadlineTimer gets a fast-path wakeup at the payment deadline. The sweep
// stays authoritative; timers only shorten the delay.
type DeadlineTimer interface {
	Schedule(bookingID string, deadline time.Time)
	Cancel(bookingID string)
}

type Notifier interface {
	Dispatch(ctx context.Context, n domain.Notification)
}

type nopTimer struct{}

func (nopTimer) Schedule(string, time.Time) {}
func (nopTimer) Cancel(string)              {}

type nopNotifier struct{}

func (nopNotifier) Dispatch(context.Context, domain.Notification) {}
