package domain

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0       = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	customer = Actor{ID: "cust-1", Role: RoleCustomer}
	owner    = Actor{ID: "owner-1", Role: RoleOwner}
	system   = Actor{ID: "sweeper", Role: RoleSystem}
)

func newTestBooking(t *testing.T) *Booking {
	t.Helper()
	timings := []DateTiming{timing(1), timing(2)}
	p, err := ComputePricing(45000, timings, today)
	require.NoError(t, err)
	b, err := NewBooking(NewBookingParams{
		ID:           "b-1",
		VenueID:      "v-1",
		OwnerID:      owner.ID,
		CustomerID:   customer.ID,
		DatesTimings: timings,
		Pricing:      p,
		Currency:     "INR",
		CreatedAt:    t0,
	})
	require.NoError(t, err)
	return b
}

func bookingIn(t *testing.T, s Status) *Booking {
	t.Helper()
	b := newTestBooking(t)
	b.Status = s
	if s.AwaitingPayment() {
		deadline := t0.Add(24 * time.Hour)
		b.PaymentDeadline = &deadline
	}
	return b
}

func TestBooking_HappyPath(t *testing.T) {
	b := newTestBooking(t)
	assert.Equal(t, StatusInquiry, b.Status)

	tr, err := b.Apply(EventSubmit, Change{Actor: customer, At: t0})
	require.NoError(t, err)
	assert.Equal(t, LedgerHold, tr.Ledger)
	assert.Equal(t, StatusPendingOwnerResponse, b.Status)

	_, err = b.Apply(EventOwnerAccept, Change{Actor: owner, At: t0, PaymentWindow: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, b.Status)
	require.NotNil(t, b.PaymentDeadline)
	assert.Equal(t, t0.Add(24*time.Hour), *b.PaymentDeadline)

	tr, err = b.Apply(EventPaymentVerified, Change{Actor: system, At: t0.Add(time.Hour), PaymentID: "pay_1"})
	require.NoError(t, err)
	assert.Equal(t, LedgerPromote, tr.Ledger)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, "pay_1", b.PaymentID)
	require.NotNil(t, b.ConfirmedAt)
}

func TestBooking_PaymentFailedThenRetry(t *testing.T) {
	b := bookingIn(t, StatusPendingPayment)

	_, err := b.Apply(EventPaymentFailed, Change{Actor: system, At: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentFailed, b.Status)

	_, err = b.Apply(EventPaymentVerified, Change{Actor: system, At: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, b.Status)
}

func TestBooking_DeadlineGuards(t *testing.T) {
	b := bookingIn(t, StatusPendingPayment)

	_, err := b.Apply(EventDeadlineReached, Change{Actor: system, At: t0.Add(24 * time.Hour)})
	assert.True(t, errors.Is(err, ErrInvalidTransition), "deadline is inclusive for the customer")
	assert.Equal(t, StatusPendingPayment, b.Status)

	_, err = b.Apply(EventPaymentVerified, Change{Actor: system, At: t0.Add(24*time.Hour + time.Second)})
	assert.True(t, errors.Is(err, ErrLatePayment))
	assert.Equal(t, StatusPendingPayment, b.Status)

	tr, err := b.Apply(EventDeadlineReached, Change{Actor: system, At: t0.Add(24*time.Hour + time.Second)})
	require.NoError(t, err)
	assert.Equal(t, LedgerRelease, tr.Ledger)
	assert.Equal(t, StatusExpired, b.Status)
}

// payment_failed is a retrying sub-state of pending_payment: a further
// failure keeps it there and the customer may still cancel out of it.
func TestBooking_PaymentFailedRetryingEdges(t *testing.T) {
	tr, ok := Lookup(StatusPaymentFailed, EventPaymentFailed)
	require.True(t, ok)
	assert.Equal(t, Transition{To: StatusPaymentFailed, Ledger: LedgerNone}, tr)

	tr, ok = Lookup(StatusPaymentFailed, EventCancel)
	require.True(t, ok)
	assert.Equal(t, Transition{To: StatusCancelled, Ledger: LedgerRelease}, tr)

	b := bookingIn(t, StatusPaymentFailed)
	_, err := b.Apply(EventCancel, Change{Actor: customer, At: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, b.Status)
}

func TestBooking_EveryStateEventPairIsDefined(t *testing.T) {
	later := t0.Add(48 * time.Hour)
	for _, s := range AllStatuses {
		for _, ev := range AllEvents {
			b := bookingIn(t, s)
			before := *b.Clone()
			at := t0.Add(time.Hour)
			if ev == EventDeadlineReached {
				at = later
			}
			_, expected := Lookup(s, ev)

			_, err := b.Apply(ev, Change{Actor: system, At: at, PaymentWindow: time.Hour})
			if expected {
				assert.NoError(t, err, "%s on %s", ev, s)
				continue
			}
			assert.True(t, errors.Is(err, ErrInvalidTransition), "%s on %s: %v", ev, s, err)
			assert.Equal(t, before.Status, b.Status)
			assert.Equal(t, before.UpdatedAt, b.UpdatedAt)
			assert.Equal(t, before.PaymentDeadline, b.PaymentDeadline)
		}
	}
}

func TestBooking_TerminalStatesRejectEverything(t *testing.T) {
	for _, s := range AllStatuses {
		if !s.Terminal() {
			continue
		}
		for _, ev := range AllEvents {
			_, ok := Lookup(s, ev)
			assert.False(t, ok, "%s has an edge for %s", s, ev)
		}
	}
}

func TestBooking_Authorize(t *testing.T) {
	b := bookingIn(t, StatusPendingOwnerResponse)

	assert.NoError(t, b.Authorize(EventOwnerAccept, owner))
	assert.True(t, errors.Is(b.Authorize(EventOwnerAccept, customer), ErrForbidden))
	assert.True(t, errors.Is(b.Authorize(EventCancel, Actor{ID: "someone", Role: RoleCustomer}), ErrForbidden))
	assert.NoError(t, b.Authorize(EventCancel, customer))
	assert.NoError(t, b.Authorize(EventCancel, owner))
	assert.True(t, errors.Is(b.Authorize(EventPaymentVerified, customer), ErrForbidden))
}
