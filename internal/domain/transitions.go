package domain

import (
	"time"

	"github.com/cockroachdb/errors"
)

type Event string

const (
	EventSubmit          Event = "submit"
	EventOwnerAccept     Event = "owner_accept"
	EventOwnerDecline    Event = "owner_decline"
	EventPaymentVerified Event = "payment_verified"
	EventPaymentFailed   Event = "payment_failed"
	EventDeadlineReached Event = "deadline_reached"
	EventCancel          Event = "cancel"
)

var AllEvents = []Event{
	EventSubmit,
	EventOwnerAccept,
	EventOwnerDecline,
	EventPaymentVerified,
	EventPaymentFailed,
	EventDeadlineReached,
	EventCancel,
}

// LedgerEffect is what a transition requires from the availability ledger.
type LedgerEffect int

const (
	LedgerNone LedgerEffect = iota
	LedgerHold
	LedgerPromote
	LedgerRelease
)

type edge struct {
	from  Status
	event Event
}

type Transition struct {
	To     Status
	Ledger LedgerEffect
}

var transitions = map[edge]Transition{
	{StatusInquiry, EventSubmit}: {StatusPendingOwnerResponse, LedgerHold},

	{StatusPendingOwnerResponse, EventOwnerAccept}:  {StatusPendingPayment, LedgerNone},
	{StatusPendingOwnerResponse, EventOwnerDecline}: {StatusDeclined, LedgerRelease},
	{StatusPendingOwnerResponse, EventCancel}:       {StatusCancelled, LedgerRelease},

	{StatusPendingPayment, EventPaymentVerified}: {StatusConfirmed, LedgerPromote},
	{StatusPendingPayment, EventPaymentFailed}:   {StatusPaymentFailed, LedgerNone},
	{StatusPendingPayment, EventDeadlineReached}: {StatusExpired, LedgerRelease},
	{StatusPendingPayment, EventCancel}:          {StatusCancelled, LedgerRelease},

	// payment_failed holds the dates while the customer retries
	{StatusPaymentFailed, EventPaymentVerified}: {StatusConfirmed, LedgerPromote},
	{StatusPaymentFailed, EventPaymentFailed}:   {StatusPaymentFailed, LedgerNone},
	{StatusPaymentFailed, EventDeadlineReached}: {StatusExpired, LedgerRelease},
	{StatusPaymentFailed, EventCancel}:          {StatusCancelled, LedgerRelease},
}

// Lookup returns the edge for (from, event) without applying it.
func Lookup(from Status, event Event) (Transition, bool) {
	t, ok := transitions[edge{from, event}]
	return t, ok
}

// Change carries the inputs an event needs.
type Change struct {
	Actor Actor
	At    time.Time
	// PaymentWindow is required by owner_accept.
	PaymentWindow time.Duration
	// OrderID and PaymentID are recorded by payment_verified.
	OrderID   string
	PaymentID string
}

// Apply moves the booking along the transition table. On any error the
// booking is left exactly as it was.
func (b *Booking) Apply(event Event, c Change) (Transition, error) {
	t, ok := Lookup(b.Status, event)
	if !ok {
		return Transition{}, errors.Wrapf(ErrInvalidTransition, "%s from %s", event, b.Status)
	}
	if err := b.guard(event, c); err != nil {
		return Transition{}, err
	}

	now := c.At.UTC()
	switch event {
	case EventOwnerAccept:
		deadline := now.Add(c.PaymentWindow)
		b.PaymentDeadline = &deadline
	case EventPaymentVerified:
		b.ConfirmedAt = &now
		b.PaymentOrderID = c.OrderID
		b.PaymentID = c.PaymentID
	case EventCancel, EventOwnerDecline, EventDeadlineReached:
		b.CancelledAt = &now
		b.CancelledBy = c.Actor.Role
	}
	b.Status = t.To
	b.UpdatedAt = now
	return t, nil
}

func (b *Booking) guard(event Event, c Change) error {
	switch event {
	case EventOwnerAccept:
		if c.PaymentWindow <= 0 {
			return errors.Wrap(ErrInvalidInput, "payment window must be positive")
		}
	case EventPaymentVerified:
		if b.DeadlinePassed(c.At) {
			return errors.Wrapf(ErrLatePayment, "booking %s deadline %s passed", b.ID, b.PaymentDeadline.Format(time.RFC3339))
		}
	case EventPaymentFailed:
		if b.DeadlinePassed(c.At) {
			return errors.Wrapf(ErrInvalidTransition, "payment_failed after deadline for booking %s", b.ID)
		}
	case EventDeadlineReached:
		if !b.DeadlinePassed(c.At) {
			return errors.Wrapf(ErrInvalidTransition, "deadline not reached for booking %s", b.ID)
		}
	}
	return nil
}

// Authorize checks that the actor may fire the event on this booking.
func (b *Booking) Authorize(event Event, a Actor) error {
	if !b.Party(a) {
		return errors.Wrapf(ErrForbidden, "%s %s is not a party to booking %s", a.Role, a.ID, b.ID)
	}
	allowed := false
	switch event {
	case EventSubmit:
		allowed = a.Role == RoleCustomer
	case EventOwnerAccept, EventOwnerDecline:
		allowed = a.Role == RoleOwner || a.Role == RoleOperator
	case EventPaymentVerified, EventPaymentFailed, EventDeadlineReached:
		allowed = a.Role == RoleSystem || a.Role == RoleOperator
	case EventCancel:
		allowed = a.Role == RoleCustomer || a.Role == RoleOwner || a.Role == RoleOperator
	}
	if !allowed {
		return errors.Wrapf(ErrForbidden, "%s may not %s", a.Role, event)
	}
	return nil
}
