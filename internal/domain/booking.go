package domain

import (
	"time"

	"github.com/cockroachdb/errors"
)

type Status string

const (
	StatusInquiry              Status = "inquiry"
	StatusPendingOwnerResponse Status = "pending_owner_response"
	StatusPendingPayment       Status = "pending_payment"
	StatusPaymentFailed        Status = "payment_failed"
	StatusConfirmed            Status = "confirmed"
	StatusExpired              Status = "expired"
	StatusDeclined             Status = "declined"
	StatusCancelled            Status = "cancelled"
)

var AllStatuses = []Status{
	StatusInquiry,
	StatusPendingOwnerResponse,
	StatusPendingPayment,
	StatusPaymentFailed,
	StatusConfirmed,
	StatusExpired,
	StatusDeclined,
	StatusCancelled,
}

func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusExpired, StatusDeclined, StatusCancelled:
		return true
	}
	return false
}

// AwaitingPayment covers the states in which the payment deadline runs.
func (s Status) AwaitingPayment() bool {
	return s == StatusPendingPayment || s == StatusPaymentFailed
}

// Role identifies who acted on a booking.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleOwner    Role = "owner"
	RoleOperator Role = "operator"
	RoleSystem   Role = "system"
)

type Actor struct {
	ID   string
	Role Role
}

type Booking struct {
	ID              string          `json:"id"`
	VenueID         string          `json:"venue_id"`
	OwnerID         string          `json:"owner_id"`
	CustomerID      string          `json:"customer_id"`
	Status          Status          `json:"status"`
	DatesTimings    []DateTiming    `json:"dates_timings"`
	Pricing         PricingSnapshot `json:"pricing"`
	Currency        string          `json:"currency"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	PaymentDeadline *time.Time      `json:"payment_deadline,omitempty"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CancelledBy     Role            `json:"cancelled_by,omitempty"`
	PaymentOrderID  string          `json:"payment_order_id,omitempty"`
	PaymentID       string          `json:"payment_id,omitempty"`
	Version         int64           `json:"version"`
}

type NewBookingParams struct {
	ID           string
	VenueID      string
	OwnerID      string
	CustomerID   string
	DatesTimings []DateTiming
	Pricing      PricingSnapshot
	Currency     string
	CreatedAt    time.Time
}

// NewBooking builds a booking in the inquiry state.
func NewBooking(p NewBookingParams) (*Booking, error) {
	if p.ID == "" || p.VenueID == "" || p.CustomerID == "" {
		return nil, errors.Wrap(ErrInvalidInput, "booking id, venue id and customer id are required")
	}
	if len(p.DatesTimings) == 0 || !p.Pricing.Consistent() || p.Pricing.TotalDays != len(p.DatesTimings) {
		return nil, errors.Wrap(ErrInvalidInput, "pricing snapshot does not match requested dates")
	}
	timings := make([]DateTiming, len(p.DatesTimings))
	copy(timings, p.DatesTimings)
	now := p.CreatedAt.UTC()
	return &Booking{
		ID:           p.ID,
		VenueID:      p.VenueID,
		OwnerID:      p.OwnerID,
		CustomerID:   p.CustomerID,
		Status:       StatusInquiry,
		DatesTimings: timings,
		Pricing:      p.Pricing,
		Currency:     p.Currency,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (b *Booking) Dates() []Date { return DatesOf(b.DatesTimings) }

// Clone returns a deep copy, used by stores that must not share memory with callers.
func (b *Booking) Clone() *Booking {
	c := *b
	c.DatesTimings = make([]DateTiming, len(b.DatesTimings))
	copy(c.DatesTimings, b.DatesTimings)
	c.PaymentDeadline = cloneTime(b.PaymentDeadline)
	c.ConfirmedAt = cloneTime(b.ConfirmedAt)
	c.CancelledAt = cloneTime(b.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// DeadlinePassed is true strictly after the payment deadline.
func (b *Booking) DeadlinePassed(now time.Time) bool {
	return b.PaymentDeadline != nil && now.After(*b.PaymentDeadline)
}

// Party reports whether the actor may act on the booking at all.
func (b *Booking) Party(a Actor) bool {
	switch a.Role {
	case RoleOperator, RoleSystem:
		return true
	case RoleCustomer:
		return a.ID == b.CustomerID
	case RoleOwner:
		return a.ID == b.OwnerID
	}
	return false
}
