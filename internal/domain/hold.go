package domain

import "time"

type HoldKind string

const (
	HoldSoft      HoldKind = "soft"
	HoldConfirmed HoldKind = "confirmed"
)

// AvailabilityHold is a claim on one venue-day. At most one exists per
// (VenueID, Date); released holds are removed rather than kept.
type AvailabilityHold struct {
	VenueID   string     `json:"venue_id"`
	Date      Date       `json:"date"`
	BookingID string     `json:"booking_id"`
	Kind      HoldKind   `json:"kind"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// HoldKey identifies the unit of mutual exclusion in the ledger.
type HoldKey struct {
	VenueID string
	Date    Date
}

func (k HoldKey) String() string { return k.VenueID + "/" + k.Date.String() }
