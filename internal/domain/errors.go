package domain

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidInput     = errors.New("invalid input")

	ErrDatesUnavailable     = errors.New("dates unavailable")
	ErrStaleState           = errors.New("stale booking state")
	ErrSerializationFailure = errors.New("serialization failure")

	ErrSignatureMismatch = errors.New("payment signature mismatch")
	ErrAmountMismatch    = errors.New("payment amount mismatch")
	ErrGateway           = errors.New("payment gateway error")

	ErrInvalidTransition = errors.New("invalid transition")
	ErrLatePayment       = errors.New("late payment")
	ErrHoldNotFound      = errors.New("hold not found")

	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// ConflictError reports the dates that blocked a hold request.
type ConflictError struct {
	VenueID string
	Dates   []Date
}

func (e *ConflictError) Error() string {
	days := make([]string, len(e.Dates))
	for i, d := range e.Dates {
		days[i] = d.String()
	}
	return fmt.Sprintf("dates unavailable for venue %s: %s", e.VenueID, strings.Join(days, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrDatesUnavailable }

// IsValidation reports errors raised before any state is touched.
func IsValidation(err error) bool {
	return errors.IsAny(err, ErrInvalidDate, ErrInvalidTimeRange, ErrInvalidPrice, ErrInvalidInput)
}

// IsConflict reports errors the caller resolves by retrying or picking other dates.
func IsConflict(err error) bool {
	return errors.IsAny(err, ErrDatesUnavailable, ErrStaleState, ErrSerializationFailure)
}

// IsLifecycle reports genuine state inconsistencies that need operator attention.
func IsLifecycle(err error) bool {
	return errors.IsAny(err, ErrInvalidTransition, ErrLatePayment, ErrHoldNotFound)
}
