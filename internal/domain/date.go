package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Date is a calendar day with no time zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, errors.Wrapf(ErrInvalidDate, "parse %q", s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the current calendar day as observed in loc.
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc))
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool { return d == Date{} }

// Time returns midnight UTC of the day, used as the storage representation.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) Before(o Date) bool { return d.Time().Before(o.Time()) }

func (d Date) After(o Date) bool { return d.Time().After(o.Time()) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(ErrInvalidDate, "date must be a string")
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay is minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidTimeRange, "parse time %q", s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) Valid() bool { return t >= 0 && t < minutesPerDay }

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(ErrInvalidTimeRange, "time must be a string")
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DateTiming is one requested day with its start and end time.
type DateTiming struct {
	Date     Date      `json:"date"`
	TimeFrom TimeOfDay `json:"time_from"`
	TimeTo   TimeOfDay `json:"time_to"`
}

// Validate checks a single entry against today. Duplicate detection needs
// the whole set and lives in ValidateTimings.
func (dt DateTiming) Validate(today Date) error {
	if dt.Date.IsZero() {
		return errors.Wrap(ErrInvalidDate, "date is required")
	}
	if !dt.Date.After(today) {
		return errors.Wrapf(ErrInvalidDate, "date %s must be after %s", dt.Date, today)
	}
	if !dt.TimeFrom.Valid() || !dt.TimeTo.Valid() {
		return errors.Wrapf(ErrInvalidTimeRange, "times on %s out of range", dt.Date)
	}
	if dt.TimeFrom >= dt.TimeTo {
		return errors.Wrapf(ErrInvalidTimeRange, "%s: start %s is not before end %s", dt.Date, dt.TimeFrom, dt.TimeTo)
	}
	return nil
}

func ValidateTimings(timings []DateTiming, today Date) error {
	if len(timings) == 0 {
		return errors.Wrap(ErrInvalidDate, "at least one date is required")
	}
	seen := make(map[Date]struct{}, len(timings))
	for _, dt := range timings {
		if err := dt.Validate(today); err != nil {
			return err
		}
		if _, dup := seen[dt.Date]; dup {
			return errors.Wrapf(ErrInvalidDate, "duplicate date %s", dt.Date)
		}
		seen[dt.Date] = struct{}{}
	}
	return nil
}

// DatesOf extracts the days of timings in their given order.
func DatesOf(timings []DateTiming) []Date {
	dates := make([]Date, len(timings))
	for i, dt := range timings {
		dates[i] = dt.Date
	}
	return dates
}
