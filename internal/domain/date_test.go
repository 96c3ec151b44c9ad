package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateTiming_JSON(t *testing.T) {
	var dt DateTiming
	err := json.Unmarshal([]byte(`{"date":"2026-12-24","time_from":"09:30","time_to":"23:00"}`), &dt)
	require.NoError(t, err)
	assert.Equal(t, Date{2026, time.December, 24}, dt.Date)
	assert.Equal(t, TimeOfDay(570), dt.TimeFrom)
	assert.Equal(t, TimeOfDay(1380), dt.TimeTo)

	out, err := json.Marshal(dt)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2026-12-24","time_from":"09:30","time_to":"23:00"}`, string(out))
}

func TestDateTiming_BadInput(t *testing.T) {
	var dt DateTiming
	err := json.Unmarshal([]byte(`{"date":"24/12/2026","time_from":"09:30","time_to":"23:00"}`), &dt)
	assert.True(t, errors.Is(err, ErrInvalidDate))

	err = json.Unmarshal([]byte(`{"date":"2026-12-24","time_from":"25:00","time_to":"23:00"}`), &dt)
	assert.True(t, errors.Is(err, ErrInvalidTimeRange))
}

func TestToday_UsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	// 20:00 UTC is already the next day in India
	now := time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, Date{2026, 10, 19}, Today(now, loc))
	assert.Equal(t, Date{2026, 10, 18}, Today(now, time.UTC))
}
