package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("PAYMENT_WINDOW", "")
	t.Setenv("VENUE_TIMEZONE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreCRDB, cfg.StoreDriver)
	assert.Equal(t, 24*time.Hour, cfg.PaymentWindow)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, "Asia/Kolkata", cfg.VenueTimezone.String())
	assert.Equal(t, "INR", cfg.Currency)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("PAYMENT_WINDOW", "2h")
	t.Setenv("SWEEP_BATCH", "5")
	t.Setenv("RATE_LIMIT_PER_USER", "10")
	t.Setenv("RATE_LIMIT_PERIOD", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 2*time.Hour, cfg.PaymentWindow)
	assert.Equal(t, 5, cfg.SweepBatch)
	assert.Equal(t, 10, cfg.RateLimitPerUser)
	assert.Equal(t, 30*time.Second, cfg.RateLimitPeriod)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("PAYMENT_WINDOW", "soon")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PAYMENT_WINDOW", "-1h")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("PAYMENT_WINDOW", "")
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err = Load()
	assert.Error(t, err)
}
