package redis_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	redisadapter "github.com/robertarktes/venue-reservations/internal/adapters/redis"
	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/idempotency"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

func startRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container skipped in -short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type countingCatalog struct {
	calls atomic.Int32
}

func (c *countingCatalog) GetVenue(_ context.Context, id string) (*domain.Venue, error) {
	c.calls.Add(1)
	if id != "venue-1" {
		return nil, errors.Wrapf(domain.ErrNotFound, "venue %s", id)
	}
	return &domain.Venue{ID: id, OwnerID: "owner-1", PricePerDay: 45000, Currency: "INR"}, nil
}

func TestCachedCatalog_ReadThrough(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	next := &countingCatalog{}
	catalog := redisadapter.NewCachedCatalog(redisadapter.NewCache(client), next, time.Minute, observability.NewNopLogger())

	for i := 0; i < 3; i++ {
		v, err := catalog.GetVenue(ctx, "venue-1")
		require.NoError(t, err)
		assert.Equal(t, domain.Money(45000), v.PricePerDay)
	}
	assert.Equal(t, int32(1), next.calls.Load())

	require.NoError(t, catalog.Invalidate(ctx, "venue-1"))
	_, err := catalog.GetVenue(ctx, "venue-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())

	_, err = catalog.GetVenue(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestIdempotencyStore(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	store := redisadapter.NewIdempotency(client)

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err := store.Reserve(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Reserve(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k1", idempotency.Response{Status: 201, Body: []byte(`{"id":"b"}`), Fingerprint: "fp"}, time.Minute))
	require.NoError(t, store.Release(ctx, "k1"))

	got, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 201, got.Status)
	assert.JSONEq(t, `{"id":"b"}`, string(got.Body))
}
