package idempotency_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/venue-reservations/internal/idempotency"
)

type memStore struct {
	mu     sync.Mutex
	resp   map[string]idempotency.Response
	locked map[string]bool
}

func newMemStore() *memStore {
	return &memStore{resp: map[string]idempotency.Response{}, locked: map[string]bool{}}
}

func (m *memStore) Get(_ context.Context, key string) (*idempotency.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resp[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memStore) Set(_ context.Context, key string, r idempotency.Response, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resp[key] = r
	return nil
}

func (m *memStore) Reserve(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[key] {
		return false, nil
	}
	m.locked[key] = true
	return true, nil
}

func (m *memStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locked, key)
	return nil
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	ctx := context.Background()
	idem := idempotency.NewIdempotency(newMemStore(), time.Hour)
	fp := idempotency.Fingerprint("cust-1", "POST", "/v1/bookings", []byte(`{"venue_id":"v"}`))

	resp, err := idem.Begin(ctx, "key-0123456789abcdef", fp)
	require.NoError(t, err)
	assert.Nil(t, resp)

	_, err = idem.Begin(ctx, "key-0123456789abcdef", fp)
	assert.True(t, errors.Is(err, idempotency.ErrInFlight))

	require.NoError(t, idem.Finish(ctx, "key-0123456789abcdef", idempotency.Response{Status: 201, Body: []byte(`{}`), Fingerprint: fp}))

	resp, err = idem.Begin(ctx, "key-0123456789abcdef", fp)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 201, resp.Status)
}

func TestIdempotency_RejectsReuseWithOtherBody(t *testing.T) {
	ctx := context.Background()
	idem := idempotency.NewIdempotency(newMemStore(), time.Hour)
	fp := idempotency.Fingerprint("cust-1", "POST", "/v1/bookings", []byte(`{"a":1}`))
	_, err := idem.Begin(ctx, "k", fp)
	require.NoError(t, err)
	require.NoError(t, idem.Finish(ctx, "k", idempotency.Response{Status: 201, Fingerprint: fp}))

	other := idempotency.Fingerprint("cust-1", "POST", "/v1/bookings", []byte(`{"a":2}`))
	_, err = idem.Begin(ctx, "k", other)
	assert.True(t, errors.Is(err, idempotency.ErrKeyReused))
}

func TestIdempotency_AbortAllowsRetry(t *testing.T) {
	ctx := context.Background()
	idem := idempotency.NewIdempotency(newMemStore(), time.Hour)

	_, err := idem.Begin(ctx, "k", "fp")
	require.NoError(t, err)
	require.NoError(t, idem.Abort(ctx, "k"))

	resp, err := idem.Begin(ctx, "k", "fp")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestFingerprint_DependsOnCaller(t *testing.T) {
	a := idempotency.Fingerprint("cust-1", "POST", "/v1/bookings", []byte("x"))
	b := idempotency.Fingerprint("cust-2", "POST", "/v1/bookings", []byte("x"))
	assert.NotEqual(t, a, b)
}

// racingStore lets a concurrent first attempt finish right after the replay
// misses its lookup and before it reserves the key.
type racingStore struct {
	*memStore
	onMiss func()
}

func (r *racingStore) Get(ctx context.Context, key string) (*idempotency.Response, error) {
	resp, err := r.memStore.Get(ctx, key)
	if resp == nil && err == nil && r.onMiss != nil {
		hook := r.onMiss
		r.onMiss = nil
		hook()
	}
	return resp, err
}

func TestIdempotency_ReplayWhenFirstFinishesDuringBegin(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{memStore: newMemStore()}
	idem := idempotency.NewIdempotency(store, time.Hour)
	fp := idempotency.Fingerprint("cust-1", "POST", "/v1/bookings", []byte(`{"venue_id":"v"}`))
	key := "cust-1:key-0123456789abcdef"

	first, err := idem.Begin(ctx, key, fp)
	require.NoError(t, err)
	require.Nil(t, first)

	store.onMiss = func() {
		require.NoError(t, idem.Finish(ctx, key, idempotency.Response{Status: 201, Body: []byte(`{"id":"b-1"}`), Fingerprint: fp}))
	}
	replay, err := idem.Begin(ctx, key, fp)
	require.NoError(t, err)
	require.NotNil(t, replay, "the finished first attempt must be replayed, not run again")
	assert.Equal(t, 201, replay.Status)
	assert.JSONEq(t, `{"id":"b-1"}`, string(replay.Body))

	store.mu.Lock()
	locked := store.locked[key]
	store.mu.Unlock()
	assert.False(t, locked, "the replay releases the key it reserved")
}
