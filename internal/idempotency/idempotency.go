package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrInFlight  = errors.New("a request with this idempotency key is in progress")
	ErrKeyReused = errors.New("idempotency key reused with a different request")
)

// lockTTL bounds how long a crashed request can block its key.
const lockTTL = 30 * time.Second

type Response struct {
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	Fingerprint string `json:"fingerprint"`
}

type Store interface {
	Get(ctx context.Context, key string) (*Response, error)
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Idempotency struct {
	store Store
	ttl   time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

// Fingerprint identifies a request by caller, route and body.
func Fingerprint(subject, method, path string, body []byte) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(subject), []byte(method), []byte(path), body} {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Begin returns the stored response for a replayed key, or reserves the key
// for a first attempt and returns nil. The caller must Finish or Abort.
func (i *Idempotency) Begin(ctx context.Context, key, fingerprint string) (*Response, error) {
	resp, err := i.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		if resp.Fingerprint != fingerprint {
			return nil, ErrKeyReused
		}
		return resp, nil
	}
	ok, err := i.store.Reserve(ctx, key, lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInFlight
	}
	// a first attempt may have finished between Get and Reserve
	resp, err = i.store.Get(ctx, key)
	if err != nil {
		_ = i.store.Release(ctx, key)
		return nil, err
	}
	if resp != nil {
		if err := i.store.Release(ctx, key); err != nil {
			return nil, err
		}
		if resp.Fingerprint != fingerprint {
			return nil, ErrKeyReused
		}
		return resp, nil
	}
	return nil, nil
}

func (i *Idempotency) Finish(ctx context.Context, key string, resp Response) error {
	if err := i.store.Set(ctx, key, resp, i.ttl); err != nil {
		_ = i.store.Release(ctx, key)
		return err
	}
	return i.store.Release(ctx, key)
}

// Abort frees the key without storing a response so the client can retry.
func (i *Idempotency) Abort(ctx context.Context, key string) error {
	return i.store.Release(ctx, key)
}
