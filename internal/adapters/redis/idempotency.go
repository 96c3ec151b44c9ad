package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/robertarktes/venue-reservations/internal/idempotency"
)

type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

var _ idempotency.Store = (*Idempotency)(nil)

func (i *Idempotency) Get(ctx context.Context, key string) (*idempotency.Response, error) {
	val, err := i.client.Get(ctx, "idemp:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get idempotency key %s", key)
	}
	var resp idempotency.Response
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, errors.Wrapf(err, "decode idempotency key %s", key)
	}
	return &resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp idempotency.Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return errors.Wrap(err, "encode idempotent response")
	}
	return errors.Wrapf(i.client.Set(ctx, "idemp:"+key, data, ttl).Err(), "set idempotency key %s", key)
}

// Reserve marks the key as in flight. false means another request holds it.
func (i *Idempotency) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := i.client.SetNX(ctx, "idemp:lock:"+key, 1, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "reserve idempotency key %s", key)
	}
	return ok, nil
}

func (i *Idempotency) Release(ctx context.Context, key string) error {
	return errors.Wrapf(i.client.Del(ctx, "idemp:lock:"+key).Err(), "release idempotency key %s", key)
}
