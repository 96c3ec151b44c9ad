package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/robertarktes/venue-reservations/internal/booking"
	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func venueKey(id string) string { return "venue:" + id }

// CachedCatalog is a read-through cache in front of the venue catalog. Redis
// errors degrade to a direct catalog read.
type CachedCatalog struct {
	cache  *Cache
	next   booking.VenueCatalog
	ttl    time.Duration
	logger observability.Logger
}

func NewCachedCatalog(cache *Cache, next booking.VenueCatalog, ttl time.Duration, logger observability.Logger) *CachedCatalog {
	return &CachedCatalog{cache: cache, next: next, ttl: ttl, logger: logger.WithField("component", "catalog_cache")}
}

func (c *CachedCatalog) GetVenue(ctx context.Context, id string) (*domain.Venue, error) {
	log := c.logger.WithField("venue_id", id)

	raw, err := c.cache.client.Get(ctx, venueKey(id)).Bytes()
	switch {
	case err == nil:
		var v domain.Venue
		if err := json.Unmarshal(raw, &v); err == nil {
			return &v, nil
		}
		log.Warn("undecodable cached venue, refreshing")
	case !errors.Is(err, redis.Nil):
		log.WithError(err).Warn("venue cache read failed")
	}

	v, err := c.next.GetVenue(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(v); err == nil {
		if err := c.cache.client.Set(ctx, venueKey(id), data, c.ttl).Err(); err != nil {
			log.WithError(err).Warn("venue cache write failed")
		}
	}
	return v, nil
}

// Invalidate drops a cached venue after the catalog changed it.
func (c *CachedCatalog) Invalidate(ctx context.Context, id string) error {
	return errors.Wrapf(c.cache.client.Del(ctx, venueKey(id)).Err(), "invalidate venue %s", id)
}
