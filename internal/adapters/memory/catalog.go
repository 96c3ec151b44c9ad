package memory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/venue-reservations/internal/domain"
)

// Catalog is a fixed venue list, used with the memory driver and in tests.
type Catalog struct {
	mu     sync.RWMutex
	venues map[string]domain.Venue
}

func NewCatalog(venues ...domain.Venue) *Catalog {
	c := &Catalog{venues: make(map[string]domain.Venue, len(venues))}
	for _, v := range venues {
		c.venues[v.ID] = v
	}
	return c
}

func (c *Catalog) Put(v domain.Venue) {
	c.mu.Lock()
	c.venues[v.ID] = v
	c.mu.Unlock()
}

func (c *Catalog) GetVenue(ctx context.Context, venueID string) (*domain.Venue, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.venues[venueID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "venue %s", venueID)
	}
	return &v, nil
}
