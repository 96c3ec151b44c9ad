package memory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/venue-reservations/internal/domain"
)

func (s *Store) InsertOrder(ctx context.Context, o *domain.PaymentOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return errors.Wrapf(domain.ErrInvalidInput, "payment order %s already exists", o.ID)
	}
	c := *o
	s.orders[o.ID] = &c
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.PaymentOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "payment order %s", id)
	}
	c := *o
	return &c, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, paymentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "payment order %s", id)
	}
	o.Status = status
	if paymentID != "" {
		o.PaymentID = paymentID
	}
	o.UpdatedAt = at.UTC()
	return nil
}
