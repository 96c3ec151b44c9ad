// Package memory is an in-process Store for tests and single-node dev runs.
// Writes are staged per transaction and applied at commit; exclusion is per
// booking and per venue-day, taken on first touch and held until the
// transaction ends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"

	"github.com/robertarktes/venue-reservations/internal/booking"
	"github.com/robertarktes/venue-reservations/internal/domain"
)

type Store struct {
	mu        sync.RWMutex
	bookings  map[string]*domain.Booking
	holds     map[domain.HoldKey]domain.AvailabilityHold
	byBooking map[string]map[domain.HoldKey]struct{}
	orders    map[string]*domain.PaymentOrder

	locks *keyLocks
	now   func() time.Time
}

type Option func(*Store)

// WithClock sets the time source used to stamp holds.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.now = c.Now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		bookings:  make(map[string]*domain.Booking),
		holds:     make(map[domain.HoldKey]domain.AvailabilityHold),
		byBooking: make(map[string]map[domain.HoldKey]struct{}),
		orders:    make(map[string]*domain.PaymentOrder),
		locks:     &keyLocks{locks: make(map[string]*refLock)},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ booking.Store = (*Store)(nil)

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{
		s:        s,
		held:     make(map[string]struct{}),
		bookings: make(map[string]*domain.Booking),
		puts:     make(map[domain.HoldKey]domain.AvailabilityHold),
		dels:     make(map[domain.HoldKey]struct{}),
	}
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range t.bookings {
		s.bookings[id] = b
	}
	for key := range t.dels {
		if h, ok := s.holds[key]; ok {
			delete(s.byBooking[h.BookingID], key)
			if len(s.byBooking[h.BookingID]) == 0 {
				delete(s.byBooking, h.BookingID)
			}
			delete(s.holds, key)
		}
	}
	for key, h := range t.puts {
		s.holds[key] = h
		if s.byBooking[h.BookingID] == nil {
			s.byBooking[h.BookingID] = make(map[domain.HoldKey]struct{})
		}
		s.byBooking[h.BookingID][key] = struct{}{}
	}
}

func (s *Store) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	return b.Clone(), nil
}

func (s *Store) HoldsForBooking(ctx context.Context, bookingID string) ([]domain.AvailabilityHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AvailabilityHold
	for key := range s.byBooking[bookingID] {
		out = append(out, s.holds[key])
	}
	sortHolds(out)
	return out, nil
}

func (s *Store) HoldsForVenue(ctx context.Context, venueID string, from, to domain.Date) ([]domain.AvailabilityHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AvailabilityHold
	for key, h := range s.holds {
		if key.VenueID == venueID && !key.Date.Before(from) && !key.Date.After(to) {
			out = append(out, h)
		}
	}
	sortHolds(out)
	return out, nil
}

func (s *Store) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	s.mu.RLock()
	var due []*domain.Booking
	for _, b := range s.bookings {
		if b.Status.AwaitingPayment() && b.DeadlinePassed(now) {
			due = append(due, b.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool { return due[i].PaymentDeadline.Before(*due[j].PaymentDeadline) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func sortHolds(holds []domain.AvailabilityHold) {
	sort.Slice(holds, func(i, j int) bool {
		if holds[i].VenueID != holds[j].VenueID {
			return holds[i].VenueID < holds[j].VenueID
		}
		return holds[i].Date.Before(holds[j].Date)
	})
}

type tx struct {
	s    *Store
	held map[string]struct{}

	bookings map[string]*domain.Booking
	puts     map[domain.HoldKey]domain.AvailabilityHold
	dels     map[domain.HoldKey]struct{}
}

func bookingLockKey(id string) string { return "booking:" + id }
func holdLockKey(k domain.HoldKey) string { return "hold:" + k.String() }

// lock takes the named locks this tx does not hold yet, in sorted order.
func (t *tx) lock(keys ...string) {
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := t.held[k]; ok {
			continue
		}
		t.s.locks.lock(k)
		t.held[k] = struct{}{}
	}
}

func (t *tx) release() {
	for k := range t.held {
		t.s.locks.unlock(k)
	}
	t.held = nil
}

func (t *tx) booking(id string) (*domain.Booking, bool) {
	if b, ok := t.bookings[id]; ok {
		return b, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	b, ok := t.s.bookings[id]
	return b, ok
}

func (t *tx) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	t.lock(bookingLockKey(id))
	b, ok := t.booking(id)
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	return b.Clone(), nil
}

func (t *tx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	t.lock(bookingLockKey(b.ID))
	if _, ok := t.booking(b.ID); ok {
		return errors.Wrapf(domain.ErrInvalidInput, "booking %s already exists", b.ID)
	}
	t.bookings[b.ID] = b.Clone()
	return nil
}

func (t *tx) UpdateBooking(ctx context.Context, b *domain.Booking, expected int64) error {
	t.lock(bookingLockKey(b.ID))
	cur, ok := t.booking(b.ID)
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "booking %s", b.ID)
	}
	if cur.Version != expected {
		return errors.Wrapf(domain.ErrStaleState, "booking %s at version %d, expected %d", b.ID, cur.Version, expected)
	}
	b.Version = expected + 1
	t.bookings[b.ID] = b.Clone()
	return nil
}

func (t *tx) hold(key domain.HoldKey) (domain.AvailabilityHold, bool) {
	if h, ok := t.puts[key]; ok {
		return h, true
	}
	if _, ok := t.dels[key]; ok {
		return domain.AvailabilityHold{}, false
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	h, ok := t.s.holds[key]
	return h, ok
}

func (t *tx) keysOf(bookingID string) []domain.HoldKey {
	seen := make(map[domain.HoldKey]struct{})
	t.s.mu.RLock()
	for key := range t.s.byBooking[bookingID] {
		if _, gone := t.dels[key]; !gone {
			seen[key] = struct{}{}
		}
	}
	t.s.mu.RUnlock()
	for key, h := range t.puts {
		if h.BookingID == bookingID {
			seen[key] = struct{}{}
		}
	}
	keys := make([]domain.HoldKey, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	return keys
}

func (t *tx) lockHolds(keys []domain.HoldKey) {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = holdLockKey(k)
	}
	t.lock(names...)
}

func (t *tx) TryHold(ctx context.Context, venueID string, dates []domain.Date, bookingID string, expiresAt *time.Time) error {
	if len(dates) == 0 {
		return errors.Wrap(domain.ErrInvalidDate, "no dates to hold")
	}
	keys := make([]domain.HoldKey, len(dates))
	for i, d := range dates {
		keys[i] = domain.HoldKey{VenueID: venueID, Date: d}
	}
	t.lockHolds(keys)

	var taken []domain.Date
	for _, key := range keys {
		if h, ok := t.hold(key); ok && h.BookingID != bookingID {
			taken = append(taken, key.Date)
		}
	}
	if len(taken) > 0 {
		return &domain.ConflictError{VenueID: venueID, Dates: taken}
	}

	now := t.s.now().UTC()
	for _, key := range keys {
		delete(t.dels, key)
		t.puts[key] = domain.AvailabilityHold{
			VenueID:   venueID,
			Date:      key.Date,
			BookingID: bookingID,
			Kind:      domain.HoldSoft,
			ExpiresAt: copyTime(expiresAt),
			CreatedAt: now,
		}
	}
	return nil
}

func (t *tx) SetHoldExpiry(ctx context.Context, bookingID string, expiresAt time.Time) error {
	keys := t.keysOf(bookingID)
	t.lockHolds(keys)
	for _, key := range keys {
		h, ok := t.hold(key)
		if !ok || h.Kind != domain.HoldSoft {
			continue
		}
		h.ExpiresAt = copyTime(&expiresAt)
		t.puts[key] = h
	}
	return nil
}

func (t *tx) PromoteHolds(ctx context.Context, bookingID string) error {
	keys := t.keysOf(bookingID)
	t.lockHolds(keys)
	promoted := 0
	for _, key := range keys {
		h, ok := t.hold(key)
		if !ok || h.BookingID != bookingID {
			continue
		}
		h.Kind = domain.HoldConfirmed
		h.ExpiresAt = nil
		t.puts[key] = h
		promoted++
	}
	if promoted == 0 {
		return errors.Wrapf(domain.ErrHoldNotFound, "booking %s", bookingID)
	}
	return nil
}

func (t *tx) ReleaseHolds(ctx context.Context, bookingID string) error {
	keys := t.keysOf(bookingID)
	t.lockHolds(keys)
	for _, key := range keys {
		if h, ok := t.hold(key); ok && h.BookingID == bookingID {
			delete(t.puts, key)
			t.dels[key] = struct{}{}
		}
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

type refLock struct {
	sync.Mutex
	refs int
}

type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func (k *keyLocks) lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.Lock()
}

func (k *keyLocks) unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	l.Unlock()
}
