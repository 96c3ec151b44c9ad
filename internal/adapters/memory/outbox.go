package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/outbox"
)

type outboxEntry struct {
	rec          outbox.Record
	claimedUntil time.Time
}

// Outbox keeps spooled records in process. It only survives as long as the
// process does.
type Outbox struct {
	mu      sync.Mutex
	records map[string]*outboxEntry
	now     func() time.Time
}

func NewOutbox() *Outbox {
	return &Outbox{records: make(map[string]*outboxEntry), now: time.Now}
}

var _ outbox.Store = (*Outbox)(nil)

func (o *Outbox) InsertOutbox(_ context.Context, rec outbox.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.records[rec.ID]; ok {
		return errors.Wrapf(domain.ErrInvalidInput, "outbox record %s already exists", rec.ID)
	}
	o.records[rec.ID] = &outboxEntry{rec: rec}
	return nil
}

func (o *Outbox) ClaimUnpublished(_ context.Context, limit int, lease time.Duration) ([]outbox.Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	var due []*outboxEntry
	for _, e := range o.records {
		if e.rec.PublishedAt == nil && !e.claimedUntil.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].rec.CreatedAt.Before(due[j].rec.CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]outbox.Record, len(due))
	for i, e := range due {
		e.claimedUntil = now.Add(lease)
		out[i] = e.rec
	}
	return out, nil
}

func (o *Outbox) MarkPublished(_ context.Context, id string, publishedAt time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.records[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "outbox record %s", id)
	}
	at := publishedAt
	e.rec.PublishedAt = &at
	return nil
}

// Pending counts records not yet published.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.records {
		if e.rec.PublishedAt == nil {
			n++
		}
	}
	return n
}
