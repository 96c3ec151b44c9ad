package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/notify"
)

type Record struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	DedupeKey     string
}

// Store persists spooled events. ClaimUnpublished leases the returned records
// so concurrent relays do not publish the same record at the same time.
type Store interface {
	InsertOutbox(ctx context.Context, rec Record) error
	ClaimUnpublished(ctx context.Context, limit int, lease time.Duration) ([]Record, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
}

// Spool parks notifications the dispatcher could not hand to the broker.
type Spool struct {
	store Store
	now   func() time.Time
}

func NewSpool(store Store) *Spool {
	return &Spool{store: store, now: time.Now}
}

var _ notify.Spool = (*Spool)(nil)

func (s *Spool) Spool(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrapf(err, "encode notification %s", n.ID)
	}
	return s.store.InsertOutbox(ctx, Record{
		ID:            uuid.NewString(),
		AggregateType: "booking",
		AggregateID:   n.BookingID,
		EventType:     notify.RoutingKey(n.Type),
		Payload:       payload,
		CreatedAt:     s.now().UTC(),
		DedupeKey:     n.ID,
	})
}
