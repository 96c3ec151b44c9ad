package outbox

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/venue-reservations/internal/notify"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

type Options struct {
	Interval time.Duration
	Batch    int
	Lease    time.Duration
}

// Publisher relays spooled records to the broker. Delivery is at least once;
// consumers dedupe on the message id.
type Publisher struct {
	store  Store
	pub    notify.Publisher
	logger observability.Logger
	opts   Options
	now    func() time.Time
}

func NewPublisher(store Store, pub notify.Publisher, logger observability.Logger, opts Options) *Publisher {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 50
	}
	if opts.Lease <= 0 {
		opts.Lease = time.Minute
	}
	return &Publisher{store: store, pub: pub, logger: logger.WithField("component", "outbox"), opts: opts, now: time.Now}
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.WithError(err).Error("outbox flush")
			}
		}
	}
}

// Flush publishes one batch and returns how many records went out.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	records, err := p.store.ClaimUnpublished(ctx, p.opts.Batch, p.opts.Lease)
	if err != nil {
		return 0, errors.Wrap(err, "claim outbox records")
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())

	sent := 0
	for _, rec := range records {
		log := p.logger.WithFields(map[string]interface{}{"outbox_id": rec.ID, "event_type": rec.EventType})
		msg := amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.CreatedAt,
			Body:         rec.Payload,
		}
		if err := p.pub.Publish(ctx, rec.EventType, msg); err != nil {
			log.WithError(err).Warn("publish outbox record, will retry after lease")
			continue
		}
		if err := p.store.MarkPublished(ctx, rec.ID, p.now().UTC()); err != nil {
			log.WithError(err).Error("mark outbox record published")
			continue
		}
		sent++
	}
	return sent, nil
}
