package rabbit

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/venue-reservations/internal/observability"
)

const (
	Exchange       = "venue.events"
	publishRetries = 3
)

type Publisher struct {
	conn *amqp.Connection
	mu   sync.Mutex
	ch   *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	p := &Publisher{conn: conn}
	if _, err := p.channel(); err != nil {
		return nil, err
	}
	return p, nil
}

// channel reopens the channel after the broker closed it.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", Exchange)
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	var err error
	for attempt := 0; attempt < publishRetries; attempt++ {
		if attempt > 0 {
			observability.RabbitPublishRetries.Inc()
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "publish")
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		var ch *amqp.Channel
		ch, err = p.channel()
		if err != nil {
			continue
		}
		err = ch.PublishWithContext(ctx, Exchange, key, false, false, msg)
		if err == nil {
			return nil
		}
	}
	return errors.Wrapf(err, "publish %s", key)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return nil
	}
	return p.ch.Close()
}
