package notify

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

type Contact struct {
	UserID string `bson:"_id"`
	Name   string `bson:"name"`
	Email  string `bson:"email"`
	Phone  string `bson:"phone,omitempty"`
}

type Directory interface {
	Contact(ctx context.Context, userID string) (*Contact, error)
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Texter interface {
	Send(ctx context.Context, phone, text string) error
}

// Deliverer sends consumed notifications to people. texter may be nil.
type Deliverer struct {
	directory Directory
	mailer    Mailer
	texter    Texter
	logger    observability.Logger
}

func NewDeliverer(directory Directory, mailer Mailer, texter Texter, logger observability.Logger) *Deliverer {
	return &Deliverer{directory: directory, mailer: mailer, texter: texter, logger: logger.WithField("component", "notifier")}
}

func (d *Deliverer) Deliver(ctx context.Context, n domain.Notification) error {
	c, err := d.directory.Contact(ctx, n.RecipientID)
	if err != nil {
		return errors.Wrapf(err, "contact for %s", n.RecipientID)
	}
	subject, body := Render(n)

	if c.Email != "" {
		if err := d.mailer.Send(ctx, c.Email, subject, body); err != nil {
			return errors.Wrapf(err, "email %s", n.ID)
		}
	}
	if c.Phone != "" && d.texter != nil {
		if err := d.texter.Send(ctx, c.Phone, subject+". "+body); err != nil {
			// the email went out; a resend would duplicate it
			d.logger.WithFields(fields(n)).WithError(err).Warn("sms delivery failed")
		}
	}
	return nil
}

// Consume handles deliveries until ctx is done or the channel closes.
func (d *Deliverer) Consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			d.handle(ctx, msg)
		}
	}
}

func (d *Deliverer) handle(ctx context.Context, msg amqp.Delivery) {
	log := d.logger.WithField("message_id", msg.MessageId)

	n, err := Decode(msg.Body)
	if err != nil {
		log.WithError(err).Error("poison notification, dropping")
		if err := msg.Nack(false, false); err != nil {
			log.WithError(err).Error("nack")
		}
		return
	}

	err = d.Deliver(ctx, n)
	switch {
	case err == nil:
		if err := msg.Ack(false); err != nil {
			log.WithError(err).Error("ack")
		}
		return
	case errors.Is(err, domain.ErrNotFound):
		log.WithFields(fields(n)).WithError(err).Warn("no contact for recipient, dropping")
		if err := msg.Ack(false); err != nil {
			log.WithError(err).Error("ack")
		}
		return
	}

	observability.NotificationFailures.WithLabelValues("delivery").Inc()
	requeue := !msg.Redelivered
	log.WithFields(fields(n)).WithField("requeue", requeue).WithError(err).Error("deliver notification")
	if err := msg.Nack(false, requeue); err != nil {
		log.WithError(err).Error("nack")
	}
}
