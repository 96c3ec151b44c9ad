package notify

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/venue-reservations/internal/domain"
)

const routingPrefix = "notification."

// Publisher is satisfied by the rabbit adapter.
type Publisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

func RoutingKey(t domain.NotificationType) string { return routingPrefix + string(t) }

// Encode builds the broker message for a notification. The notification id
// doubles as the message id so consumers can drop replays.
func Encode(n domain.Notification) (amqp.Publishing, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return amqp.Publishing{}, errors.Wrapf(err, "encode notification %s", n.ID)
	}
	return amqp.Publishing{
		MessageId:    n.ID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.OccurredAt,
		Type:         string(n.Type),
		Body:         body,
	}, nil
}

func Decode(body []byte) (domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return n, errors.Wrap(domain.ErrInvalidInput, err.Error())
	}
	if n.ID == "" || n.Type == "" || n.RecipientID == "" {
		return n, errors.Wrap(domain.ErrInvalidInput, "notification is missing id, type or recipient")
	}
	return n, nil
}

type RabbitSink struct {
	pub Publisher
}

func NewRabbitSink(pub Publisher) *RabbitSink {
	return &RabbitSink{pub: pub}
}

func (s *RabbitSink) Name() string  { return "rabbit" }
func (s *RabbitSink) Relayed() bool { return true }

func (s *RabbitSink) Send(ctx context.Context, n domain.Notification) error {
	msg, err := Encode(n)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, RoutingKey(n.Type), msg)
}
