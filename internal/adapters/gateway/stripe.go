package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/payment"
)

const (
	eventPaymentSucceeded = "payment_intent.succeeded"
	eventPaymentFailed    = "payment_intent.payment_failed"
)

// Stripe opens PaymentIntents for booking payments. The intent id is the
// gateway order id.
type Stripe struct {
	client         *stripe.Client
	publishableKey string
	webhookSecret  string
}

func NewStripe(secretKey, publishableKey, webhookSecret string) *Stripe {
	return &Stripe{
		client:         stripe.NewClient(secretKey),
		publishableKey: publishableKey,
		webhookSecret:  webhookSecret,
	}
}

var _ payment.Gateway = (*Stripe)(nil)

func (s *Stripe) CreateOrder(ctx context.Context, amount domain.Money, currency, receiptID string) (payment.GatewayOrder, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:      stripe.Int64(int64(amount)),
		Currency:    stripe.String(strings.ToLower(currency)),
		Description: stripe.String("venue booking " + receiptID),
	}
	params.AddMetadata("booking_id", receiptID)

	pi, err := s.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return payment.GatewayOrder{}, errors.Wrap(err, "stripe create payment intent")
	}
	return payment.GatewayOrder{OrderID: pi.ID, GatewayKey: s.publishableKey}, nil
}

// Outcome is a payment result reported through the webhook.
type Outcome struct {
	Succeeded bool
	OrderID   string
	// PaymentID is the charge that captured the money, or the intent id when
	// the event carries no charge.
	PaymentID string
	Amount    domain.Money
	Currency  string
	Reason    string
}

// ParseEvent verifies a webhook delivery and extracts a payment outcome.
// ok is false for verified events of any other type.
func (s *Stripe) ParseEvent(payload []byte, signatureHeader string) (o Outcome, ok bool, err error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Outcome{}, false, errors.Wrap(domain.ErrSignatureMismatch, err.Error())
	}
	switch string(event.Type) {
	case eventPaymentSucceeded, eventPaymentFailed:
	default:
		return Outcome{}, false, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return Outcome{}, false, errors.Wrap(domain.ErrInvalidInput, "decode payment intent")
	}
	if pi.ID == "" {
		return Outcome{}, false, errors.Wrap(domain.ErrInvalidInput, "payment intent without id")
	}

	if string(event.Type) == eventPaymentFailed {
		reason := "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		return Outcome{OrderID: pi.ID, Reason: reason}, true, nil
	}

	paymentID := pi.ID
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		paymentID = pi.LatestCharge.ID
	}
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}
	return Outcome{
		Succeeded: true,
		OrderID:   pi.ID,
		PaymentID: paymentID,
		Amount:    domain.Money(amount),
		Currency:  strings.ToUpper(string(pi.Currency)),
	}, true, nil
}
