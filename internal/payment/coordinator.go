package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robertarktes/venue-reservations/internal/booking"
	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

var systemActor = domain.Actor{ID: "payment-coordinator", Role: domain.RoleSystem}

// Gateway opens orders with the external payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, amount domain.Money, currency, receiptID string) (GatewayOrder, error)
}

type GatewayOrder struct {
	OrderID    string
	GatewayKey string
}

type OrderStore interface {
	InsertOrder(ctx context.Context, o *domain.PaymentOrder) error
	GetOrder(ctx context.Context, id string) (*domain.PaymentOrder, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, paymentID string, at time.Time) error
}

// Bookings is the engine surface the coordinator drives.
type Bookings interface {
	Get(ctx context.Context, actor domain.Actor, id string) (*booking.View, error)
	ConfirmPayment(ctx context.Context, id, orderID, paymentID string) (*domain.Booking, error)
	RecordPaymentFailure(ctx context.Context, id, orderID, reason string) (*domain.Booking, error)
	Now() time.Time
}

type OrderHandle struct {
	OrderID    string       `json:"order_id"`
	BookingID  string       `json:"booking_id"`
	Amount     domain.Money `json:"amount"`
	Currency   string       `json:"currency"`
	GatewayKey string       `json:"gateway_key"`
}

type VerifyResult struct {
	BookingID string        `json:"booking_id"`
	Status    domain.Status `json:"status"`
}

type Coordinator struct {
	bookings Bookings
	gateway  Gateway
	orders   OrderStore
	secret   []byte
	timeout  time.Duration
	logger   observability.Logger
	tracer   trace.Tracer
}

func NewCoordinator(bookings Bookings, gateway Gateway, orders OrderStore, secret string, timeout time.Duration, logger observability.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Coordinator{
		bookings: bookings,
		gateway:  gateway,
		orders:   orders,
		secret:   []byte(secret),
		timeout:  timeout,
		logger:   logger.WithField("component", "payment"),
		tracer:   otel.Tracer("payment"),
	}
}

// Sign is the signature the gateway attaches to a successful payment.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Coordinator) validSignature(orderID, paymentID, signature string) bool {
	want := Sign(string(c.secret), orderID, paymentID)
	return hmac.Equal([]byte(want), []byte(signature))
}

// CreateOrder opens a gateway order for the booking's grand total. The
// gateway call happens outside any transaction and is not retried.
func (c *Coordinator) CreateOrder(ctx context.Context, actor domain.Actor, bookingID string) (_ *OrderHandle, err error) {
	ctx, span := c.tracer.Start(ctx, "payment.CreateOrder", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer func() { endSpan(span, err) }()

	if actor.Role != domain.RoleCustomer {
		return nil, errors.Wrap(domain.ErrForbidden, "only the customer pays for a booking")
	}
	view, err := c.bookings.Get(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	b := view.Booking
	if !b.Status.AwaitingPayment() {
		return nil, errors.Wrapf(domain.ErrInvalidTransition, "booking %s is %s, not awaiting payment", b.ID, b.Status)
	}
	now := c.bookings.Now()
	if b.DeadlinePassed(now) {
		return nil, errors.Wrapf(domain.ErrInvalidTransition, "payment window for booking %s closed at %s", b.ID, b.PaymentDeadline.Format(time.RFC3339))
	}

	gctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	order, err := c.gateway.CreateOrder(gctx, b.Pricing.GrandTotal, b.Currency, b.ID)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "create gateway order for booking %s", b.ID), domain.ErrGateway)
	}

	po := &domain.PaymentOrder{
		ID:        order.OrderID,
		BookingID: b.ID,
		Amount:    b.Pricing.GrandTotal,
		Currency:  b.Currency,
		Status:    domain.OrderCreated,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if err := c.orders.InsertOrder(ctx, po); err != nil {
		return nil, errors.Wrapf(err, "store payment order %s", order.OrderID)
	}
	c.logger.WithFields(map[string]interface{}{
		"booking_id": b.ID,
		"order_id":   order.OrderID,
		"amount":     int64(po.Amount),
	}).Info("payment order created")

	return &OrderHandle{
		OrderID:    order.OrderID,
		BookingID:  b.ID,
		Amount:     po.Amount,
		Currency:   po.Currency,
		GatewayKey: order.GatewayKey,
	}, nil
}

// Verify checks the gateway signature and confirms the booking. A bad
// signature never touches the booking.
func (c *Coordinator) Verify(ctx context.Context, orderID, paymentID, signature string) (_ *VerifyResult, err error) {
	ctx, span := c.tracer.Start(ctx, "payment.Verify", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	if orderID == "" || paymentID == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "order id and payment id are required")
	}
	if !c.validSignature(orderID, paymentID, signature) {
		c.logger.WithFields(map[string]interface{}{"order_id": orderID, "payment_id": paymentID}).Warn("payment signature mismatch")
		return nil, errors.Wrapf(domain.ErrSignatureMismatch, "order %s", orderID)
	}

	return c.confirm(ctx, orderID, paymentID, nil)
}

// Settlement is a successful payment reported by a gateway event whose
// authenticity the gateway adapter has already checked.
type Settlement struct {
	OrderID   string
	PaymentID string
	Amount    domain.Money
	Currency  string
}

// Settle confirms the booking for a gateway-verified payment. The captured
// amount must match the order.
func (c *Coordinator) Settle(ctx context.Context, s Settlement) (_ *VerifyResult, err error) {
	ctx, span := c.tracer.Start(ctx, "payment.Settle", trace.WithAttributes(attribute.String("order.id", s.OrderID)))
	defer func() { endSpan(span, err) }()

	if s.OrderID == "" || s.PaymentID == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "order id and payment id are required")
	}
	return c.confirm(ctx, s.OrderID, s.PaymentID, &s)
}

func (c *Coordinator) confirm(ctx context.Context, orderID, paymentID string, settled *Settlement) (*VerifyResult, error) {
	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if settled != nil && (settled.Amount != order.Amount || !strings.EqualFold(settled.Currency, order.Currency)) {
		return nil, errors.Wrapf(domain.ErrAmountMismatch, "gateway captured %d %s for order %s of %d %s",
			settled.Amount, settled.Currency, orderID, order.Amount, order.Currency)
	}
	view, err := c.bookings.Get(ctx, systemActor, order.BookingID)
	if err != nil {
		return nil, err
	}
	b := view.Booking

	if order.Status == domain.OrderPaid {
		if order.PaymentID == paymentID {
			return &VerifyResult{BookingID: b.ID, Status: b.Status}, nil
		}
		return nil, errors.Wrapf(domain.ErrInvalidTransition, "order %s already paid by %s", orderID, order.PaymentID)
	}
	if order.Amount != b.Pricing.GrandTotal || order.Currency != b.Currency {
		return nil, errors.Wrapf(domain.ErrAmountMismatch, "order %s is %d %s, booking %s totals %d %s",
			orderID, order.Amount, order.Currency, b.ID, b.Pricing.GrandTotal, b.Currency)
	}

	confirmed, err := c.bookings.ConfirmPayment(ctx, b.ID, orderID, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrLatePayment) {
			// the money moved; keep the order state true for the refund
			c.markOrder(ctx, orderID, domain.OrderPaid, paymentID)
		}
		return nil, err
	}
	c.markOrder(ctx, orderID, domain.OrderPaid, paymentID)
	return &VerifyResult{BookingID: confirmed.ID, Status: confirmed.Status}, nil
}

// Fail records a failed payment attempt reported by the gateway.
func (c *Coordinator) Fail(ctx context.Context, orderID, reason string) (err error) {
	ctx, span := c.tracer.Start(ctx, "payment.Fail", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == domain.OrderPaid {
		c.logger.WithField("order_id", orderID).Debug("ignore failure report for paid order")
		return nil
	}
	if _, err := c.bookings.RecordPaymentFailure(ctx, order.BookingID, orderID, reason); err != nil {
		return err
	}
	c.markOrder(ctx, orderID, domain.OrderFailed, "")
	return nil
}

func (c *Coordinator) markOrder(ctx context.Context, orderID string, status domain.OrderStatus, paymentID string) {
	if err := c.orders.UpdateOrderStatus(ctx, orderID, status, paymentID, c.bookings.Now()); err != nil {
		c.logger.WithField("order_id", orderID).WithError(err).Error("update payment order status")
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
