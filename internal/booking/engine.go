package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

var systemActor = domain.Actor{ID: "booking-engine", Role: domain.RoleSystem}

type Options struct {
	PaymentWindow time.Duration
	Location      *time.Location
	Currency      string
	Clock         clockwork.Clock
	Timer         DeadlineTimer
	Notifier      Notifier
	Logger        observability.Logger
}

// Engine drives bookings through their lifecycle. Each operation is one
// transaction against the Store; timers and notifications run after commit.
type Engine struct {
	store    Store
	catalog  VenueCatalog
	clock    clockwork.Clock
	timer    DeadlineTimer
	notifier Notifier
	logger   observability.Logger
	tracer   trace.Tracer
	window   time.Duration
	loc      *time.Location
	currency string
}

func NewEngine(store Store, catalog VenueCatalog, opts Options) *Engine {
	e := &Engine{
		store:    store,
		catalog:  catalog,
		clock:    opts.Clock,
		timer:    opts.Timer,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		tracer:   otel.Tracer("booking"),
		window:   opts.PaymentWindow,
		loc:      opts.Location,
		currency: opts.Currency,
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.timer == nil {
		e.timer = nopTimer{}
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.logger == nil {
		e.logger = observability.NewNopLogger()
	}
	if e.window <= 0 {
		e.window = 24 * time.Hour
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.currency == "" {
		e.currency = "INR"
	}
	e.logger = e.logger.WithField("component", "booking")
	return e
}

// SetTimer binds the deadline timer after construction; the scheduler that
// implements it needs the engine first.
func (e *Engine) SetTimer(t DeadlineTimer) {
	if t == nil {
		t = nopTimer{}
	}
	e.timer = t
}

func (e *Engine) Now() time.Time { return e.clock.Now() }

type Inquiry struct {
	VenueID      string
	DatesTimings []domain.DateTiming
}

// CreateInquiry prices the request, soft-holds every date and stores the
// booking in pending_owner_response. Nothing is stored when any date is taken.
func (e *Engine) CreateInquiry(ctx context.Context, actor domain.Actor, in Inquiry) (_ *domain.Booking, err error) {
	ctx, span := e.tracer.Start(ctx, "booking.CreateInquiry", trace.WithAttributes(attribute.String("venue.id", in.VenueID)))
	defer func() { endSpan(span, err) }()

	if actor.Role != domain.RoleCustomer || actor.ID == "" {
		return nil, errors.Wrap(domain.ErrForbidden, "only customers submit inquiries")
	}
	venue, err := e.catalog.GetVenue(ctx, in.VenueID)
	if err != nil {
		return nil, errors.Wrapf(err, "get venue %s", in.VenueID)
	}

	now := e.clock.Now()
	pricing, err := domain.ComputePricing(venue.PricePerDay, in.DatesTimings, domain.Today(now, e.loc))
	if err != nil {
		return nil, err
	}
	currency := venue.Currency
	if currency == "" {
		currency = e.currency
	}

	b, err := domain.NewBooking(domain.NewBookingParams{
		ID:           uuid.NewString(),
		VenueID:      venue.ID,
		OwnerID:      venue.OwnerID,
		CustomerID:   actor.ID,
		DatesTimings: in.DatesTimings,
		Pricing:      pricing,
		Currency:     currency,
		CreatedAt:    now,
	})
	if err != nil {
		return nil, err
	}
	from := b.Status
	if _, err := b.Apply(domain.EventSubmit, domain.Change{Actor: actor, At: now}); err != nil {
		return nil, err
	}
	b.Version = 1

	err = e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.TryHold(ctx, b.VenueID, b.Dates(), b.ID, nil); err != nil {
			return err
		}
		return tx.InsertBooking(ctx, b)
	})
	if err != nil {
		if errors.Is(err, domain.ErrDatesUnavailable) {
			observability.HoldConflicts.Inc()
		}
		return nil, e.fail("create_inquiry", b.ID, err)
	}

	e.committed(from, b)
	e.notify(ctx, domain.NotifyInquiryReceived, b, b.OwnerID, domain.RoleOwner, nil)
	return b, nil
}

// Accept is the owner's acceptance; it starts the payment window.
func (e *Engine) Accept(ctx context.Context, actor domain.Actor, id string) (_ *domain.Booking, err error) {
	ctx, span := e.startSpan(ctx, "booking.Accept", id)
	defer func() { endSpan(span, err) }()

	b, err := e.transition(ctx, id, domain.EventOwnerAccept, domain.Change{Actor: actor, At: e.clock.Now(), PaymentWindow: e.window})
	if err != nil {
		return nil, e.fail("accept", id, err)
	}
	e.timer.Schedule(b.ID, *b.PaymentDeadline)
	e.notify(ctx, domain.NotifyBookingAccepted, b, b.CustomerID, domain.RoleCustomer, map[string]interface{}{
		"payment_deadline": b.PaymentDeadline.Format(time.RFC3339),
	})
	return b, nil
}

func (e *Engine) Decline(ctx context.Context, actor domain.Actor, id string) (_ *domain.Booking, err error) {
	ctx, span := e.startSpan(ctx, "booking.Decline", id)
	defer func() { endSpan(span, err) }()

	b, err := e.transition(ctx, id, domain.EventOwnerDecline, domain.Change{Actor: actor, At: e.clock.Now()})
	if err != nil {
		return nil, e.fail("decline", id, err)
	}
	e.notify(ctx, domain.NotifyBookingDeclined, b, b.CustomerID, domain.RoleCustomer, nil)
	return b, nil
}

// Cancel withdraws a booking that is not yet confirmed and tells the other party.
func (e *Engine) Cancel(ctx context.Context, actor domain.Actor, id string) (_ *domain.Booking, err error) {
	ctx, span := e.startSpan(ctx, "booking.Cancel", id)
	defer func() { endSpan(span, err) }()

	b, err := e.transition(ctx, id, domain.EventCancel, domain.Change{Actor: actor, At: e.clock.Now()})
	if err != nil {
		return nil, e.fail("cancel", id, err)
	}
	e.timer.Cancel(b.ID)

	payload := map[string]interface{}{"cancelled_by": string(actor.Role)}
	if actor.Role != domain.RoleCustomer {
		e.notify(ctx, domain.NotifyBookingCancelled, b, b.CustomerID, domain.RoleCustomer, payload)
	}
	if actor.Role != domain.RoleOwner {
		e.notify(ctx, domain.NotifyBookingCancelled, b, b.OwnerID, domain.RoleOwner, payload)
	}
	return b, nil
}

// ConfirmPayment applies a verified payment. A payment that lands after the
// booking expired or was cancelled comes back as domain.ErrLatePayment and
// is left for an operator to refund.
func (e *Engine) ConfirmPayment(ctx context.Context, id, orderID, paymentID string) (_ *domain.Booking, err error) {
	ctx, span := e.startSpan(ctx, "booking.ConfirmPayment", id)
	defer func() { endSpan(span, err) }()

	b, err := e.transition(ctx, id, domain.EventPaymentVerified, domain.Change{Actor: systemActor, At: e.clock.Now(), OrderID: orderID, PaymentID: paymentID})
	if err != nil {
		if late, ok := e.latePayment(ctx, id, orderID, paymentID, err); ok {
			return nil, late
		}
		return nil, e.fail("confirm_payment", id, err)
	}
	e.timer.Cancel(b.ID)

	payload := map[string]interface{}{"order_id": orderID, "payment_id": paymentID}
	e.notify(ctx, domain.NotifyBookingConfirmed, b, b.CustomerID, domain.RoleCustomer, payload)
	e.notify(ctx, domain.NotifyBookingConfirmed, b, b.OwnerID, domain.RoleOwner, payload)
	return b, nil
}

// RecordPaymentFailure moves the booking to payment_failed. The deadline
// keeps running and the customer may retry.
func (e *Engine) RecordPaymentFailure(ctx context.Context, id, orderID, reason string) (_ *domain.Booking, err error) {
	ctx, span := e.startSpan(ctx, "booking.RecordPaymentFailure", id)
	defer func() { endSpan(span, err) }()

	b, err := e.transition(ctx, id, domain.EventPaymentFailed, domain.Change{Actor: systemActor, At: e.clock.Now()})
	if err != nil {
		return nil, e.fail("payment_failed", id, err)
	}
	e.notify(ctx, domain.NotifyPaymentFailed, b, b.CustomerID, domain.RoleCustomer, map[string]interface{}{
		"order_id":         orderID,
		"reason":           reason,
		"payment_deadline": b.PaymentDeadline.Format(time.RFC3339),
	})
	return b, nil
}

// Expire lapses an unpaid booking past its deadline and frees its dates.
func (e *Engine) Expire(ctx context.Context, id string) (_ *domain.Booking, err error) {
	ctx, span := e.startSpan(ctx, "booking.Expire", id)
	defer func() { endSpan(span, err) }()

	b, err := e.transition(ctx, id, domain.EventDeadlineReached, domain.Change{Actor: systemActor, At: e.clock.Now()})
	if err != nil {
		return nil, err
	}
	observability.BookingsExpired.Inc()
	e.notify(ctx, domain.NotifyBookingExpired, b, b.CustomerID, domain.RoleCustomer, map[string]interface{}{
		"reason": "payment not completed",
	})
	return b, nil
}

// ExpireDue expires up to limit bookings whose deadline has passed and
// returns how many it moved. Bookings that changed underneath (paid,
// cancelled, already expired) are skipped.
func (e *Engine) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := e.store.DueForExpiry(ctx, e.clock.Now(), limit)
	if err != nil {
		return 0, errors.Wrap(err, "list bookings due for expiry")
	}
	expired := 0
	for _, b := range due {
		if _, err := e.Expire(ctx, b.ID); err != nil {
			log := e.logger.WithField("booking_id", b.ID).WithError(err)
			if errors.IsAny(err, domain.ErrStaleState, domain.ErrInvalidTransition, domain.ErrSerializationFailure) {
				log.Debug("skip expiry, booking moved on")
				continue
			}
			log.Error("expire booking")
			continue
		}
		expired++
	}
	return expired, nil
}

type View struct {
	Booking *domain.Booking           `json:"booking"`
	Holds   []domain.AvailabilityHold `json:"holds"`
}

func (e *Engine) Get(ctx context.Context, actor domain.Actor, id string) (*View, error) {
	b, err := e.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Party(actor) {
		return nil, errors.Wrapf(domain.ErrForbidden, "booking %s", id)
	}
	holds, err := e.store.HoldsForBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{Booking: b, Holds: holds}, nil
}

// Availability lists the active holds of a venue between two days inclusive.
func (e *Engine) Availability(ctx context.Context, venueID string, from, to domain.Date) ([]domain.AvailabilityHold, error) {
	if to.Before(from) {
		return nil, errors.Wrapf(domain.ErrInvalidDate, "range %s..%s", from, to)
	}
	return e.store.HoldsForVenue(ctx, venueID, from, to)
}

func (e *Engine) transition(ctx context.Context, id string, event domain.Event, c domain.Change) (*domain.Booking, error) {
	var (
		updated *domain.Booking
		from    domain.Status
	)
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if err := b.Authorize(event, c.Actor); err != nil {
			return err
		}
		from = b.Status
		version := b.Version
		t, err := b.Apply(event, c)
		if err != nil {
			return err
		}
		// the version check comes first so a losing writer never touches the ledger
		if err := tx.UpdateBooking(ctx, b, version); err != nil {
			return err
		}
		if err := applyLedger(ctx, tx, b, event, t); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.committed(from, updated)
	return updated, nil
}

func applyLedger(ctx context.Context, tx Tx, b *domain.Booking, event domain.Event, t domain.Transition) error {
	switch t.Ledger {
	case domain.LedgerHold:
		return tx.TryHold(ctx, b.VenueID, b.Dates(), b.ID, b.PaymentDeadline)
	case domain.LedgerPromote:
		return tx.PromoteHolds(ctx, b.ID)
	case domain.LedgerRelease:
		return tx.ReleaseHolds(ctx, b.ID)
	}
	if event == domain.EventOwnerAccept {
		return tx.SetHoldExpiry(ctx, b.ID, *b.PaymentDeadline)
	}
	return nil
}

func (e *Engine) latePayment(ctx context.Context, id, orderID, paymentID string, cause error) (error, bool) {
	late := errors.Is(cause, domain.ErrLatePayment) || errors.Is(cause, domain.ErrHoldNotFound)
	if !late && errors.Is(cause, domain.ErrInvalidTransition) {
		if b, err := e.store.GetBooking(ctx, id); err == nil {
			late = b.Status == domain.StatusExpired || b.Status == domain.StatusCancelled
		}
	}
	if !late {
		return nil, false
	}

	observability.LatePayments.Inc()
	e.logger.WithFields(map[string]interface{}{
		"booking_id": id,
		"order_id":   orderID,
		"payment_id": paymentID,
	}).WithError(cause).Error("payment verified after booking left pending_payment, refund required")

	if errors.Is(cause, domain.ErrLatePayment) {
		// deadline passed but the sweep has not run yet
		if _, err := e.Expire(ctx, id); err != nil {
			e.logger.WithField("booking_id", id).WithError(err).Debug("expire after late payment")
		}
	}
	if b, err := e.store.GetBooking(ctx, id); err == nil {
		payload := map[string]interface{}{"order_id": orderID, "payment_id": paymentID, "status": string(b.Status)}
		e.notify(ctx, domain.NotifyLatePayment, b, "operator", domain.RoleOperator, payload)
		e.notify(ctx, domain.NotifyLatePayment, b, b.CustomerID, domain.RoleCustomer, payload)
	}

	if errors.Is(cause, domain.ErrLatePayment) {
		return errors.Wrapf(cause, "order %s payment %s", orderID, paymentID), true
	}
	return errors.Wrapf(domain.ErrLatePayment, "booking %s order %s payment %s: %v", id, orderID, paymentID, cause), true
}

func (e *Engine) committed(from domain.Status, b *domain.Booking) {
	observability.BookingTransitions.WithLabelValues(string(from), string(b.Status)).Inc()
	e.logger.WithFields(map[string]interface{}{
		"booking_id": b.ID,
		"venue_id":   b.VenueID,
		"from":       string(from),
		"to":         string(b.Status),
		"version":    b.Version,
	}).Info("booking transition")
}

// fail logs lifecycle errors for operator review and passes every error through.
func (e *Engine) fail(op, id string, err error) error {
	log := e.logger.WithFields(map[string]interface{}{"op": op, "booking_id": id}).WithError(err)
	switch {
	case domain.IsLifecycle(err):
		log.Error("booking lifecycle error")
	case domain.IsValidation(err), domain.IsConflict(err), errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrNotFound):
		log.Debug("booking request rejected")
	default:
		log.Warn("booking operation failed")
	}
	return err
}

func (e *Engine) notify(ctx context.Context, typ domain.NotificationType, b *domain.Booking, recipient string, role domain.Role, extra map[string]interface{}) {
	payload := map[string]interface{}{
		"venue_id":    b.VenueID,
		"status":      string(b.Status),
		"dates":       datesPayload(b.Dates()),
		"grand_total": int64(b.Pricing.GrandTotal),
		"currency":    b.Currency,
	}
	for k, v := range extra {
		payload[k] = v
	}
	e.notifier.Dispatch(context.WithoutCancel(ctx), domain.Notification{
		ID:            uuid.NewString(),
		Type:          typ,
		BookingID:     b.ID,
		RecipientID:   recipient,
		RecipientRole: role,
		Payload:       payload,
		OccurredAt:    e.clock.Now().UTC(),
	})
}

func datesPayload(dates []domain.Date) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.String()
	}
	return out
}

func (e *Engine) startSpan(ctx context.Context, name, id string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("booking.id", id)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
