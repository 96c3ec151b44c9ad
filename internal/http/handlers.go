package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/robertarktes/venue-reservations/internal/adapters/gateway"
	"github.com/robertarktes/venue-reservations/internal/booking"
	"github.com/robertarktes/venue-reservations/internal/domain"
	"github.com/robertarktes/venue-reservations/internal/payment"
)

// PaymentEvents verifies gateway webhook deliveries.
type PaymentEvents interface {
	ParseEvent(payload []byte, signatureHeader string) (gateway.Outcome, bool, error)
}

// Checker reports whether a dependency is ready to serve.
type Checker func(ctx context.Context) error

type Handlers struct {
	engine   *booking.Engine
	payments *payment.Coordinator
	webhook  PaymentEvents
	checks   map[string]Checker
	validate *validator.Validate
}

func NewHandlers(engine *booking.Engine, payments *payment.Coordinator, webhook PaymentEvents, checks map[string]Checker) *Handlers {
	return &Handlers{
		engine:   engine,
		payments: payments,
		webhook:  webhook,
		checks:   checks,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type dateTimingRequest struct {
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeFrom string `json:"time_from" validate:"required,datetime=15:04"`
	TimeTo   string `json:"time_to" validate:"required,datetime=15:04"`
}

type createBookingRequest struct {
	VenueID      string              `json:"venue_id" validate:"required,max=64"`
	DatesTimings []dateTimingRequest `json:"dates_timings" validate:"required,min=1,max=60,dive"`
}

func (req createBookingRequest) inquiry() (booking.Inquiry, error) {
	in := booking.Inquiry{VenueID: req.VenueID, DatesTimings: make([]domain.DateTiming, len(req.DatesTimings))}
	for i, dt := range req.DatesTimings {
		date, err := domain.ParseDate(dt.Date)
		if err != nil {
			return in, err
		}
		from, err := domain.ParseTimeOfDay(dt.TimeFrom)
		if err != nil {
			return in, err
		}
		to, err := domain.ParseTimeOfDay(dt.TimeTo)
		if err != nil {
			return in, err
		}
		in.DatesTimings[i] = domain.DateTiming{Date: date, TimeFrom: from, TimeTo: to}
	}
	return in, nil
}

type verifyPaymentRequest struct {
	OrderID   string `json:"order_id" validate:"required,max=255"`
	PaymentID string `json:"payment_id" validate:"required,max=255"`
	Signature string `json:"signature" validate:"required,hexadecimal"`
}

// decode reads a JSON body and validates it; it writes the error response
// itself and reports false when the handler should stop.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func mustActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	}
	return actor, ok
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req createBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.inquiry()
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	b, err := h.engine.CreateInquiry(r.Context(), actor, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

type transitionFunc func(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error)

func (h *Handlers) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustActor(w, r)
		if !ok {
			return
		}
		b, err := fn(r.Context(), actor, chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (h *Handlers) AcceptBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(h.engine.Accept)(w, r)
}

func (h *Handlers) DeclineBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(h.engine.Decline)(w, r)
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(h.engine.Cancel)(w, r)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	view, err := h.engine.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type availabilityDay struct {
	Date domain.Date     `json:"date"`
	Kind domain.HoldKind `json:"kind"`
}

// Availability lists the taken days of a venue without exposing whose
// bookings hold them.
func (h *Handlers) Availability(w http.ResponseWriter, r *http.Request) {
	from, err := domain.ParseDate(r.URL.Query().Get("from"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	to, err := domain.ParseDate(r.URL.Query().Get("to"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	venueID := chi.URLParam(r, "venueID")
	holds, err := h.engine.Availability(r.Context(), venueID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	taken := make([]availabilityDay, len(holds))
	for i, hd := range holds {
		taken[i] = availabilityDay{Date: hd.Date, Kind: hd.Kind}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"venue_id": venueID,
		"from":     from,
		"to":       to,
		"taken":    taken,
	})
}

func (h *Handlers) CreatePaymentOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	handle, err := h.payments.CreateOrder(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.payments.Verify(r.Context(), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PaymentWebhook takes payment results from the gateway. Verified events of
// other types are acknowledged and ignored.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhook == nil {
		writeError(w, http.StatusNotFound, "not_found", "webhook not configured")
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "could not read request body")
		return
	}
	outcome, ok, err := h.webhook.ParseEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if !outcome.Succeeded {
		if err := h.payments.Fail(r.Context(), outcome.OrderID, outcome.Reason); err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
		return
	}

	res, err := h.payments.Settle(r.Context(), payment.Settlement{
		OrderID:   outcome.OrderID,
		PaymentID: outcome.PaymentID,
		Amount:    outcome.Amount,
		Currency:  outcome.Currency,
	})
	if errors.Is(err, domain.ErrLatePayment) {
		// acknowledged so the gateway stops redelivering; the order is kept for refund
		writeJSON(w, http.StatusOK, map[string]string{"status": "late_payment"})
		return
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
