package http

import (
	"crypto/rsa"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robertarktes/venue-reservations/internal/idempotency"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

type RouterOptions struct {
	PublicKey   *rsa.PublicKey
	Limiter     Limiter
	Limits      RateLimits
	Idempotency *idempotency.Idempotency
}

// SetupRouter mounts the API. Limiter and Idempotency are optional.
func SetupRouter(h *Handlers, logger observability.Logger, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Post("/v1/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(opts.PublicKey))
		if opts.Limiter != nil {
			r.Use(RateLimitMiddleware(opts.Limiter, opts.Limits))
		}
		if opts.Idempotency != nil {
			r.Use(IdempotencyMiddleware(opts.Idempotency))
		}

		r.Post("/v1/bookings", h.CreateBooking)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Post("/v1/bookings/{id}/accept", h.AcceptBooking)
		r.Post("/v1/bookings/{id}/decline", h.DeclineBooking)
		r.Post("/v1/bookings/{id}/cancel", h.CancelBooking)
		r.Post("/v1/bookings/{id}/payment-order", h.CreatePaymentOrder)
		r.Post("/v1/payments/verify", h.VerifyPayment)
		r.Get("/v1/venues/{venueID}/availability", h.Availability)
	})

	return r
}
