package http

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/robertarktes/venue-reservations/internal/idempotency"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

const (
	idempotencyHeader = "Idempotency-Key"
	minIdempotencyKey = 16
	maxBodyBytes      = 1 << 20
)

var nopLogger = observability.NewNopLogger()

func loggerFrom(ctx context.Context) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return nopLogger
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := logger.WithField("request_id", middleware.GetReqID(r.Context()))
			ctx := context.WithValue(r.Context(), loggerKey, entry)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			entry.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
			}).Info("request handled")
		})
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		observability.RequestsTotal.WithLabelValues(routePattern(r), strconv.Itoa(ww.Status()), r.Method).Inc()
	})
}

func TracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(
			attribute.String("http.route", routePattern(r)),
			attribute.Int("http.status_code", ww.Status()),
		)
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

// Limiter is satisfied by rateLimit.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error)
}

type RateLimits struct {
	PerUser int
	PerIP   int
	Period  time.Duration
}

type limitKey struct {
	key  string
	rate int
}

// RateLimitMiddleware runs after authentication so it can key on the caller.
// Limiter errors let the request through.
func RateLimitMiddleware(rl Limiter, limits RateLimits) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := loggerFrom(r.Context())
			keys := []limitKey{{"ip:" + clientIP(r), limits.PerIP}}
			if actor, ok := actorFrom(r.Context()); ok {
				keys = append(keys, limitKey{"user:" + actor.ID, limits.PerUser})
			}
			for _, k := range keys {
				ok, err := rl.Allow(r.Context(), k.key, k.rate, limits.Period)
				if err != nil {
					log.WithError(err).Warn("rate limiter unavailable")
					continue
				}
				if !ok {
					observability.RateLimitExceeded.Inc()
					w.Header().Set("Retry-After", strconv.Itoa(int(limits.Period.Seconds())))
					writeError(w, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IdempotencyMiddleware requires an Idempotency-Key on POST requests and
// replays the stored response for a repeated key. Server errors are not
// stored so the client can retry them.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(idempotencyHeader)
			if key == "" {
				writeError(w, http.StatusBadRequest, "missing_idempotency_key", "missing Idempotency-Key")
				return
			}
			if len(key) < minIdempotencyKey {
				writeError(w, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key must be at least 16 characters")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", "could not read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			subject := ""
			if actor, ok := actorFrom(r.Context()); ok {
				subject = actor.ID
			}
			scoped := subject + ":" + key
			fp := idempotency.Fingerprint(subject, r.Method, r.URL.Path, body)
			log := loggerFrom(r.Context()).WithField("idempotency_key", key)

			stored, err := idemp.Begin(r.Context(), scoped, fp)
			switch {
			case errors.Is(err, idempotency.ErrInFlight):
				writeError(w, http.StatusConflict, "request_in_progress", err.Error())
				return
			case errors.Is(err, idempotency.ErrKeyReused):
				writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", err.Error())
				return
			case err != nil:
				log.WithError(err).Warn("idempotency store unavailable, serving without it")
				next.ServeHTTP(w, r)
				return
			case stored != nil:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			ctx := context.WithoutCancel(r.Context())
			if rec.status >= http.StatusInternalServerError {
				if err := idemp.Abort(ctx, scoped); err != nil {
					log.WithError(err).Warn("release idempotency key")
				}
				return
			}
			resp := idempotency.Response{Status: rec.status, Body: rec.body.Bytes(), Fingerprint: fp}
			if err := idemp.Finish(ctx, scoped, resp); err != nil {
				log.WithError(err).Warn("store idempotent response")
			}
		})
	}
}

type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
