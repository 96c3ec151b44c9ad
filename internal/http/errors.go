package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/robertarktes/venue-reservations/internal/domain"
)

type errorResponse struct {
	Error            string            `json:"error"`
	Message          string            `json:"message"`
	ConflictingDates []domain.Date     `json:"conflicting_dates,omitempty"`
	Fields           map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeDomainError maps engine errors onto HTTP statuses. Anything
// unclassified is a 500 with a generic message.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:            "dates_unavailable",
			Message:          conflict.Error(),
			ConflictingDates: conflict.Dates,
		})
	case domain.IsValidation(err):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrSignatureMismatch):
		writeError(w, http.StatusBadRequest, "signature_mismatch", "payment signature does not match")
	case errors.Is(err, domain.ErrAmountMismatch):
		writeError(w, http.StatusBadRequest, "amount_mismatch", err.Error())
	case errors.Is(err, domain.ErrGateway):
		writeError(w, http.StatusBadGateway, "gateway_error", "payment gateway unavailable")
	case errors.Is(err, domain.ErrLatePayment):
		writeError(w, http.StatusConflict, "late_payment", "payment arrived after the booking lapsed; a refund will be issued")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.IsAny(err, domain.ErrStaleState, domain.ErrSerializationFailure):
		writeError(w, http.StatusConflict, "conflict", "booking changed concurrently, retry")
	case errors.Is(err, domain.ErrHoldNotFound):
		writeError(w, http.StatusConflict, "hold_not_found", err.Error())
	default:
		loggerFrom(r.Context()).WithError(err).Error("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
		Error:   "validation_failed",
		Message: "request failed validation",
		Fields:  fields,
	})
}
