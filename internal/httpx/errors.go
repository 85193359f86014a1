package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-order-fulfillment/internal/ingest"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"go.uber.org/zap"
	"net/http"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP codes. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrEmptyCart),
		errors.Is(err, orders.ErrInvalidQuantity),
		errors.Is(err, orders.ErrInvalidProduct),
		errors.Is(err, orders.ErrInvalidOutcome),
		errors.Is(err, ingest.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrOutOfStock),
		errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrNotPayable),
		errors.Is(err, orders.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, orders.ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		h.log().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
