package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ariefcatur/go-order-fulfillment/internal/ingest"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("order o1: %w", orders.ErrNotFound), http.StatusNotFound},
		{orders.ErrEmptyCart, http.StatusBadRequest},
		{orders.ErrInvalidQuantity, http.StatusBadRequest},
		{fmt.Errorf("%w: name required", orders.ErrInvalidProduct), http.StatusBadRequest},
		{ingest.ErrMalformed, http.StatusBadRequest},
		{&orders.InsufficientStockError{ProductID: "p1", Requested: 3, Available: 1}, http.StatusConflict},
		{orders.ErrInvalidTransition, http.StatusConflict},
		{orders.ErrNotPayable, http.StatusConflict},
		{&orders.ConflictError{PaymentID: "p1", Current: orders.PaymentSuccess, Incoming: orders.OutcomeFailed}, http.StatusConflict},
		{fmt.Errorf("open intent: %w", orders.ErrGateway), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
