package httpx

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/go-chi/chi/v5"
	"net/http"
	"time"
)

type orderStatusResp struct {
	OrderID   string        `json:"order_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
	Cached    bool          `json:"cached"`
}

// POST /users/{userID}/orders: checkout seluruh isi cart
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Workflow.CreateOrder(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderView(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Workflow.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (h *Handler) orderItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	orderID := chi.URLParam(r, "id")
	if _, err := h.Workflow.GetOrder(ctx, orderID); err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.Workflow.GetOrderItems(ctx, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(items, func(it orders.OrderItem) orderItemView {
		return orderItemView{
			ID: it.ID, OrderID: it.OrderID, ProductID: it.ProductID,
			Quantity: it.Quantity, Price: it.Price, Subtotal: it.Subtotal(),
		}
	}))
}

func (h *Handler) userOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Workflow.GetUserOrders(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(list, toOrderView))
}

// GET /orders/{id}/status: cache dulu, fallback ke DB lalu isi cache kalau masih kosong
func (h *Handler) orderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	orderID := chi.URLParam(r, "id")
	if h.Status != nil {
		if cs, ok := h.Status.GetStatus(ctx, orderID); ok {
			writeJSON(w, http.StatusOK, orderStatusResp{OrderID: orderID, Status: cs.Status, UpdatedAt: cs.UpdatedAt, Cached: true})
			return
		}
	}

	o, err := h.Workflow.GetOrder(ctx, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.Status != nil {
		// SetNX: transisi yang commit setelah baca di atas tidak tertimpa
		h.Status.FillStatus(ctx, orderID, o.Status, o.UpdatedAt)
	}
	writeJSON(w, http.StatusOK, orderStatusResp{OrderID: orderID, Status: o.Status, UpdatedAt: o.UpdatedAt})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Workflow.Cancel(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

// ---- payments ----

func (h *Handler) createChargeIntent(w http.ResponseWriter, r *http.Request) {
	// gateway timeout sudah dibatasi di Reconciler, ini hanya batas atas request
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	p, err := h.Payments.CreateChargeIntent(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentView(p))
}

func (h *Handler) orderPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Payments.GetByOrderID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentView(p))
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Payments.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentView(p))
}
