package httpx

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/ingest"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"time"
)

// StatusCache is the read side of the order status cache.
type StatusCache interface {
	orders.StatusCache
	GetStatus(ctx context.Context, orderID string) (redisx.CachedStatus, bool)
	FillStatus(ctx context.Context, orderID string, status orders.Status, updatedAt time.Time) bool
}

// GatewayRelay hands a verified webhook to the reconciler binary instead of
// reconciling inline. A nil error means the broker has acknowledged it.
type GatewayRelay interface {
	RelayGatewayEvent(ctx context.Context, ev orders.GatewayEvent) error
}

type Handler struct {
	Catalog  *orders.Catalog
	Cart     *orders.Cart
	Workflow *orders.Workflow
	Payments *orders.Reconciler
	Ingest   *ingest.Service
	Status   StatusCache // optional, nil -> selalu baca DB

	Relay         GatewayRelay // optional
	WebhookSecret string       // kosong -> signature tidak dicek
	Log           *zap.Logger
}

func (h *Handler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Post("/", h.createProduct)
		r.Get("/{id}", h.getProduct)
		r.Patch("/{id}", h.updateProduct)
		r.Delete("/{id}", h.deleteProduct)
	})

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/cart", h.listCart)
		r.Delete("/cart", h.clearCart)
		r.Get("/cart/total", h.cartTotal)
		r.Post("/cart/items", h.addCartItem)
		r.Get("/orders", h.userOrders)
		r.Post("/orders", h.checkout)
	})
	r.Patch("/cart/items/{itemID}", h.setCartQuantity)
	r.Delete("/cart/items/{itemID}", h.removeCartItem)

	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Get("/items", h.orderItems)
		r.Get("/status", h.orderStatus)
		r.Post("/cancel", h.cancelOrder)
		r.Post("/payments", h.createChargeIntent)
		r.Get("/payment", h.orderPayment)
	})
	r.Get("/payments/{id}", h.getPayment)

	r.Post("/webhooks/payment", h.paymentWebhook)
}

// ---- response bodies ----

type productView struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toProductView(p orders.Product) productView {
	return productView(p)
}

type cartItemView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toCartItemView(it orders.CartItem) cartItemView {
	return cartItemView(it)
}

type orderView struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      orders.Status   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toOrderView(o orders.Order) orderView {
	return orderView(o)
}

type orderItemView struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type paymentView struct {
	ID               string               `json:"id"`
	OrderID          string               `json:"order_id"`
	Amount           decimal.Decimal      `json:"amount"`
	Status           orders.PaymentStatus `json:"status"`
	GatewayChargeRef string               `json:"gateway_charge_ref,omitempty"`
	GatewayOrderRef  string               `json:"gateway_order_ref"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func toPaymentView(p orders.Payment) paymentView {
	return paymentView(p)
}

func mapSlice[T, V any](in []T, f func(T) V) []V {
	out := make([]V, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
