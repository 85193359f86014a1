package orders

import (
	"context"
	"time"
)

// Store implementations translate their driver's "no rows" into ErrNotFound.
type CatalogStore interface {
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	SearchProducts(ctx context.Context, q string) ([]Product, error)
	CreateProduct(ctx context.Context, p Product) error
	UpdateProduct(ctx context.Context, p Product) error
	DeleteProduct(ctx context.Context, id string) error
	// AdjustStock applies delta relative to the current stock in one atomic step.
	// It fails with ErrInsufficientStock if the result would be negative.
	AdjustStock(ctx context.Context, id string, delta int) (Product, error)
}

type CartStore interface {
	GetLine(ctx context.Context, id string) (CartItem, error)
	FindLine(ctx context.Context, userID, productID string) (CartItem, error)
	ListLines(ctx context.Context, userID string) ([]CartItem, error)
	CreateLine(ctx context.Context, it CartItem) error
	UpdateLine(ctx context.Context, it CartItem) error
	DeleteLine(ctx context.Context, id string) error
	ClearLines(ctx context.Context, userID string) error
	// ClaimLines deletes exactly the given lines of userID. If any of them is
	// already gone it deletes nothing and returns ErrEmptyCart.
	ClaimLines(ctx context.Context, userID string, ids []string) error
}

type OrderStore interface {
	CreateOrder(ctx context.Context, o Order, items []OrderItem) error
	GetOrder(ctx context.Context, id string) (Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status Status) (Order, error)
	FindOrdersByUser(ctx context.Context, userID string) ([]Order, error)
	FindItemsByOrder(ctx context.Context, orderID string) ([]OrderItem, error)
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id string) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
	// FindPaymentByOrder returns the most recent payment of the order.
	FindPaymentByOrder(ctx context.Context, orderID string) (Payment, error)
	FindPaymentByIntentRef(ctx context.Context, ref string) (Payment, error)
}

type Store interface {
	Catalog() CatalogStore
	Carts() CartStore
	Orders() OrderStore
	Payments() PaymentStore
	// WithTx runs fn against a Store whose writes are applied all-or-nothing.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// Gateway opens a charge intent and returns the gateway's opaque reference.
type Gateway interface {
	OpenIntent(ctx context.Context, amountMinor int64, currency, reference string, metadata map[string]string) (string, error)
}

// Locker serializes work per key across goroutines (and processes, for the Redis one).
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Publisher fans domain events out; delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload any)
}

type StatusCache interface {
	SetStatus(ctx context.Context, orderID string, status Status)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, string, any) {}

type nopStatusCache struct{}

func (nopStatusCache) SetStatus(context.Context, string, Status) {}
