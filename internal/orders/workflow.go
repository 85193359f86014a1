package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"time"
)

// Workflow owns the Order/OrderItem lifecycle. It is the only place stock is
// decremented for a sale (CreateOrder) or given back (Cancel).
type Workflow struct {
	Store  Store
	Locker Locker
	Events Publisher
	Cache  StatusCache
	Log    *zap.Logger
	Now    func() time.Time
}

func (w *Workflow) log() *zap.Logger { return loggerOr(w.Log) }

// CreateOrder turns the user's cart into a CREATED order.
//
// Stock is re-checked against the catalog even though Cart.AddItem already did
// so; the authoritative check is the conditional AdjustStock inside the tx.
// The cart lines read here are claimed inside the same tx, so a concurrent
// duplicate checkout that slipped past the lock fails with ErrEmptyCart.
func (w *Workflow) CreateOrder(ctx context.Context, userID string) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.create_order", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	unlock, err := lockerOr(w.Locker).Lock(ctx, fmt.Sprintf(KeyLockCheckout, userID), LockTTL)
	if err != nil {
		return Order{}, recordErr(span, fmt.Errorf("lock checkout: %w", err))
	}
	defer unlock()

	lines, err := w.Store.Carts().ListLines(ctx, userID)
	if err != nil {
		return Order{}, recordErr(span, err)
	}
	if len(lines) == 0 {
		return Order{}, recordErr(span, ErrEmptyCart)
	}

	// cek ulang stok per item
	for _, ln := range lines {
		p, err := w.Store.Catalog().GetProduct(ctx, ln.ProductID)
		if err != nil {
			return Order{}, recordErr(span, fmt.Errorf("product %s: %w", ln.ProductID, err))
		}
		if p.Stock < ln.Quantity {
			return Order{}, recordErr(span, &InsufficientStockError{
				ProductID: p.ID, Requested: ln.Quantity, Available: p.Stock,
			})
		}
	}

	now := nowOr(w.Now)
	order := Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var items []OrderItem

	err = w.Store.WithTx(ctx, func(tx Store) error {
		ids := make([]string, 0, len(lines))
		for _, ln := range lines {
			ids = append(ids, ln.ID)
		}
		if err := tx.Carts().ClaimLines(ctx, userID, ids); err != nil {
			return err
		}

		items = make([]OrderItem, 0, len(lines))
		total := decimal.Zero
		for _, ln := range lines {
			// kurangi stok, harga di-snapshot dari state produk saat itu
			p, err := tx.Catalog().AdjustStock(ctx, ln.ProductID, -ln.Quantity)
			if err != nil {
				return err
			}
			it := OrderItem{
				ID:        uuid.NewString(),
				OrderID:   order.ID,
				ProductID: ln.ProductID,
				Quantity:  ln.Quantity,
				Price:     p.Price,
			}
			items = append(items, it)
			total = total.Add(it.Subtotal())
		}
		order.TotalAmount = total
		return tx.Orders().CreateOrder(ctx, order, items)
	})
	if err != nil {
		return Order{}, recordErr(span, err)
	}

	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int("order.items", len(items)))
	w.log().Info("order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.String("total", order.TotalAmount.String()),
		zap.Int("items", len(items)),
	)

	cacheOr(w.Cache).SetStatus(ctx, order.ID, order.Status)
	publisherOr(w.Events).Publish(ctx, EventOrderCreated, order.ID, OrderCreatedPayload{
		OrderID:     order.ID,
		UserID:      userID,
		Items:       toItemPrices(items),
		TotalAmount: order.TotalAmount,
	})
	return order, nil
}

// Cancel gives every item's quantity back to its product and marks the order
// CANCELLED, both inside one tx. Only CREATED and FAILED orders can be cancelled.
func (w *Workflow) Cancel(ctx context.Context, orderID string) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.cancel", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	unlock, err := lockerOr(w.Locker).Lock(ctx, fmt.Sprintf(KeyLockOrder, orderID), LockTTL)
	if err != nil {
		return Order{}, recordErr(span, fmt.Errorf("lock order: %w", err))
	}
	defer unlock()

	var (
		from      Status
		updated   Order
		restocked []ItemQty
	)
	err = w.Store.WithTx(ctx, func(tx Store) error {
		o, err := tx.Orders().GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("order %s: %w", orderID, err)
		}
		if !CanTransition(o.Status, StatusCancelled) {
			return &InvalidTransitionError{OrderID: orderID, Current: o.Status, Attempted: StatusCancelled}
		}
		from = o.Status

		items, err := tx.Orders().FindItemsByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		restocked = restocked[:0]
		for _, it := range items {
			_, err := tx.Catalog().AdjustStock(ctx, it.ProductID, it.Quantity)
			if errors.Is(err, ErrNotFound) {
				// produk sudah dihapus, tidak ada yang bisa di-restock
				w.log().Warn("restock skipped, product gone",
					zap.String("order_id", orderID),
					zap.String("product_id", it.ProductID),
					zap.Int("qty", it.Quantity),
				)
				continue
			}
			if err != nil {
				return err
			}
			restocked = append(restocked, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
		}

		updated, err = tx.Orders().UpdateOrderStatus(ctx, orderID, StatusCancelled)
		return err
	})
	if err != nil {
		return Order{}, recordErr(span, err)
	}

	w.log().Info("order cancelled",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.Int("restocked_items", len(restocked)),
	)
	cacheOr(w.Cache).SetStatus(ctx, orderID, StatusCancelled)
	publisherOr(w.Events).Publish(ctx, EventOrderCancelled, orderID, OrderCancelledPayload{
		OrderID: orderID, From: from, Restocked: restocked,
	})
	return updated, nil
}

// UpdateStatus is reserved for the Reconciler. It only checks that the order
// exists; the caller is responsible for asking for legal transitions.
func (w *Workflow) UpdateStatus(ctx context.Context, orderID string, status Status) (Order, error) {
	var (
		o    Order
		from Status
	)
	err := w.Store.WithTx(ctx, func(tx Store) error {
		var err error
		o, from, err = w.setStatus(ctx, tx, orderID, status)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	w.statusChanged(ctx, orderID, from, status)
	return o, nil
}

// setStatus writes the new status through tx so the reconciler can update the
// payment and the order in the same transaction.
func (w *Workflow) setStatus(ctx context.Context, tx Store, orderID string, status Status) (Order, Status, error) {
	cur, err := tx.Orders().GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, "", fmt.Errorf("order %s: %w", orderID, err)
	}
	o, err := tx.Orders().UpdateOrderStatus(ctx, orderID, status)
	if err != nil {
		return Order{}, "", err
	}
	return o, cur.Status, nil
}

func (w *Workflow) statusChanged(ctx context.Context, orderID string, from, to Status) {
	if from == to {
		return
	}
	w.log().Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	cacheOr(w.Cache).SetStatus(ctx, orderID, to)
	publisherOr(w.Events).Publish(ctx, EventOrderStatusChanged, orderID, OrderStatusChangedPayload{
		OrderID: orderID, From: from, To: to,
	})
}

func (w *Workflow) GetOrder(ctx context.Context, orderID string) (Order, error) {
	o, err := w.Store.Orders().GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, fmt.Errorf("order %s: %w", orderID, err)
	}
	return o, nil
}

func (w *Workflow) GetOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	return w.Store.Orders().FindItemsByOrder(ctx, orderID)
}

func (w *Workflow) GetUserOrders(ctx context.Context, userID string) ([]Order, error) {
	return w.Store.Orders().FindOrdersByUser(ctx, userID)
}

func toItemPrices(items []OrderItem) []ItemPrice {
	out := make([]ItemPrice, 0, len(items))
	for _, it := range items {
		out = append(out, ItemPrice{ProductID: it.ProductID, Qty: it.Quantity, Price: it.Price})
	}
	return out
}
