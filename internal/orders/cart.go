package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"time"
)

type Cart struct {
	Store  Store
	Locker Locker // shares the checkout key so adds never interleave with CreateOrder
	Log    *zap.Logger
	Now    func() time.Time
}

func (c *Cart) now() time.Time { return nowOr(c.Now) }

// AddItem checks stock optimistically; CreateOrder validates again.
func (c *Cart) AddItem(ctx context.Context, userID, productID string, qty int) (CartItem, error) {
	if qty <= 0 {
		return CartItem{}, ErrInvalidQuantity
	}

	unlock, err := lockerOr(c.Locker).Lock(ctx, fmt.Sprintf(KeyLockCheckout, userID), LockTTL)
	if err != nil {
		return CartItem{}, fmt.Errorf("lock cart: %w", err)
	}
	defer unlock()

	p, err := c.Store.Catalog().GetProduct(ctx, productID)
	if err != nil {
		return CartItem{}, fmt.Errorf("product %s: %w", productID, err)
	}
	if p.Stock < qty {
		return CartItem{}, fmt.Errorf("product %s has %d left: %w", productID, p.Stock, ErrOutOfStock)
	}

	now := c.now()
	it, err := c.Store.Carts().FindLine(ctx, userID, productID)
	switch {
	case err == nil:
		it.Quantity += qty
		it.UpdatedAt = now
		if err := c.Store.Carts().UpdateLine(ctx, it); err != nil {
			return CartItem{}, err
		}
	case errors.Is(err, ErrNotFound):
		it = CartItem{
			ID:        uuid.NewString(),
			UserID:    userID,
			ProductID: productID,
			Quantity:  qty,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := c.Store.Carts().CreateLine(ctx, it); err != nil {
			return CartItem{}, err
		}
	default:
		return CartItem{}, err
	}

	loggerOr(c.Log).Debug("cart line saved",
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.Int("qty", it.Quantity),
	)
	return it, nil
}

func (c *Cart) ListItems(ctx context.Context, userID string) ([]CartItem, error) {
	return c.Store.Carts().ListLines(ctx, userID)
}

func (c *Cart) Clear(ctx context.Context, userID string) error {
	return c.Store.Carts().ClearLines(ctx, userID)
}

func (c *Cart) RemoveItem(ctx context.Context, itemID string) error {
	return c.Store.Carts().DeleteLine(ctx, itemID)
}

func (c *Cart) SetQuantity(ctx context.Context, itemID string, qty int) (CartItem, error) {
	if qty <= 0 {
		return CartItem{}, ErrInvalidQuantity
	}
	it, err := c.Store.Carts().GetLine(ctx, itemID)
	if err != nil {
		return CartItem{}, fmt.Errorf("cart item %s: %w", itemID, err)
	}
	it.Quantity = qty
	it.UpdatedAt = c.now()
	if err := c.Store.Carts().UpdateLine(ctx, it); err != nil {
		return CartItem{}, err
	}
	return it, nil
}

// Total is a quote from live catalog prices. Lines whose product is gone are
// skipped. The billed amount is the order total, snapshotted at checkout.
func (c *Cart) Total(ctx context.Context, userID string) (decimal.Decimal, error) {
	lines, err := c.Store.Carts().ListLines(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, ln := range lines {
		p, err := c.Store.Catalog().GetProduct(ctx, ln.ProductID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(ln.Quantity))))
	}
	return total, nil
}
