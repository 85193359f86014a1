// Package storetest holds the behaviour every orders.Store must share. Each
// store package runs it against its own backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the shared checks. IDs are random so a persistent database can
// be reused across runs.
func Run(t *testing.T, s orders.Store) {
	t.Run("products", func(t *testing.T) { testProducts(t, s) })
	t.Run("adjust stock", func(t *testing.T) { testAdjustStock(t, s) })
	t.Run("no oversell", func(t *testing.T) { testNoOversell(t, s) })
	t.Run("cart lines", func(t *testing.T) { testCartLines(t, s) })
	t.Run("tx rollback", func(t *testing.T) { testTxRollback(t, s) })
	t.Run("orders and payments", func(t *testing.T) { testOrdersAndPayments(t, s) })
}

func newProduct(t *testing.T, s orders.Store, stock int) orders.Product {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := orders.Product{
		ID:        uuid.NewString(),
		Name:      "Product " + uuid.NewString()[:8],
		Price:     decimal.RequireFromString("12.50"),
		Stock:     stock,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.Catalog().CreateProduct(context.Background(), p))
	return p
}

func testProducts(t *testing.T, s orders.Store) {
	ctx := context.Background()
	p := newProduct(t, s, 3)

	got, err := s.Catalog().GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.True(t, p.Price.Equal(got.Price), "price %s", got.Price)
	assert.Equal(t, 3, got.Stock)

	found, err := s.Catalog().SearchProducts(ctx, p.Name[len("Product "):])
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, p.ID, found[0].ID)

	assert.ErrorIs(t, s.Catalog().CreateProduct(ctx, p), orders.ErrConflict)

	got.Name = "renamed"
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.Catalog().UpdateProduct(ctx, got))

	// versi lama ditolak
	stale := got
	stale.Name = "stale"
	_, err = s.Catalog().AdjustStock(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Catalog().UpdateProduct(ctx, stale), orders.ErrConflict)

	require.NoError(t, s.Catalog().DeleteProduct(ctx, p.ID))
	_, err = s.Catalog().GetProduct(ctx, p.ID)
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.ErrorIs(t, s.Catalog().DeleteProduct(ctx, p.ID), orders.ErrNotFound)
}

func testAdjustStock(t *testing.T, s orders.Store) {
	ctx := context.Background()
	p := newProduct(t, s, 5)

	got, err := s.Catalog().AdjustStock(ctx, p.ID, -2)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)
	assert.Greater(t, got.Version, p.Version)

	_, err = s.Catalog().AdjustStock(ctx, p.ID, -4)
	var short *orders.InsufficientStockError
	require.True(t, errors.As(err, &short), "got %v", err)
	assert.Equal(t, 3, short.Available)
	assert.Equal(t, 4, short.Requested)

	got, err = s.Catalog().GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)

	got, err = s.Catalog().AdjustStock(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)

	_, err = s.Catalog().AdjustStock(ctx, uuid.NewString(), -1)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func testNoOversell(t *testing.T, s orders.Store) {
	ctx := context.Background()
	p := newProduct(t, s, 5)

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Catalog().AdjustStock(ctx, p.ID, -1); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, orders.ErrInsufficientStock)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	got, err := s.Catalog().GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
}

func testCartLines(t *testing.T, s orders.Store) {
	ctx := context.Background()
	user, other := uuid.NewString(), uuid.NewString()
	now := time.Now().UTC()
	line := func(userID, productID string) orders.CartItem {
		return orders.CartItem{ID: uuid.NewString(), UserID: userID, ProductID: productID, Quantity: 1, CreatedAt: now, UpdatedAt: now}
	}

	a, b, foreign := line(user, "p-a"), line(user, "p-b"), line(other, "p-a")
	for _, it := range []orders.CartItem{a, b, foreign} {
		require.NoError(t, s.Carts().CreateLine(ctx, it))
	}
	assert.ErrorIs(t, s.Carts().CreateLine(ctx, line(user, "p-a")), orders.ErrConflict)

	found, err := s.Carts().FindLine(ctx, user, "p-b")
	require.NoError(t, err)
	assert.Equal(t, b.ID, found.ID)

	found.Quantity = 4
	require.NoError(t, s.Carts().UpdateLine(ctx, found))
	got, err := s.Carts().GetLine(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Quantity)

	// baris milik user lain -> tidak ada yang dihapus
	assert.ErrorIs(t, s.Carts().ClaimLines(ctx, user, []string{a.ID, foreign.ID}), orders.ErrEmptyCart)
	lines, err := s.Carts().ListLines(ctx, user)
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	require.NoError(t, s.Carts().ClaimLines(ctx, user, []string{a.ID, b.ID}))
	assert.ErrorIs(t, s.Carts().ClaimLines(ctx, user, []string{a.ID}), orders.ErrEmptyCart)
	lines, err = s.Carts().ListLines(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, lines)

	require.NoError(t, s.Carts().ClearLines(ctx, other))
	_, err = s.Carts().GetLine(ctx, foreign.ID)
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.ErrorIs(t, s.Carts().DeleteLine(ctx, foreign.ID), orders.ErrNotFound)
}

func testTxRollback(t *testing.T, s orders.Store) {
	ctx := context.Background()
	p := newProduct(t, s, 5)
	user := uuid.NewString()
	ln := orders.CartItem{ID: uuid.NewString(), UserID: user, ProductID: p.ID, Quantity: 2, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.Carts().CreateLine(ctx, ln))

	orderID := uuid.NewString()
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx orders.Store) error {
		if err := tx.Carts().ClaimLines(ctx, user, []string{ln.ID}); err != nil {
			return err
		}
		if _, err := tx.Catalog().AdjustStock(ctx, p.ID, -2); err != nil {
			return err
		}
		o := orders.Order{ID: orderID, UserID: user, TotalAmount: decimal.RequireFromString("25"), Status: orders.StatusCreated, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
		items := []orders.OrderItem{{ID: uuid.NewString(), OrderID: orderID, ProductID: p.ID, Quantity: 2, Price: p.Price}}
		if err := tx.Orders().CreateOrder(ctx, o, items); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Catalog().GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
	_, err = s.Carts().GetLine(ctx, ln.ID)
	assert.NoError(t, err)
	_, err = s.Orders().GetOrder(ctx, orderID)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func testOrdersAndPayments(t *testing.T, s orders.Store) {
	ctx := context.Background()
	user := uuid.NewString()
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	o := orders.Order{ID: uuid.NewString(), UserID: user, TotalAmount: decimal.RequireFromString("23.00"), Status: orders.StatusCreated, CreatedAt: t0, UpdatedAt: t0}
	items := []orders.OrderItem{
		{ID: uuid.NewString(), OrderID: o.ID, ProductID: "p-a", Quantity: 2, Price: decimal.RequireFromString("10")},
		{ID: uuid.NewString(), OrderID: o.ID, ProductID: "p-b", Quantity: 1, Price: decimal.RequireFromString("3")},
	}
	require.NoError(t, s.Orders().CreateOrder(ctx, o, items))

	got, err := s.Orders().GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalAmount.Equal(o.TotalAmount))
	assert.Equal(t, orders.StatusCreated, got.Status)

	its, err := s.Orders().FindItemsByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, its, 2)
	sum := decimal.Zero
	for _, it := range its {
		sum = sum.Add(it.Subtotal())
	}
	assert.True(t, sum.Equal(o.TotalAmount))

	got, err = s.Orders().UpdateOrderStatus(ctx, o.ID, orders.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, got.Status)
	_, err = s.Orders().UpdateOrderStatus(ctx, uuid.NewString(), orders.StatusPaid)
	assert.ErrorIs(t, err, orders.ErrNotFound)

	list, err := s.Orders().FindOrdersByUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 1)

	first := orders.Payment{ID: uuid.NewString(), OrderID: o.ID, Amount: o.TotalAmount, Status: orders.PaymentPending, GatewayOrderRef: "order_" + uuid.NewString(), CreatedAt: t0, UpdatedAt: t0}
	second := first
	second.ID = uuid.NewString()
	second.GatewayOrderRef = "order_" + uuid.NewString()
	second.CreatedAt = t0.Add(time.Minute)
	require.NoError(t, s.Payments().CreatePayment(ctx, first))
	require.NoError(t, s.Payments().CreatePayment(ctx, second))

	dupe := first
	dupe.ID = uuid.NewString()
	assert.ErrorIs(t, s.Payments().CreatePayment(ctx, dupe), orders.ErrConflict)

	latest, err := s.Payments().FindPaymentByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	first.Status = orders.PaymentSuccess
	first.GatewayChargeRef = "pay_1"
	first.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.Payments().UpdatePayment(ctx, first))
	byRef, err := s.Payments().FindPaymentByIntentRef(ctx, first.GatewayOrderRef)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentSuccess, byRef.Status)
	assert.Equal(t, "pay_1", byRef.GatewayChargeRef)

	_, err = s.Payments().FindPaymentByIntentRef(ctx, "order_missing_"+uuid.NewString())
	assert.ErrorIs(t, err, orders.ErrNotFound)
}
