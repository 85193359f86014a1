package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProduct(t *testing.T, s *Store, id string, stock int) {
	t.Helper()
	require.NoError(t, s.Catalog().CreateProduct(context.Background(), orders.Product{
		ID: id, Name: id, Price: decimal.NewFromInt(1), Stock: stock, Version: 1,
	}))
}

func TestJournal_RollbackRunsNewestFirst(t *testing.T) {
	var got []int
	j := &journal{}
	j.add(func() error { got = append(got, 1); return nil })
	j.add(func() error { got = append(got, 2); return nil })

	cause := errors.New("cause")
	err := j.rollback(cause)
	assert.Same(t, cause, err)
	assert.Equal(t, []int{2, 1}, got)
}

func TestJournal_RollbackReportsFailedCompensation(t *testing.T) {
	cause := errors.New("cause")
	undoErr := errors.New("undo failed")
	ran := false
	j := &journal{}
	j.add(func() error { ran = true; return nil })
	j.add(func() error { return undoErr })

	err := j.rollback(cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, undoErr)
	assert.True(t, ran, "remaining compensations still run")
}

func TestWithTx_RollsBackEveryWrite(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "p1", 5)
	require.NoError(t, s.Carts().CreateLine(ctx, orders.CartItem{ID: "l1", UserID: "u1", ProductID: "p1", Quantity: 2}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx orders.Store) error {
		require.NoError(t, tx.Carts().ClaimLines(ctx, "u1", []string{"l1"}))
		_, err := tx.Catalog().AdjustStock(ctx, "p1", -2)
		require.NoError(t, err)
		require.NoError(t, tx.Orders().CreateOrder(ctx, orders.Order{ID: "o1", UserID: "u1"}, nil))
		require.NoError(t, tx.Payments().CreatePayment(ctx, orders.Payment{ID: "pay1", OrderID: "o1", GatewayOrderRef: "ref1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := s.Catalog().GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
	_, err = s.Carts().GetLine(ctx, "l1")
	assert.NoError(t, err)
	_, err = s.Orders().GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, orders.ErrNotFound)
	_, err = s.Payments().FindPaymentByIntentRef(ctx, "ref1")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestClaimLines_AllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Carts().CreateLine(ctx, orders.CartItem{ID: "l1", UserID: "u1", ProductID: "p1", Quantity: 1}))
	require.NoError(t, s.Carts().CreateLine(ctx, orders.CartItem{ID: "l2", UserID: "u2", ProductID: "p1", Quantity: 1}))

	// l2 milik user lain
	err := s.Carts().ClaimLines(ctx, "u1", []string{"l1", "l2"})
	assert.ErrorIs(t, err, orders.ErrEmptyCart)
	_, err = s.Carts().GetLine(ctx, "l1")
	assert.NoError(t, err)

	require.NoError(t, s.Carts().ClaimLines(ctx, "u1", []string{"l1"}))
	assert.ErrorIs(t, s.Carts().ClaimLines(ctx, "u1", []string{"l1"}), orders.ErrEmptyCart)
}

func TestCreateLine_UniquePerUserProduct(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Carts().CreateLine(ctx, orders.CartItem{ID: "l1", UserID: "u1", ProductID: "p1", Quantity: 1}))
	err := s.Carts().CreateLine(ctx, orders.CartItem{ID: "l2", UserID: "u1", ProductID: "p1", Quantity: 1})
	assert.ErrorIs(t, err, orders.ErrConflict)
}

func TestUpdateProduct_StaleVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "p1", 5)

	p, err := s.Catalog().GetProduct(ctx, "p1")
	require.NoError(t, err)
	_, err = s.Catalog().AdjustStock(ctx, "p1", -1)
	require.NoError(t, err)

	p.Name = "renamed"
	assert.ErrorIs(t, s.Catalog().UpdateProduct(ctx, p), orders.ErrConflict)
}

func TestPayments_LatestByOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Payments().CreatePayment(ctx, orders.Payment{ID: "a", OrderID: "o1", GatewayOrderRef: "r1", CreatedAt: t0}))
	require.NoError(t, s.Payments().CreatePayment(ctx, orders.Payment{ID: "b", OrderID: "o1", GatewayOrderRef: "r2", CreatedAt: t0.Add(time.Minute)}))

	p, err := s.Payments().FindPaymentByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "b", p.ID)

	err = s.Payments().CreatePayment(ctx, orders.Payment{ID: "c", OrderID: "o2", GatewayOrderRef: "r1"})
	assert.ErrorIs(t, err, orders.ErrConflict)
}

func TestStoreBehaviour(t *testing.T) {
	storetest.Run(t, New())
}
