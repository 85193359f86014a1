package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *env) intent(t *testing.T, orderID string) orders.Payment {
	t.Helper()
	p, err := e.rec.CreateChargeIntent(context.Background(), orderID)
	require.NoError(t, err)
	return p
}

func (e *env) payment(t *testing.T, id string) orders.Payment {
	t.Helper()
	p, err := e.rec.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestCreateChargeIntent_OpensPendingPayment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.product(t, "A", "10.0", 5)
	b := e.product(t, "B", "3.0", 1)
	e.add(t, "u1", a.ID, 2)
	e.add(t, "u1", b.ID, 1)
	o, err := e.wf.CreateOrder(ctx, "u1")
	require.NoError(t, err)

	p, err := e.rec.CreateChargeIntent(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, p.Status)
	assert.Equal(t, o.ID, p.OrderID)
	assert.True(t, p.Amount.Equal(o.TotalAmount))
	assert.NotEmpty(t, p.GatewayOrderRef)
	assert.Empty(t, p.GatewayChargeRef)

	require.Len(t, e.gw.calls, 1)
	call := e.gw.calls[0]
	assert.Equal(t, int64(2300), call.amount)
	assert.Equal(t, orders.DefaultCurrency, call.currency)
	assert.Equal(t, o.ID, call.reference)
	assert.Equal(t, map[string]string{"orderId": o.ID, "userId": "u1"}, call.metadata)

	byOrder, err := e.rec.GetByOrderID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byOrder.ID)
	assert.Equal(t, p.ID, e.payment(t, p.ID).ID)
	assert.Equal(t, 1, e.events.count(orders.EventChargeIntentOpened))
}

func TestCreateChargeIntent_ReusesPendingPayment(t *testing.T) {
	e := newEnv(t)
	o := e.placeOrder(t, "u1", "5")

	first := e.intent(t, o.ID)
	second := e.intent(t, o.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.GatewayOrderRef, second.GatewayOrderRef)
	assert.Equal(t, 1, e.gw.callCount())
}

func TestCreateChargeIntent_NotPayable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeOrder(t, "u1", "5")
	_, err := e.wf.UpdateStatus(ctx, o.ID, orders.StatusPaid)
	require.NoError(t, err)

	_, err = e.rec.CreateChargeIntent(ctx, o.ID)
	require.ErrorIs(t, err, orders.ErrNotPayable)
	var npe *orders.NotPayableError
	require.True(t, errors.As(err, &npe))
	assert.Equal(t, orders.StatusPaid, npe.Status)

	assert.Zero(t, e.gw.callCount())
	_, err = e.rec.GetByOrderID(ctx, o.ID)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestCreateChargeIntent_UnknownOrder(t *testing.T) {
	e := newEnv(t)
	_, err := e.rec.CreateChargeIntent(context.Background(), "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestCreateChargeIntent_GatewayErrorPersistsNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeOrder(t, "u1", "5")
	down := errors.New("connection refused")
	e.gw.err = down

	_, err := e.rec.CreateChargeIntent(ctx, o.ID)
	require.ErrorIs(t, err, orders.ErrGateway)
	assert.ErrorIs(t, err, down)
	var ge *orders.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, o.ID, ge.OrderID)

	_, err = e.rec.GetByOrderID(ctx, o.ID)
	assert.ErrorIs(t, err, orders.ErrNotFound)

	// retry setelah gateway pulih
	e.gw.err = nil
	p := e.intent(t, o.ID)
	assert.Equal(t, orders.PaymentPending, p.Status)
}

func TestCreateChargeIntent_Timeout(t *testing.T) {
	e := newEnv(t)
	o := e.placeOrder(t, "u1", "5")
	e.gw.delay = time.Second
	e.rec.Timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := e.rec.CreateChargeIntent(context.Background(), o.ID)
	require.ErrorIs(t, err, orders.ErrGateway)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	_, err = e.rec.GetByOrderID(context.Background(), o.ID)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestReconcile_CapturedPaysOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeOrder(t, "u1", "5")
	p := e.intent(t, o.ID)

	got, err := e.rec.Reconcile(ctx, "pay_1", p.GatewayOrderRef, orders.OutcomeCaptured)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentSuccess, got.Status)
	assert.Equal(t, "pay_1", got.GatewayChargeRef)
	assert.Equal(t, orders.StatusPaid, e.order(t, o.ID).Status)
	assert.Equal(t, 1, e.events.count(orders.EventPaymentSucceeded))
	assert.Equal(t, 1, e.events.count(orders.EventOrderStatusChanged))
}

func TestReconcile_AuthorizedCountsAsSuccess(t *testing.T) {
	e := newEnv(t)
	o := e.placeOrder(t, "u1", "5")
	p := e.intent(t, o.ID)

	got, err := e.rec.Reconcile(context.Background(), "pay_1", p.GatewayOrderRef, orders.OutcomeAuthorized)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentSuccess, got.Status)
	assert.Equal(t, orders.StatusPaid, e.order(t, o.ID).Status)
}

func TestReconcile_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeOrder(t, "u1", "5")
	p := e.intent(t, o.ID)

	once, err := e.rec.Reconcile(ctx, "pay_1", p.GatewayOrderRef, orders.OutcomeCaptured)
	require.NoError(t, err)
	twice, err := e.rec.Reconcile(ctx, "pay_1", p.GatewayOrderRef, orders.OutcomeCaptured)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, once, e.payment(t, p.ID))
	assert.Equal(t, orders.StatusPaid, e.order(t, o.ID).Status)
	assert.Equal(t, 1, e.events.count(orders.EventPaymentSucceeded))
}

func TestReconcile_FailedAfterSuccessIsConflict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeOrder(t, "u1", "5")
	p := e.intent(t, o.ID)
	_, err := e.rec.Reconcile(ctx, "pay_1", p.GatewayOrderRef, orders.OutcomeCaptured)
	require.NoError(t, err)

	_, err = e.rec.Reconcile(ctx, "pay_2", p.GatewayOrderRef, orders.OutcomeFailed)
	require.ErrorIs(t, err, orders.ErrConflict)
	var ce *orders.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, p.ID, ce.PaymentID)
	assert.Equal(t, orders.PaymentSuccess, ce.Current)
	assert.Equal(t, orders.OutcomeFailed, ce.Incoming)

	got := e.payment(t, p.ID)
	assert.Equal(t, orders.PaymentSuccess, got.Status)
	assert.Equal(t, "pay_1", got.GatewayChargeRef)
	assert.Equal(t, orders.StatusPaid, e.order(t, o.ID).Status)
	assert.Equal(t, 1, e.events.count(orders.EventPaymentConflict))
}

func TestReconcile_FailedThenCaptured(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeOrder(t, "u1", "5")
	p := e.intent(t, o.ID)

	got, err := e.rec.Reconcile(ctx, "pay_1", p.GatewayOrderRef, orders.OutcomeFailed)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentFailed, got.Status)
	assert.Equal(t, orders.StatusFailed, e.order(t, o.ID).Status)

	// failed berulang: no-op
	_, err = e.rec.Reconcile(ctx, "pay_1", p.GatewayOrderRef, orders.OutcomeFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, e.events.count(orders.EventPaymentFailed))

	// sukses setelah gagal tidak diterapkan
	_, err = e.rec.Reconcile(ctx, "pay_2", p.GatewayOrderRef, orders.OutcomeCaptured)
	require.ErrorIs(t, err, orders.ErrConflict)
	assert.Equal(t, orders.PaymentFailed, e.payment(t, p.ID).Status)
	assert.Equal(t, orders.StatusFailed, e.order(t, o.ID).Status)
}

func TestReconcile_CancelledOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	t.Run("captured is a conflict", func(t *testing.T) {
		o := e.placeOrder(t, "u1", "5")
		p := e.intent(t, o.ID)
		_, err := e.wf.Cancel(ctx, o.ID)
		require.NoError(t, err)

		_, err = e.rec.Reconcile(ctx, "pay_1", p.GatewayOrderRef, orders.OutcomeCaptured)
		require.ErrorIs(t, err, orders.ErrConflict)
		assert.Equal(t, orders.PaymentPending, e.payment(t, p.ID).Status)
		assert.Equal(t, orders.StatusCancelled, e.order(t, o.ID).Status)
	})

	t.Run("failed keeps the order cancelled", func(t *testing.T) {
		o := e.placeOrder(t, "u2", "5")
		p := e.intent(t, o.ID)
		_, err := e.wf.Cancel(ctx, o.ID)
		require.NoError(t, err)

		got, err := e.rec.Reconcile(ctx, "pay_2", p.GatewayOrderRef, orders.OutcomeFailed)
		require.NoError(t, err)
		assert.Equal(t, orders.PaymentFailed, got.Status)
		assert.Equal(t, orders.StatusCancelled, e.order(t, o.ID).Status)
	})
}

func TestReconcile_UnknownIntent(t *testing.T) {
	e := newEnv(t)
	_, err := e.rec.Reconcile(context.Background(), "pay_1", "order_nope", orders.OutcomeCaptured)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestReconcile_InvalidOutcome(t *testing.T) {
	e := newEnv(t)
	_, err := e.rec.Reconcile(context.Background(), "pay_1", "order_x", orders.Outcome("refunded"))
	assert.ErrorIs(t, err, orders.ErrInvalidOutcome)
}

func TestReconcile_ConcurrentDuplicates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.placeOrder(t, "u1", "5")
	p := e.intent(t, o.ID)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.rec.Reconcile(ctx, "pay_1", p.GatewayOrderRef, orders.OutcomeCaptured)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, orders.PaymentSuccess, e.payment(t, p.ID).Status)
	assert.Equal(t, orders.StatusPaid, e.order(t, o.ID).Status)
	assert.Equal(t, 1, e.events.count(orders.EventPaymentSucceeded))
	assert.Equal(t, 1, e.events.count(orders.EventOrderStatusChanged))
}

func TestReconcile_WithoutWorkflow(t *testing.T) {
	e := newEnv(t)
	o := e.placeOrder(t, "u1", "5")
	p := e.intent(t, o.ID)

	rec := &orders.Reconciler{Store: e.store}
	_, err := rec.Reconcile(context.Background(), "pay_1", p.GatewayOrderRef, orders.OutcomeCaptured)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, e.order(t, o.ID).Status)
}

func TestMinorUnits(t *testing.T) {
	cases := map[string]int64{
		"23":     2300,
		"0.1":    10,
		"19.99":  1999,
		"10.005": 1001,
		"0":      0,
	}
	for in, want := range cases {
		assert.Equal(t, want, orders.MinorUnits(dec(in)), in)
	}
}
