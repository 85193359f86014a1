package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"time"
)

const (
	DefaultCurrency       = "INR"
	DefaultGatewayTimeout = 10 * time.Second
)

// Reconciler owns the Payment lifecycle: it opens charge intents and merges
// gateway outcomes into payment and order state.
//
// The merge is monotonic. SUCCESS is sticky, a repeated outcome is a no-op and
// an outcome that contradicts recorded state is reported as a ConflictError
// without being applied.
type Reconciler struct {
	Store    Store
	Gateway  Gateway
	Workflow *Workflow
	Locker   Locker
	Events   Publisher
	Currency string
	Timeout  time.Duration // batas waktu panggilan ke gateway
	Log      *zap.Logger
	Now      func() time.Time
}

func (r *Reconciler) log() *zap.Logger { return loggerOr(r.Log) }

func (r *Reconciler) workflow() *Workflow {
	if r.Workflow == nil {
		return &Workflow{Store: r.Store, Locker: r.Locker, Events: r.Events, Log: r.Log, Now: r.Now}
	}
	return r.Workflow
}

func (r *Reconciler) currency() string {
	if r.Currency == "" {
		return DefaultCurrency
	}
	return r.Currency
}

func (r *Reconciler) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultGatewayTimeout
	}
	return r.Timeout
}

// CreateChargeIntent opens a gateway intent for a CREATED order and records a
// PENDING payment. If the order already has a PENDING payment that one is
// returned instead of opening a second intent. On gateway failure nothing is
// persisted and the call can be retried.
func (r *Reconciler) CreateChargeIntent(ctx context.Context, orderID string) (Payment, error) {
	ctx, span := tracer.Start(ctx, "payments.create_charge_intent", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	unlock, err := lockerOr(r.Locker).Lock(ctx, fmt.Sprintf(KeyLockOrder, orderID), LockTTL)
	if err != nil {
		return Payment{}, recordErr(span, fmt.Errorf("lock order: %w", err))
	}
	defer unlock()

	o, err := r.Store.Orders().GetOrder(ctx, orderID)
	if err != nil {
		return Payment{}, recordErr(span, fmt.Errorf("order %s: %w", orderID, err))
	}
	if o.Status != StatusCreated {
		return Payment{}, recordErr(span, &NotPayableError{OrderID: orderID, Status: o.Status})
	}

	existing, err := r.Store.Payments().FindPaymentByOrder(ctx, orderID)
	switch {
	case err == nil && existing.Status == PaymentPending:
		return existing, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return Payment{}, recordErr(span, err)
	}

	gctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()
	ref, err := r.Gateway.OpenIntent(gctx, MinorUnits(o.TotalAmount), r.currency(), o.ID, map[string]string{
		"orderId": o.ID,
		"userId":  o.UserID,
	})
	if err == nil && ref == "" {
		err = errors.New("empty intent reference")
	}
	if err != nil {
		r.log().Error("open charge intent failed", zap.String("order_id", orderID), zap.Error(err))
		return Payment{}, recordErr(span, &GatewayError{OrderID: orderID, Err: err})
	}

	now := nowOr(r.Now)
	p := Payment{
		ID:              uuid.NewString(),
		OrderID:         o.ID,
		Amount:          o.TotalAmount,
		Status:          PaymentPending,
		GatewayOrderRef: ref,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.Store.Payments().CreatePayment(ctx, p); err != nil {
		return Payment{}, recordErr(span, err)
	}

	span.SetAttributes(attribute.String("payment.id", p.ID), attribute.String("payment.intent_ref", ref))
	r.log().Info("charge intent opened",
		zap.String("order_id", o.ID),
		zap.String("payment_id", p.ID),
		zap.String("intent_ref", ref),
		zap.String("amount", p.Amount.String()),
	)
	publisherOr(r.Events).Publish(ctx, EventChargeIntentOpened, o.ID, ChargeIntentOpenedPayload{
		OrderID: o.ID, PaymentID: p.ID, IntentRef: ref, Amount: p.Amount,
	})
	return p, nil
}

// Reconcile applies one gateway outcome. It is safe to call any number of
// times, in any order, for the same intent.
func (r *Reconciler) Reconcile(ctx context.Context, chargeID, intentRef string, outcome Outcome) (Payment, error) {
	ctx, span := tracer.Start(ctx, "payments.reconcile", trace.WithAttributes(
		attribute.String("payment.intent_ref", intentRef),
		attribute.String("payment.outcome", string(outcome)),
	))
	defer span.End()

	if !outcome.Valid() {
		return Payment{}, recordErr(span, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome))
	}

	unlock, err := lockerOr(r.Locker).Lock(ctx, fmt.Sprintf(KeyLockReconcile, intentRef), LockTTL)
	if err != nil {
		return Payment{}, recordErr(span, fmt.Errorf("lock reconcile: %w", err))
	}
	defer unlock()

	p, err := r.Store.Payments().FindPaymentByIntentRef(ctx, intentRef)
	if err != nil {
		return Payment{}, recordErr(span, fmt.Errorf("payment for intent %s: %w", intentRef, err))
	}

	// order lock juga, supaya tidak balapan dengan Cancel
	unlockOrder, err := lockerOr(r.Locker).Lock(ctx, fmt.Sprintf(KeyLockOrder, p.OrderID), LockTTL)
	if err != nil {
		return Payment{}, recordErr(span, fmt.Errorf("lock order: %w", err))
	}
	defer unlockOrder()

	var (
		res     Payment
		applied bool
		from    Status
		to      Status
	)
	err = r.Store.WithTx(ctx, func(tx Store) error {
		// baca ulang di dalam tx
		cur, err := tx.Payments().FindPaymentByIntentRef(ctx, intentRef)
		if err != nil {
			return fmt.Errorf("payment for intent %s: %w", intentRef, err)
		}
		o, err := tx.Orders().GetOrder(ctx, cur.OrderID)
		if err != nil {
			return fmt.Errorf("order %s: %w", cur.OrderID, err)
		}
		res, applied, from, to, err = r.merge(ctx, tx, cur, o, chargeID, outcome)
		return err
	})

	var conflict *ConflictError
	if errors.As(err, &conflict) {
		r.log().Warn("payment reconciliation conflict",
			zap.String("payment_id", conflict.PaymentID),
			zap.String("intent_ref", intentRef),
			zap.String("current", string(conflict.Current)),
			zap.String("incoming", string(outcome)),
		)
		publisherOr(r.Events).Publish(ctx, EventPaymentConflict, p.OrderID, PaymentConflictPayload{
			PaymentID: conflict.PaymentID,
			IntentRef: intentRef,
			Current:   conflict.Current,
			Incoming:  outcome,
		})
		return res, recordErr(span, err)
	}
	if err != nil {
		return Payment{}, recordErr(span, err)
	}
	if !applied {
		r.log().Debug("duplicate gateway outcome ignored",
			zap.String("payment_id", res.ID),
			zap.String("intent_ref", intentRef),
			zap.String("outcome", string(outcome)),
		)
		return res, nil
	}

	r.log().Info("payment reconciled",
		zap.String("payment_id", res.ID),
		zap.String("order_id", res.OrderID),
		zap.String("status", string(res.Status)),
	)
	if to != "" {
		r.workflow().statusChanged(ctx, res.OrderID, from, to)
	}
	evType := EventPaymentSucceeded
	if res.Status == PaymentFailed {
		evType = EventPaymentFailed
	}
	publisherOr(r.Events).Publish(ctx, evType, res.OrderID, PaymentOutcomePayload{
		OrderID:   res.OrderID,
		PaymentID: res.ID,
		IntentRef: intentRef,
		ChargeRef: res.GatewayChargeRef,
		Status:    res.Status,
	})
	return res, nil
}

// merge decides what an outcome means for the current payment/order pair and
// writes it through tx. applied is false for a repeated outcome; to is empty
// when the order status is left alone.
func (r *Reconciler) merge(ctx context.Context, tx Store, p Payment, o Order, chargeID string, outcome Outcome) (res Payment, applied bool, from, to Status, err error) {
	conflict := func() error {
		return &ConflictError{PaymentID: p.ID, IntentRef: p.GatewayOrderRef, Current: p.Status, Incoming: outcome}
	}

	switch {
	case outcome.Succeeded():
		switch p.Status {
		case PaymentSuccess:
			return p, false, "", "", nil
		case PaymentFailed:
			return p, false, "", "", conflict()
		}
		// PENDING. Order yang sudah CANCELLED/FAILED tidak boleh jadi PAID.
		if o.Status != StatusPaid && !CanTransition(o.Status, StatusPaid) {
			return p, false, "", "", conflict()
		}
		p.Status = PaymentSuccess
		p.GatewayChargeRef = chargeID
		if o.Status != StatusPaid {
			to = StatusPaid
		}
	default:
		switch p.Status {
		case PaymentFailed:
			return p, false, "", "", nil
		case PaymentSuccess:
			return p, false, "", "", conflict()
		}
		p.Status = PaymentFailed
		if chargeID != "" {
			p.GatewayChargeRef = chargeID
		}
		// order CANCELLED tetap CANCELLED
		if CanTransition(o.Status, StatusFailed) {
			to = StatusFailed
		}
	}

	p.UpdatedAt = nowOr(r.Now)
	if err := tx.Payments().UpdatePayment(ctx, p); err != nil {
		return Payment{}, false, "", "", err
	}
	if to != "" {
		if _, from, err = r.workflow().setStatus(ctx, tx, o.ID, to); err != nil {
			return Payment{}, false, "", "", err
		}
	}
	return p, true, from, to, nil
}

func (r *Reconciler) GetByOrderID(ctx context.Context, orderID string) (Payment, error) {
	p, err := r.Store.Payments().FindPaymentByOrder(ctx, orderID)
	if err != nil {
		return Payment{}, fmt.Errorf("payment for order %s: %w", orderID, err)
	}
	return p, nil
}

func (r *Reconciler) GetByID(ctx context.Context, id string) (Payment, error) {
	p, err := r.Store.Payments().GetPayment(ctx, id)
	if err != nil {
		return Payment{}, fmt.Errorf("payment %s: %w", id, err)
	}
	return p, nil
}
