// Package ingest turns raw gateway callbacks (HTTP webhook or the kafka relay
// topic) into orders.Reconciler calls.
package ingest

import (
	"context"
	"errors"
	"fmt"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"strings"
	"time"
)

type Result string

const (
	ResultApplied   Result = "applied"
	ResultIgnored   Result = "ignored"   // event tidak dikenal
	ResultDuplicate Result = "duplicate" // event_id sudah pernah diproses
	ResultConflict  Result = "conflict"
	ResultQueued    Result = "queued" // diteruskan ke kafka, diproses cmd/reconciler
)

var ErrMalformed = errors.New("malformed gateway event")

// UnknownIntentGrace is how long a relayed event for an unknown intent keeps
// being retried before it is dropped.
const UnknownIntentGrace = 10 * time.Minute

// Normalize maps a gateway event name onto an outcome. ok=false means the
// event is not a payment outcome and must be ignored.
func Normalize(event string) (orders.Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "payment.captured":
		return orders.OutcomeCaptured, true
	case "payment.authorized":
		return orders.OutcomeAuthorized, true
	case "payment.failed":
		return orders.OutcomeFailed, true
	}
	return "", false
}

type Reconciler interface {
	Reconcile(ctx context.Context, chargeID, intentRef string, outcome orders.Outcome) (orders.Payment, error)
}

type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

type Service struct {
	Reconciler Reconciler
	Dedup      Deduper // optional
	Log        *zap.Logger
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Handle never fails for an unknown event or a reconciliation conflict. An
// intent this system never issued is reported as orders.ErrNotFound.
func (s *Service) Handle(ctx context.Context, ev orders.GatewayEvent) (Result, error) {
	outcome, ok := Normalize(ev.Event)
	if !ok {
		s.log().Debug("gateway event ignored", zap.String("event", ev.Event), zap.String("event_id", ev.EventID))
		return ResultIgnored, nil
	}
	if ev.IntentRef == "" {
		return "", fmt.Errorf("%w: missing intent ref", ErrMalformed)
	}

	// dedup via Redis (pakai event_id)
	if s.Dedup != nil && ev.EventID != "" {
		seen, err := s.Dedup.Seen(ctx, ev.EventID)
		if err != nil {
			// fail open: Reconcile idempotent
			s.log().Warn("dedup check failed", zap.String("event_id", ev.EventID), zap.Error(err))
		}
		if seen {
			return ResultDuplicate, nil
		}
	}

	res := ResultApplied
	_, err := s.Reconciler.Reconcile(ctx, ev.ChargeID, ev.IntentRef, outcome)
	switch {
	case errors.Is(err, orders.ErrConflict):
		// sudah di-log oleh reconciler; jangan bikin gateway retry terus
		res = ResultConflict
	case err != nil:
		s.log().Warn("gateway event not reconciled",
			zap.String("event_id", ev.EventID),
			zap.String("event", ev.Event),
			zap.String("intent_ref", ev.IntentRef),
			zap.Error(err),
		)
		return "", err
	}

	if s.Dedup != nil && ev.EventID != "" {
		if err := s.Dedup.Mark(ctx, ev.EventID); err != nil {
			s.log().Warn("dedup mark failed", zap.String("event_id", ev.EventID), zap.Error(err))
		}
	}
	return res, nil
}

// HandleMessage dipasang sebagai handler consumer (topic payment.gateway.events).
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	ctx = kafkax.ExtractTrace(ctx, m.Headers)

	ev, err := kafkax.UnwrapPayload[orders.GatewayEvent](m.Value)
	if err != nil {
		// pesan rusak tidak akan pernah sukses, commit saja
		s.log().Error("invalid gateway event json", zap.Error(err), zap.ByteString("raw_value", m.Value))
		return nil
	}
	_, err = s.Handle(ctx, ev)
	switch {
	case errors.Is(err, ErrMalformed):
		s.log().Error("malformed gateway event", zap.String("event_id", ev.EventID), zap.Error(err))
		return nil
	case errors.Is(err, orders.ErrNotFound) && !m.Time.IsZero() && time.Since(m.Time) > UnknownIntentGrace:
		// intent bukan milik sistem ini; jangan tahan partisi selamanya
		s.log().Error("gateway event for unknown intent dropped",
			zap.String("event_id", ev.EventID),
			zap.String("intent_ref", ev.IntentRef),
			zap.Time("message_time", m.Time),
		)
		return nil
	}
	return err
}
