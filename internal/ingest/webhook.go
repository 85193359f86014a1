package ingest

import (
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"time"
)

// webhookBody covers both the Razorpay shape
// {"event", "payload": {"payment": {"entity": {...}}}} and the flat
// {"event", "payload": {"payment": {...}}} one.
type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity  *paymentEntity `json:"entity"`
			ID      string         `json:"id"`
			OrderID string         `json:"order_id"`
		} `json:"payment"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// ParseWebhook decodes a webhook body. eventID comes from the delivery header;
// when empty it falls back to event name + charge id, which is stable across
// gateway retries of the same delivery.
func ParseWebhook(body []byte, eventID string, now time.Time) (orders.GatewayEvent, error) {
	var b webhookBody
	if err := json.Unmarshal(body, &b); err != nil {
		return orders.GatewayEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ev := orders.GatewayEvent{
		EventID:  eventID,
		Event:    b.Event,
		ChargeID: b.Payload.Payment.ID,
		Received: now,
	}
	ev.IntentRef = b.Payload.Payment.OrderID
	if e := b.Payload.Payment.Entity; e != nil {
		ev.ChargeID, ev.IntentRef = e.ID, e.OrderID
	}
	if ev.EventID == "" && ev.ChargeID != "" {
		ev.EventID = b.Event + ":" + ev.ChargeID
	}
	return ev, nil
}
