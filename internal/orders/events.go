package orders

import (
	"encoding/json"
	"github.com/shopspring/decimal"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventChargeIntentOpened = "ChargeIntentOpened"
	EventPaymentSucceeded   = "PaymentSucceeded"
	EventPaymentFailed      = "PaymentFailed"
	EventPaymentConflict    = "PaymentConflict"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`                  // payload spesifik
}

// ---- Payload tipe per event ----

type ItemPrice struct {
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	Items       []ItemPrice     `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCancelledPayload struct {
	OrderID   string    `json:"order_id"`
	From      Status    `json:"from"`
	Restocked []ItemQty `json:"restocked"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

type ChargeIntentOpenedPayload struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	IntentRef string          `json:"intent_ref"`
	Amount    decimal.Decimal `json:"amount"`
}

type PaymentOutcomePayload struct {
	OrderID   string        `json:"order_id"`
	PaymentID string        `json:"payment_id"`
	IntentRef string        `json:"intent_ref"`
	ChargeRef string        `json:"charge_ref,omitempty"`
	Status    PaymentStatus `json:"status"`
}

type PaymentConflictPayload struct {
	PaymentID string        `json:"payment_id"`
	IntentRef string        `json:"intent_ref"`
	Current   PaymentStatus `json:"current"`
	Incoming  Outcome       `json:"incoming"`
}

// GatewayEvent is a raw gateway callback relayed onto kafka (TopicGatewayEvents).
type GatewayEvent struct {
	EventID   string    `json:"event_id"`
	Event     string    `json:"event"` // e.g. payment.captured
	ChargeID  string    `json:"charge_id"`
	IntentRef string    `json:"intent_ref"`
	Received  time.Time `json:"received_at"`
}
