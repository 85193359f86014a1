package httpx

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-order-fulfillment/internal/gateway"
	"github.com/ariefcatur/go-order-fulfillment/internal/ingest"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"go.uber.org/zap"
	"io"
	"net/http"
	"time"
)

const (
	HeaderSignature = "X-Razorpay-Signature"
	HeaderEventID   = "X-Razorpay-Event-Id"

	maxWebhookBody = 1 << 20
)

type webhookResp struct {
	Result  ingest.Result `json:"result"`
	EventID string        `json:"event_id,omitempty"`
}

// paymentWebhook answers 2xx for anything the gateway should stop retrying:
// applied, ignored, duplicate and conflicting events. 5xx asks for a retry.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		badRequest(w, "unreadable body")
		return
	}
	if h.WebhookSecret != "" && !gateway.VerifySignature(body, r.Header.Get(HeaderSignature), h.WebhookSecret) {
		h.log().Warn("webhook signature mismatch", zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	ev, err := ingest.ParseWebhook(body, r.Header.Get(HeaderEventID), time.Now().UTC())
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	if h.Relay != nil {
		h.relayWebhook(w, r, ev)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Ingest.Handle(ctx, ev)
	if err != nil {
		if errors.Is(err, ingest.ErrMalformed) {
			badRequest(w, err.Error())
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResp{Result: res, EventID: ev.EventID})
}

func (h *Handler) relayWebhook(w http.ResponseWriter, r *http.Request, ev orders.GatewayEvent) {
	if _, ok := ingest.Normalize(ev.Event); !ok {
		writeJSON(w, http.StatusOK, webhookResp{Result: ingest.ResultIgnored, EventID: ev.EventID})
		return
	}
	if ev.IntentRef == "" {
		badRequest(w, "missing intent ref")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	// 202 hanya setelah broker ack; gagal -> 503 supaya gateway retry
	if err := h.Relay.RelayGatewayEvent(ctx, ev); err != nil {
		h.log().Error("webhook relay failed",
			zap.String("event_id", ev.EventID),
			zap.String("intent_ref", ev.IntentRef),
			zap.Error(err),
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "relay unavailable"})
		return
	}
	writeJSON(w, http.StatusAccepted, webhookResp{Result: ingest.ResultQueued, EventID: ev.EventID})
}
