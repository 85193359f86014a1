package kafka

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"strconv"
	"time"
)

// Publisher wraps domain events in an orders.Envelope (v1) and hands them to
// the async Producer. It satisfies orders.Publisher.
type Publisher struct {
	Producer *Producer
	Service  string
	Sync     MessageWriter // RelayGatewayEvent; nil -> Producer.WriteMessages
}

// MessageWriter is the synchronous write side of a kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func (p *Publisher) syncWriter() MessageWriter {
	if p.Sync != nil {
		return p.Sync
	}
	return p.Producer
}

func (p *Publisher) Publish(ctx context.Context, eventType, key string, payload any) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.Service,
		CorrelationID: key,
		Payload:       MustMarshal(payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}

	headers := []kafka.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(ev.EventVersion))},
	}
	headers = append(headers, InjectTrace(ctx)...)

	p.Producer.PublishTo(orders.TopicFor(eventType), orders.PartitionKey(key), MustMarshal(ev), headers...)
}

// RelayGatewayEvent forwards a verified webhook to TopicGatewayEvents, keyed by
// intent ref so every event of one intent lands on the same partition. Unlike
// Publish it is synchronous: the webhook is acked only after kafka acks.
func (p *Publisher) RelayGatewayEvent(ctx context.Context, ev orders.GatewayEvent) error {
	headers := append([]kafka.Header{{Key: "x-event-type", Value: []byte(ev.Event)}}, InjectTrace(ctx)...)
	err := p.syncWriter().WriteMessages(ctx, kafka.Message{
		Topic:   orders.TopicGatewayEvents,
		Key:     orders.PartitionKey(ev.IntentRef),
		Value:   MustMarshal(ev),
		Time:    time.Now(),
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("relay gateway event %s: %w", ev.EventID, err)
	}
	return nil
}

// InjectTrace turns the active trace context into kafka headers.
func InjectTrace(ctx context.Context) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	out := make([]kafka.Header, 0, len(carrier))
	for k, v := range carrier {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

// ExtractTrace is the consumer-side counterpart of InjectTrace.
func ExtractTrace(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
