package orders

import (
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"time"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-order-fulfillment/internal/orders")

// dipakai kalau service tidak diberi Locker
var defaultLocker = NewLocalLocker()

func loggerOr(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func nowOr(f func() time.Time) time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f()
}

func lockerOr(l Locker) Locker {
	if l == nil {
		return defaultLocker
	}
	return l
}

func publisherOr(p Publisher) Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func cacheOr(c StatusCache) StatusCache {
	if c == nil {
		return nopStatusCache{}
	}
	return c
}

func recordErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// MinorUnits converts an amount to the smallest currency unit (x100), rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
