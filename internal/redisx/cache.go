package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/redis/go-redis/v9"
	"time"
)

type CachedStatus struct {
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache keeps the last known order status for fast GET /orders/{id}/status.
// Database tetap jadi kebenaran; cache boleh hilang kapan saja.
type StatusCache struct {
	RDB redis.Cmdable
}

func (c *StatusCache) SetStatus(ctx context.Context, orderID string, status orders.Status) {
	b, _ := json.Marshal(CachedStatus{Status: status, UpdatedAt: time.Now().UTC()})
	_ = c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// FillStatus writes a status read from the database only if no entry exists.
// A SetStatus from a transition that committed after that read stays in place.
func (c *StatusCache) FillStatus(ctx context.Context, orderID string, status orders.Status, updatedAt time.Time) bool {
	b, _ := json.Marshal(CachedStatus{Status: status, UpdatedAt: updatedAt.UTC()})
	ok, err := c.RDB.SetNX(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Result()
	return err == nil && ok
}

// GetStatus returns ok=false on a miss or any redis error.
func (c *StatusCache) GetStatus(ctx context.Context, orderID string) (CachedStatus, bool) {
	s, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err != nil || s == "" {
		return CachedStatus{}, false
	}
	var cs CachedStatus
	if err := json.Unmarshal([]byte(s), &cs); err != nil {
		return CachedStatus{}, false
	}
	return cs, true
}
