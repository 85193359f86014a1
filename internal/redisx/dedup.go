package redisx

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed event ids per service for TTLDedup.
type Dedup struct {
	RDB     redis.Cmdable
	Service string
}

func (d *Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.Service, id) }

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.RDB, d.key(id))
}

// Mark dipanggil setelah event sukses diproses, supaya event gagal bisa di-retry.
func (d *Dedup) Mark(ctx context.Context, id string) error {
	return d.RDB.Set(ctx, d.key(id), "1", TTLDedup).Err()
}
