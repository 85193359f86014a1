package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpen_MemoryWithoutRedis(t *testing.T) {
	d, err := Open(context.Background(), config.Config{StoreDriver: config.DriverMemory}, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	assert.IsType(t, &memstore.Store{}, d.Store)
	assert.IsType(t, &orders.LocalLocker{}, d.Locker)
	assert.Nil(t, d.Cache)
	assert.Nil(t, d.Dedup)
	assert.Nil(t, d.Events)
}

func TestOpen_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Config{StoreDriver: config.DriverMemory, RedisAddr: mr.Addr(), ServiceName: "order-api"}

	d, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	assert.IsType(t, &redisx.Locker{}, d.Locker)
	require.NotNil(t, d.Dedup)
	assert.Equal(t, "order-api", d.Dedup.Service)
	require.NotNil(t, d.Cache)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), config.Config{StoreDriver: "sqlite"}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown STORE_DRIVER")

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = Open(context.Background(), config.Config{StoreDriver: config.DriverMemory, RedisAddr: addr}, zap.NewNop())
	assert.ErrorContains(t, err, "redis ping")
}
