// Package app wires config into the concrete store, locker and publisher
// implementations shared by cmd/api and cmd/reconciler.
package app

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-order-fulfillment/internal/mongostore"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps holds everything the services need. Close releases it in reverse order.
type Deps struct {
	Store    orders.Store
	Locker   orders.Locker
	Cache    *redisx.StatusCache // nil tanpa redis
	Dedup    *redisx.Dedup       // nil tanpa redis
	Producer *kafkax.Producer    // nil tanpa kafka
	Events   orders.Publisher    // nil tanpa kafka

	closers []func()
}

func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Deps, error) {
	d := &Deps{}

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	d.Store = st
	d.closers = append(d.closers, closeStore)

	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		if err := rdb.Ping(ctx).Err(); err != nil {
			d.Close()
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		d.closers = append(d.closers, func() { _ = rdb.Close() })
		d.wireRedis(rdb, cfg.ServiceName, log)
	} else {
		log.Warn("REDIS_ADDR not set, using in-process locks; run a single instance only")
		d.Locker = orders.NewLocalLocker()
	}

	if len(cfg.KafkaBrokers) > 0 {
		// topic "" -> tiap pesan membawa topic sendiri (orders.TopicFor)
		d.Producer = kafkax.NewProducer(cfg.KafkaBrokers, "", 1024, log)
		d.Producer.Start(ctx)
		d.Events = &kafkax.Publisher{Producer: d.Producer, Service: cfg.ServiceName}
		d.closers = append(d.closers, func() {
			d.Producer.Close() // tutup inbox -> flush & close writer
			d.Producer.WaitClosed()
		})
	} else {
		log.Info("KAFKA_BROKERS not set, domain events are dropped")
	}
	return d, nil
}

func (d *Deps) wireRedis(rdb redis.Cmdable, service string, log *zap.Logger) {
	d.Locker = &redisx.Locker{RDB: rdb, Log: log}
	d.Cache = &redisx.StatusCache{RDB: rdb}
	d.Dedup = &redisx.Dedup{RDB: rdb, Service: service}
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (orders.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn("STORE_DRIVER=memory, data is lost on restart")
		return memstore.New(), func() {}, nil

	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("db migrate: %w", err)
		}
		return postgres.NewStore(db), db.Close, nil

	case config.DriverMongo:
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		st := mongostore.NewStore(client, cfg.MongoDB)
		if err := mongostore.EnsureIndexes(ctx, st.DB); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return st, func() { _ = client.Disconnect(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}
