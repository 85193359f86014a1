package main

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/app"
	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/ingest"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// reconciler consumes relayed gateway events (payment.gateway.events) and
// merges them into payment and order state. It never opens charge intents,
// so it needs no gateway credentials.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	cfg.ServiceName += "-reconciler"

	logger, err := observability.NewLogger(cfg.Env, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.ValidateReconciler(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing setup", zap.Error(err))
	}

	deps, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("dependencies", zap.Error(err))
	}
	defer deps.Close()

	var cache orders.StatusCache
	if deps.Cache != nil {
		cache = deps.Cache
	}
	wf := &orders.Workflow{Store: deps.Store, Locker: deps.Locker, Events: deps.Events, Cache: cache, Log: logger}
	rec := &orders.Reconciler{
		Store:    deps.Store,
		Workflow: wf,
		Locker:   deps.Locker,
		Events:   deps.Events,
		Log:      logger,
	}
	svc := &ingest.Service{Reconciler: rec, Log: logger}
	if deps.Dedup != nil {
		svc.Dedup = deps.Dedup
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcilerGroup, orders.TopicGatewayEvents, cfg.ReconcilerWorkers, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("reconciler consumer started",
			zap.String("group", cfg.ReconcilerGroup),
			zap.String("topic", orders.TopicGatewayEvents),
			zap.Int("workers", cfg.ReconcilerWorkers),
		)
		if err := cons.Start(ctx, svc.HandleMessage); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer...")
	cancel()
	// tunggu worker selesai sebelum store & redis ditutup (defer deps.Close)
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		logger.Warn("consumer did not stop in time")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
