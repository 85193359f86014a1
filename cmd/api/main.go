package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-order-fulfillment/internal/app"
	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/gateway"
	"github.com/ariefcatur/go-order-fulfillment/internal/httpx"
	"github.com/ariefcatur/go-order-fulfillment/internal/ingest"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := observability.NewLogger(cfg.Env, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
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

	// services
	var cache orders.StatusCache
	var statusReader httpx.StatusCache
	if deps.Cache != nil {
		cache, statusReader = deps.Cache, deps.Cache
	}
	catalog := &orders.Catalog{Store: deps.Store, Log: logger}
	cart := &orders.Cart{Store: deps.Store, Locker: deps.Locker, Log: logger}
	wf := &orders.Workflow{Store: deps.Store, Locker: deps.Locker, Events: deps.Events, Cache: cache, Log: logger}
	rec := &orders.Reconciler{
		Store:    deps.Store,
		Gateway:  gateway.New(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewayKeySecret, cfg.GatewayTimeout),
		Workflow: wf,
		Locker:   deps.Locker,
		Events:   deps.Events,
		Currency: cfg.GatewayCurrency,
		Timeout:  cfg.GatewayTimeout,
		Log:      logger,
	}
	in := &ingest.Service{Reconciler: rec, Log: logger}
	if deps.Dedup != nil {
		in.Dedup = deps.Dedup
	}

	router := httpx.NewRouter(logger)
	h := &httpx.Handler{
		Catalog:       catalog,
		Cart:          cart,
		Workflow:      wf,
		Payments:      rec,
		Ingest:        in,
		Status:        statusReader,
		WebhookSecret: cfg.WebhookSecret,
		Log:           logger,
	}
	if cfg.WebhookRelay && deps.Producer != nil {
		h.Relay = &kafkax.Publisher{Producer: deps.Producer, Service: cfg.ServiceName}
	}
	h.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	deps.Close() // flush producer, tutup redis & db
	cancel()
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
