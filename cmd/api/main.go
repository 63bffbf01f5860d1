package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/mrshanebarron/repshare/internal/handlers"
	"github.com/mrshanebarron/repshare/internal/integrations/almconnect"
	"github.com/mrshanebarron/repshare/internal/integrations/unleashed"
	"github.com/mrshanebarron/repshare/internal/platform/config"
	pfirestore "github.com/mrshanebarron/repshare/internal/platform/firestore"
	"github.com/mrshanebarron/repshare/internal/platform/idempotency"
	"github.com/mrshanebarron/repshare/internal/platform/jobs"
	"github.com/mrshanebarron/repshare/internal/platform/observability"
	firestoreRepo "github.com/mrshanebarron/repshare/internal/repositories/firestore"
	"github.com/mrshanebarron/repshare/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	eventTopic := pubsubClient.Topic(cfg.Events.Topic)
	defer eventTopic.Stop()

	eventPublisher, err := jobs.NewPubSubOrderEventPublisher(eventTopic)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}

	eventLogger := observability.EventLogger(logger.Named("services"))

	reservationService, err := services.NewReservationService(services.ReservationServiceDeps{
		Inventory: registry.Inventory(),
		TTL:       cfg.Platform.ReservationTTL,
		Logger:    eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise reservation service", zap.Error(err))
	}

	adapterClient := &http.Client{Timeout: cfg.Unleashed.Timeout}

	var inventoryOfRecord services.InventoryOfRecord
	var stockWebhook services.StockWebhook
	unleashedClient, err := unleashed.NewClient(cfg.Unleashed, unleashed.Deps{
		Products:   registry.Products(),
		Warehouses: registry.Warehouses(),
		Inventory:  registry.Inventory(),
		HTTPClient: adapterClient,
		Logger:     eventLogger,
	})
	switch {
	case err == nil:
		inventoryOfRecord = unleashedClient
		stockWebhook = unleashedClient
	case errors.Is(err, unleashed.ErrNotConfigured):
		logger.Warn("unleashed adapter disabled: credentials not configured")
	default:
		logger.Fatal("failed to initialise unleashed adapter", zap.Error(err))
	}

	var wholesaleRouter services.WholesaleRouter
	almRouter, err := almconnect.NewRouter(cfg.ALMConnect, almconnect.Deps{
		SellerOrders: registry.SellerOrders(),
		HTTPClient:   &http.Client{Timeout: cfg.ALMConnect.Timeout},
		Logger:       eventLogger,
	})
	switch {
	case err == nil:
		wholesaleRouter = almRouter
	case errors.Is(err, almconnect.ErrNotConfigured):
		logger.Warn("alm connect adapter disabled: credentials not configured")
	default:
		logger.Fatal("failed to initialise alm connect adapter", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:                    registry.Orders(),
		SellerOrders:              registry.SellerOrders(),
		Inventory:                 registry.Inventory(),
		Products:                  registry.Products(),
		Sellers:                   registry.Sellers(),
		Warehouses:                registry.Warehouses(),
		Reservations:              reservationService,
		Wholesale:                 wholesaleRouter,
		UnitOfWork:                registry,
		DefaultPlatformFeePercent: cfg.Platform.DefaultFeePercent,
		Events:                    eventPublisher,
		Logger:                    eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	fulfilmentService, err := services.NewFulfilmentService(services.FulfilmentServiceDeps{
		SellerOrders: registry.SellerOrders(),
		Orders:       registry.Orders(),
		Carriers:     registry.Carriers(),
		Events:       eventPublisher,
		Logger:       eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise fulfilment service", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogf(func(format string, args ...any) {
			logger.Named("idempotency").Sugar().Warnf(format, args...)
		}),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(observability.WithLogger(context.Background(), logger))
	var backgroundWG sync.WaitGroup

	startTicker := func(name string, interval time.Duration, run func(ctx context.Context)) *time.Ticker {
		ticker := time.NewTicker(interval)
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			for {
				select {
				case <-ticker.C:
					runCtx, cancel := context.WithTimeout(backgroundCtx, time.Minute)
					run(runCtx)
					cancel()
				case <-backgroundCtx.Done():
					return
				}
			}
		}()
		logger.Info("background worker started", zap.String("worker", name), zap.Duration("interval", interval))
		return ticker
	}

	sweepLogger := logger.Named("sweep")
	sweepTicker := startTicker("reservation-sweep", cfg.Platform.SweepInterval, func(ctx context.Context) {
		result, err := reservationService.SweepExpired(ctx)
		if err != nil {
			sweepLogger.Error("reservation sweep error", zap.Error(err), zap.Int("released", result.Released), zap.Int("failed", result.Failed))
			return
		}
		if result.Released > 0 || result.Failed > 0 {
			sweepLogger.Info("reservation sweep completed", zap.Int("released", result.Released), zap.Int("failed", result.Failed))
		}
	})

	cleanupLogger := logger.Named("idempotency")
	cleanupTicker := startTicker("idempotency-cleanup", cfg.Idempotency.CleanupInterval, func(ctx context.Context) {
		removed, err := idempotencyStore.CleanupExpired(ctx, time.Now().UTC(), 200)
		if err != nil {
			cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
			return
		}
		if removed > 0 {
			cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
		}
	})

	orderHandlers := handlers.NewOrderHandlers(orderService)
	fulfilmentHandlers := handlers.NewFulfilmentHandlers(fulfilmentService)
	internalHandlers := handlers.NewInternalHandlers(reservationService, inventoryOfRecord, wholesaleRouter, stockWebhook)
	healthHandlers := handlers.NewHealthHandlers(func(ctx context.Context) error {
		_, err := firestoreProvider.Client(ctx)
		return err
	})

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealth(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes, idempotencyMiddleware),
		handlers.WithSellerOrderRoutes(fulfilmentHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("repshare api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	sweepTicker.Stop()
	cleanupTicker.Stop()
	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
