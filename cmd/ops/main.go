package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/mrshanebarron/repshare/internal/integrations/almconnect"
	"github.com/mrshanebarron/repshare/internal/integrations/unleashed"
	"github.com/mrshanebarron/repshare/internal/platform/config"
	pfirestore "github.com/mrshanebarron/repshare/internal/platform/firestore"
	"github.com/mrshanebarron/repshare/internal/platform/observability"
	firestoreRepo "github.com/mrshanebarron/repshare/internal/repositories/firestore"
	"github.com/mrshanebarron/repshare/internal/services"
)

func main() {
	app := &cli.App{
		Name:  "repshare-ops",
		Usage: "operator commands for the order coordination service",
		Commands: []*cli.Command{
			sweepCommand(),
			syncProductsCommand(),
			syncWarehousesCommand(),
			syncStockCommand(),
			syncOrderUpdatesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// opsEnv bundles the shared wiring every command needs.
type opsEnv struct {
	cfg      config.Config
	logger   *zap.Logger
	provider *pfirestore.Provider
	registry *firestoreRepo.Registry
}

func setup(ctx context.Context) (*opsEnv, func(), error) {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("initialise logger: %w", err)
	}
	logger := baseLogger.Named("ops")

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := firestoreRepo.NewRegistry(provider)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise repositories: %w", err)
	}

	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
		_ = baseLogger.Sync()
	}

	return &opsEnv{cfg: cfg, logger: logger, provider: provider, registry: registry}, cleanup, nil
}

func (e *opsEnv) unleashedClient() (*unleashed.Client, error) {
	return unleashed.NewClient(e.cfg.Unleashed, unleashed.Deps{
		Products:   e.registry.Products(),
		Warehouses: e.registry.Warehouses(),
		Inventory:  e.registry.Inventory(),
		HTTPClient: &http.Client{Timeout: e.cfg.Unleashed.Timeout},
		Logger:     observability.EventLogger(e.logger),
	})
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "release expired stock reservations",
		Action: func(c *cli.Context) error {
			// Scheduled invocation: any trouble here, setup included, is
			// logged and retried next interval rather than paging an
			// operator, so the command always exits zero.
			env, cleanup, err := setup(c.Context)
			if err != nil {
				fmt.Fprintf(os.Stderr, "sweep startup error: %v\n", err)
				return nil
			}
			defer cleanup()

			reservations, err := services.NewReservationService(services.ReservationServiceDeps{
				Inventory: env.registry.Inventory(),
				TTL:       env.cfg.Platform.ReservationTTL,
				Logger:    observability.EventLogger(env.logger),
			})
			if err != nil {
				env.logger.Error("sweep startup error", zap.Error(err))
				return nil
			}

			result, err := reservations.SweepExpired(c.Context)
			if err != nil {
				env.logger.Error("sweep error", zap.Error(err),
					zap.Int("released", result.Released), zap.Int("failed", result.Failed))
				return nil
			}
			env.logger.Info("sweep completed",
				zap.Int("released", result.Released), zap.Int("failed", result.Failed))
			return nil
		},
	}
}

func syncProductsCommand() *cli.Command {
	return syncCommand("sync-products", "refresh the product catalog from the inventory of record",
		func(ctx context.Context, env *opsEnv) (int, error) {
			client, err := env.unleashedClient()
			if err != nil {
				return 0, err
			}
			return client.SyncProducts(ctx)
		})
}

func syncWarehousesCommand() *cli.Command {
	return syncCommand("sync-warehouses", "refresh warehouses from the inventory of record",
		func(ctx context.Context, env *opsEnv) (int, error) {
			client, err := env.unleashedClient()
			if err != nil {
				return 0, err
			}
			return client.SyncWarehouses(ctx)
		})
}

func syncStockCommand() *cli.Command {
	return syncCommand("sync-stock", "refresh on-hand stock levels from the inventory of record",
		func(ctx context.Context, env *opsEnv) (int, error) {
			client, err := env.unleashedClient()
			if err != nil {
				return 0, err
			}
			return client.SyncStockLevels(ctx)
		})
}

func syncOrderUpdatesCommand() *cli.Command {
	return syncCommand("sync-order-updates", "poll wholesale order statuses for open seller orders",
		func(ctx context.Context, env *opsEnv) (int, error) {
			router, err := almconnect.NewRouter(env.cfg.ALMConnect, almconnect.Deps{
				SellerOrders: env.registry.SellerOrders(),
				HTTPClient:   &http.Client{Timeout: env.cfg.ALMConnect.Timeout},
				Logger:       observability.EventLogger(env.logger),
			})
			if err != nil {
				return 0, err
			}
			return router.SyncOrderUpdates(ctx)
		})
}

func syncCommand(name, usage string, run func(ctx context.Context, env *opsEnv) (int, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			env, cleanup, err := setup(c.Context)
			if err != nil {
				return err
			}
			defer cleanup()

			count, err := run(c.Context, env)
			if err != nil {
				env.logger.Error("sync error", zap.String("command", name),
					zap.Int("synced", count), zap.Error(err))
				return cli.Exit(fmt.Sprintf("%s: %v", name, err), 1)
			}
			env.logger.Info("sync completed", zap.String("command", name), zap.Int("synced", count))
			return nil
		},
	}
}
