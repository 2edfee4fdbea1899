package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anshulkhatri/cartful-backend/api/controllers"
	"github.com/anshulkhatri/cartful-backend/api/routes"
	"github.com/anshulkhatri/cartful-backend/internal/cart"
	"github.com/anshulkhatri/cartful-backend/internal/checkout"
	"github.com/anshulkhatri/cartful-backend/internal/clients"
	"github.com/anshulkhatri/cartful-backend/internal/history"
	"github.com/anshulkhatri/cartful-backend/internal/orders"
	"github.com/anshulkhatri/cartful-backend/internal/payments"
	"github.com/anshulkhatri/cartful-backend/internal/refunds"
	"github.com/anshulkhatri/cartful-backend/internal/returns"
	"github.com/anshulkhatri/cartful-backend/internal/sequence"
	"github.com/anshulkhatri/cartful-backend/pkg/config"
	"github.com/anshulkhatri/cartful-backend/pkg/db"
	"github.com/anshulkhatri/cartful-backend/pkg/gateway"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/metrics"
	"github.com/anshulkhatri/cartful-backend/pkg/migrate"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
	"github.com/anshulkhatri/cartful-backend/pkg/redis"
)

const expireSweepInterval = time.Minute

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayClient, err := gateway.NewClient(ctx, cfg.Gateway, logg)
	if err != nil {
		logg.Error(ctx, "failed to create gateway client", err)
		os.Exit(1)
	}

	catalogClient, err := clients.NewCatalogClient(cfg.Collaborators, cfg.ServiceAuth, logg)
	if err != nil {
		logg.Error(ctx, "failed to create catalog client", err)
		os.Exit(1)
	}
	pricingClient, err := clients.NewPricingClient(cfg.Collaborators, cfg.ServiceAuth, logg)
	if err != nil {
		logg.Error(ctx, "failed to create pricing client", err)
		os.Exit(1)
	}
	inventoryClient, err := clients.NewInventoryClient(cfg.Collaborators, cfg.ServiceAuth, logg)
	if err != nil {
		logg.Error(ctx, "failed to create inventory client", err)
		os.Exit(1)
	}
	engagementClient, err := clients.NewEngagementClient(cfg.Collaborators, cfg.Engagement, cfg.ServiceAuth, logg)
	if err != nil {
		logg.Error(ctx, "failed to create engagement client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	gormDB := dbClient.DB()
	cartRepo := cart.NewRepository(gormDB)
	sessionRepo := checkout.NewRepository(gormDB)
	orderRepo := orders.NewRepository(gormDB)
	paymentRepo := payments.NewRepository(gormDB)
	refundRepo := refunds.NewRepository(gormDB)
	returnRepo := returns.NewRepository(gormDB)

	historySvc, err := history.NewService(gormDB)
	if err != nil {
		logg.Error(ctx, "failed to create history service", err)
		os.Exit(1)
	}
	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)
	sequenceSvc := sequence.NewService()

	cartSvc, err := cart.NewService(cartRepo, dbClient, catalogClient, pricingClient, inventoryClient, pipelineMetrics, cfg.Cart)
	if err != nil {
		logg.Error(ctx, "failed to create cart service", err)
		os.Exit(1)
	}

	checkoutSvc, err := checkout.NewService(
		sessionRepo, cartRepo, cartSvc, orderRepo, dbClient,
		inventoryClient, pricingClient, gatewayClient, sequenceSvc,
		historySvc, outboxSvc, pipelineMetrics, logg, cfg.Checkout,
	)
	if err != nil {
		logg.Error(ctx, "failed to create checkout service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(orderRepo, dbClient, historySvc, outboxSvc, inventoryClient, pricingClient, engagementClient, pipelineMetrics, logg)
	if err != nil {
		logg.Error(ctx, "failed to create orders service", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(paymentRepo, orderRepo, dbClient, gatewayClient, inventoryClient, historySvc, outboxSvc, pipelineMetrics, logg)
	if err != nil {
		logg.Error(ctx, "failed to create payments service", err)
		os.Exit(1)
	}

	refundsSvc, err := refunds.NewService(refundRepo, orderRepo, paymentRepo, dbClient, gatewayClient, historySvc, outboxSvc, pipelineMetrics, logg)
	if err != nil {
		logg.Error(ctx, "failed to create refunds service", err)
		os.Exit(1)
	}

	returnsSvc, err := returns.NewService(returnRepo, orderRepo, dbClient, inventoryClient, refundsSvc, historySvc, outboxSvc, pipelineMetrics, logg)
	if err != nil {
		logg.Error(ctx, "failed to create returns service", err)
		os.Exit(1)
	}

	// Cancelling a paid order refunds it; a refund webhook settles through
	// payments; delivering a COD order settles its cash leg. These edges
	// close the orders/payments/refunds cycle here.
	ordersSvc.SetRefundInitiator(refundsSvc)
	ordersSvc.SetPaymentSettler(paymentsSvc)
	paymentsSvc.SetRefundApplier(refundsSvc)

	go expireStaleSessions(ctx, checkoutSvc, logg)

	handler := routes.NewRouter(routes.Deps{
		Config:  cfg,
		Logger:  logg,
		Redis:   redisClient,
		Gateway: gatewayClient,
		Metrics: pipelineMetrics,
		Ready: map[string]controllers.Pinger{
			"postgres": dbClient,
			"redis":    redisClient,
		},
		Cart:           cartSvc,
		Checkout:       checkoutSvc,
		Orders:         ordersSvc,
		Payments:       paymentsSvc,
		Refunds:        refundsSvc,
		Returns:        returnsSvc,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "server shutdown", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(logCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(logCtx, "api server stopped")
}

// expireStaleSessions sweeps abandoned checkout sessions so their inventory
// reservations come back.
func expireStaleSessions(ctx context.Context, svc checkout.Service, logg *logger.Logger) {
	ticker := time.NewTicker(expireSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired, err := svc.ExpireStale(ctx, now, 100)
			if err != nil {
				logg.Error(ctx, "expiring stale checkout sessions", err)
				continue
			}
			if expired > 0 {
				logg.Info(logg.WithFields(ctx, map[string]any{"expired": expired}), "expired stale checkout sessions")
			}
		}
	}
}
