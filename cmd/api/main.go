package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/draftline/fantasy-backend/api/routes"
	"github.com/draftline/fantasy-backend/internal/accounts"
	"github.com/draftline/fantasy-backend/internal/audit"
	"github.com/draftline/fantasy-backend/internal/eventlock"
	"github.com/draftline/fantasy-backend/internal/ledger"
	"github.com/draftline/fantasy-backend/internal/payments"
	stripewebhook "github.com/draftline/fantasy-backend/internal/webhooks/stripe"
	"github.com/draftline/fantasy-backend/pkg/config"
	"github.com/draftline/fantasy-backend/pkg/db"
	"github.com/draftline/fantasy-backend/pkg/logger"
	"github.com/draftline/fantasy-backend/pkg/metrics"
	"github.com/draftline/fantasy-backend/pkg/migrate"
	"github.com/draftline/fantasy-backend/pkg/redis"
	"github.com/draftline/fantasy-backend/pkg/stripe"
)

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

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to initialize stripe client", err)
		os.Exit(1)
	}

	lockRepo, err := eventlock.NewRepository(dbClient.DB(), cfg.Webhook)
	if err != nil {
		logg.Error(context.Background(), "failed to create event lock repo", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	auditService, err := audit.NewService(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create audit service", err)
		os.Exit(1)
	}

	processor, err := stripewebhook.NewProcessor(stripewebhook.ProcessorParams{
		Ledger:      ledgerService,
		Accounts:    accounts.NewRepository(dbClient.DB()),
		Audit:       auditService,
		Instruments: payments.NewClient(stripeClient),
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook processor", err)
		os.Exit(1)
	}

	guard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Webhook.GuardTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency guard", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			stripeClient,
			processor,
			lockRepo,
			guard,
			registry,
			webhookMetrics,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
