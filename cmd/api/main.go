package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/thumbgen/thumbgen-backend/api/routes"
	"github.com/thumbgen/thumbgen-backend/internal/accounts"
	"github.com/thumbgen/thumbgen-backend/internal/generations"
	"github.com/thumbgen/thumbgen-backend/internal/ledger"
	"github.com/thumbgen/thumbgen-backend/internal/subscriptions"
	stripewebhook "github.com/thumbgen/thumbgen-backend/internal/webhooks/stripe"
	"github.com/thumbgen/thumbgen-backend/pkg/config"
	"github.com/thumbgen/thumbgen-backend/pkg/db"
	"github.com/thumbgen/thumbgen-backend/pkg/generator"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
	"github.com/thumbgen/thumbgen-backend/pkg/metrics"
	"github.com/thumbgen/thumbgen-backend/pkg/migrate"
	"github.com/thumbgen/thumbgen-backend/pkg/redis"
	"github.com/thumbgen/thumbgen-backend/pkg/stripe"
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

	redisClient, err := redis.New(context.Background(), cfg.Redis)
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
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	generatorClient, err := generator.NewHTTPClient(cfg.Generator)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap generator client", err)
		os.Exit(1)
	}

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)
	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	accountRepo := accounts.NewRepository(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())
	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())

	accountService, err := accounts.NewService(accounts.ServiceParams{
		Repo:              accountRepo,
		TransactionRunner: dbClient,
		StarterCredits:    cfg.Ledger.StarterCredits,
		RenewalInterval:   cfg.Ledger.RenewalInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create account service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:              ledgerRepo,
		Accounts:          accountRepo,
		TransactionRunner: dbClient,
		Metrics:           ledgerMetrics,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptionRepo,
		Accounts:          accountRepo,
		Journal:           ledgerRepo,
		TransactionRunner: dbClient,
		Metrics:           ledgerMetrics,
		Logger:            logg,
		BillingHistoryCap: cfg.Ledger.BillingHistoryCap,
		RenewalInterval:   cfg.Ledger.RenewalInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	generationService, err := generations.NewService(generations.ServiceParams{
		Ledger:    ledgerService,
		Generator: generatorClient,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create generation service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Accounts:          accountRepo,
		Subscriptions:     subscriptionService,
		Events:            stripewebhook.NewEventStore(dbClient.DB()),
		Guard:             webhookGuard,
		TransactionRunner: dbClient,
		Metrics:           webhookMetrics,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			redisClient,
			accountService,
			ledgerService,
			generationService,
			subscriptionService,
			stripeClient,
			webhookService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
