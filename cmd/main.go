/**
 * @description
 * This is the main entry point for the credit-service.
 * It initializes and wires together all the components of the application,
 * including configuration, database connection, repository, service, and the HTTP router.
 * Finally, it starts the HTTP server to listen for incoming requests.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/themutherfvcker/credit-service/internal/api"
	"github.com/themutherfvcker/credit-service/internal/app"
	"github.com/themutherfvcker/credit-service/internal/config"
	"github.com/themutherfvcker/credit-service/internal/store"
	"github.com/themutherfvcker/credit-service/pkg/imageclient"
	"github.com/themutherfvcker/credit-service/pkg/paymentclient"
	"github.com/themutherfvcker/credit-service/pkg/rabbitmq"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up channel to listen for OS signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// IMPORTANT: Disable prepared statements to work with PgBouncer transaction pooling
	// Use simple protocol to avoid statement cache errors (SQLSTATE 42P05)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Ensure required tables exist (idempotent)
	if _, err := dbpool.Exec(context.Background(), `
        CREATE TABLE IF NOT EXISTS accounts (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
            plan TEXT NOT NULL DEFAULT 'free',
            payment_customer_id TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS account_identities (
            identity_key TEXT PRIMARY KEY,
            account_id UUID NOT NULL REFERENCES accounts(id),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS credit_ledger (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            account_id UUID NOT NULL REFERENCES accounts(id),
            delta BIGINT NOT NULL,
            reason TEXT NOT NULL,
            external_ref TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE UNIQUE INDEX IF NOT EXISTS credit_ledger_external_ref_key
            ON credit_ledger (account_id, external_ref, reason)
            WHERE external_ref IS NOT NULL;
        CREATE INDEX IF NOT EXISTS credit_ledger_account_created_idx
            ON credit_ledger (account_id, created_at DESC);
        CREATE INDEX IF NOT EXISTS accounts_payment_customer_idx
            ON accounts (payment_customer_id);
    `); err != nil {
		log.Printf("Warning: failed ensuring tables (may already exist): %v", err)
	}

	// Set up RabbitMQ producer with bounded dial timeout; allow nil on failure
	var producer rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		if p, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
			log.Printf("WARNING: Failed to connect to RabbitMQ at startup: %v. Continuing without MQ.", err)
		} else {
			producer = p
			defer p.Close()
			logger.Info("rabbitmq producer connected")
		}
	}

	// Initialize application layers
	repository := store.NewPostgresRepository(dbpool)
	payments := paymentclient.NewClient(cfg.PaymentAPIBaseURL, cfg.PaymentAPIKey)
	images := imageclient.NewClient(cfg.ImageAPIBaseURL, cfg.ImageAPIKey, cfg.ImageModel)

	service := app.NewService(repository, payments, images, producer, app.ServiceConfig{
		InitialGrantCredits:        cfg.InitialGrantCredits,
		GenerationCostCredits:      cfg.GenerationCostCredits,
		CreditsPerPack:             cfg.CreditsPerPack,
		PackPriceCents:             cfg.PackPriceCents,
		PackCurrency:               cfg.PackCurrency,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		AppBaseURL:                 cfg.AppBaseURL,
		SubscriptionPriceID:        cfg.SubscriptionPriceID,
		BookPriceID:                cfg.BookPriceID,
		BookShippingRateID:         cfg.BookShippingRateID,
	})

	// Distributed rate limiting is optional; without Redis the service still
	// runs, it just stops throttling generation.
	if cfg.GenerateRateLimitPerMinute > 0 {
		if cfg.RedisURL == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; generation rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; generation rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; generation rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					service.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix))
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	handlers := api.NewHandlers(service, cfg.AuthJWTSecret, cfg.SecureCookies)
	webhookHandler := api.NewWebhookHandler(service, cfg.PaymentWebhookSecret)
	router := api.NewRouter(handlers, webhookHandler, cfg.AuthJWTSecret)

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	// Create a context with a timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Attempt to gracefully shut down the server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
