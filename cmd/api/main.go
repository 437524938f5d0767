package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/borderpay/backend/internal/config"
	"github.com/borderpay/backend/internal/fetchers"
	"github.com/borderpay/backend/internal/ledger"
	"github.com/borderpay/backend/internal/middleware"
	"github.com/borderpay/backend/internal/payment"
	"github.com/borderpay/backend/internal/signer"
	"github.com/borderpay/backend/internal/subscriptions"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River migrations, then application schema.
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	if err := ledger.Migrate(ctx, pool); err != nil {
		slog.Error("Ledger migration failed", "error", err)
		os.Exit(1)
	}
	if err := subscriptions.MigrateStore(ctx, pool); err != nil {
		slog.Error("Subscriptions migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo)

	// Signing keys
	oracleSigner, err := signer.New(cfg.OraclePrivateKey)
	if err != nil {
		slog.Error("Failed to load oracle key", "error", err)
		os.Exit(1)
	}
	keys := signer.NewKeyManager(oracleSigner, 3)
	if cfg.OraclePrivateKey == "" {
		slog.Warn("ORACLE_PRIVATE_KEY not set, using an ephemeral signing key", "public_key", oracleSigner.PublicKeyHex())
	}

	// Payment verification
	usdcMint := payment.USDCMintMainnet
	if strings.Contains(cfg.SolanaRPCURL, "devnet") {
		usdcMint = payment.USDCMintDevnet
	}
	verifier := payment.NewVerifier(payment.Options{
		RPCURL:         cfg.SolanaRPCURL,
		MerchantWallet: cfg.MerchantWallet,
		USDCMint:       usdcMint,
		SolUSDPrice:    cfg.SolUSDPrice,
		MaxRetries:     cfg.RPCMaxRetries,
		RetryDelay:     cfg.RPCRetryDelay,
	}, logger)
	if cfg.MerchantWallet == "" {
		slog.Warn("MERCHANT_WALLET not set, on-chain payments will be rejected")
	}

	// Redis cache for the upstream feed. Optional: a missing Redis degrades
	// to uncached fetches.
	var cache *redis.Client
	if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, feed caching disabled", "error", err)
		} else {
			cache = client
			defer cache.Close()
		}
	} else {
		slog.Warn("Invalid REDIS_URL, feed caching disabled", "error", err)
	}

	border := fetchers.NewBorder(os.Getenv("BORDER_API_URL"), cache, cfg.CacheTTL, logger)

	// Subscription engine
	subStore := subscriptions.NewStore(pool)
	engine := subscriptions.NewEngine(subStore, ledgerSvc, oracleSigner, cfg.NotificationPriceMicros, cfg.WebhookTimeout, logger)
	engine.Register("border_wait", border.Fetch)

	workers := river.NewWorkers()
	river.AddWorker(workers, subscriptions.NewCheckCycleWorker(engine))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			// Single worker so cycles never overlap.
			subscriptions.QueueName: {MaxWorkers: 1},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.CheckInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return subscriptions.CheckCycleArgs{}, &river.InsertOpts{
						Queue:       subscriptions.QueueName,
						MaxAttempts: 1,
					}
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, &RouteDeps{
		Ledger:                ledgerSvc,
		Keys:                  keys,
		Border:                border,
		SubStore:              subStore,
		Engine:                engine,
		PricePerRequestMicros: cfg.PricePerRequestMicros,
		NotificationMicros:    cfg.NotificationPriceMicros,
		CheckInterval:         cfg.CheckInterval,
		MerchantConfigured:    cfg.MerchantWallet != "",
		Logger:                logger,
	})

	paywall := middleware.Paywall(ledgerSvc, verifier, middleware.PaywallConfig{
		PriceMicros:        cfg.PricePerRequestMicros,
		WelcomeBonusMicros: cfg.WelcomeBonusMicros,
		ExemptPrefixes: []string{
			"/health",
			"/oracle-key",
			"/balance",
			"/subscribe",
			"/subscriptions",
		},
	}, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.HeaderWallet, middleware.HeaderPaymentTx},
	}).Handler(paywall(mux))

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	server := &http.Server{Addr: cfg.Addr, Handler: corsHandler}

	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Starting HTTP server", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-shutdownCtx.Done()
	slog.Info("Shutting down")

	// Stop the cycle runner first so no trigger sequence is cut off
	// mid-flight, then drain HTTP.
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := riverClient.Stop(stopCtx); err != nil {
		slog.Error("River shutdown failed", "error", err)
	}
	if err := server.Shutdown(stopCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
}
