package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/gigledger/backend/internal/auth"
	"github.com/gigledger/backend/internal/config"
	"github.com/gigledger/backend/internal/db"
	"github.com/gigledger/backend/internal/handlers"
	"github.com/gigledger/backend/internal/jobs"
	"github.com/gigledger/backend/internal/ledger"
	"github.com/gigledger/backend/internal/repository"
	"github.com/gigledger/backend/internal/router"
	"github.com/gigledger/backend/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and DATABASE_URL is set", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(ctx, pool); err != nil {
		slog.Error("Ledger schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Schema and River migrations applied")

	// Ledgers
	walletRepo := repository.NewWalletRepo(pool)
	entryRepo := repository.NewWalletLedgerRepo(pool)
	escrowRepo := repository.NewEscrowRepo(pool)
	notificationRepo := repository.NewNotificationRepo(pool)

	floatSvc := ledger.NewService(ledger.NewRepository(pool), cfg.Currency, logger)

	escrowSvc := services.NewEscrowService(pool, walletRepo, entryRepo, escrowRepo, nil, logger)
	escrowSvc.Currency = cfg.Currency
	escrowSvc.FeeRate = cfg.PlatformFeeRate

	walletSvc := services.NewWalletService(pool, walletRepo, entryRepo, floatSvc, nil, logger)
	walletSvc.Currency = cfg.Currency

	// Workers hold the services; the notifier is attached once the client
	// exists.
	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewNotifyWorker(notificationRepo, logger))
	river.AddWorker(workers, jobs.NewReconcileWorker(floatSvc, walletSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{jobs.PeriodicReconcile(cfg.ReconcileInterval, cfg.Currency)},
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	enqueuer := jobs.NewRiverEnqueuer(riverClient)
	escrowSvc.Notifier = enqueuer
	walletSvc.Notifier = enqueuer

	// Service clients
	authSvc := auth.NewService(auth.NewRepository(pool), []byte(cfg.JWTSecret), cfg.TokenTTL)
	if cfg.BootstrapClient != "" {
		bootstrapClient(ctx, authSvc, cfg)
	}

	api := router.New(router.Handlers{
		Auth:    auth.NewHandler(authSvc, logger),
		Escrow:  handlers.NewEscrowHandler(escrowSvc, logger),
		Float:   handlers.NewFloatHandler(floatSvc, logger),
		Wallets: handlers.NewWalletHandler(walletSvc, logger),
	}, authSvc, pool, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
	}).Handler(api)

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr, "currency", cfg.Currency, "fee_rate", cfg.PlatformFeeRate)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown", "error", err)
	}
}

func bootstrapClient(ctx context.Context, svc auth.Service, cfg *config.Config) {
	_, err := svc.RegisterClient(ctx, cfg.BootstrapClient, cfg.BootstrapSecret, cfg.BootstrapScopes)
	switch {
	case errors.Is(err, auth.ErrDuplicateClient):
		slog.Info("Bootstrap service client already registered", "client", cfg.BootstrapClient)
	case err != nil:
		slog.Error("Failed to register bootstrap service client", "client", cfg.BootstrapClient, "error", err)
		os.Exit(1)
	default:
		slog.Info("Registered bootstrap service client", "client", cfg.BootstrapClient, "scopes", cfg.BootstrapScopes)
	}
}
