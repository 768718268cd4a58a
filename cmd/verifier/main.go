package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	cfg "github.com/sand/crypto-payment-verifier/backend/config"
	"github.com/sand/crypto-payment-verifier/backend/internal/chains"
	"github.com/sand/crypto-payment-verifier/backend/internal/clients"
	"github.com/sand/crypto-payment-verifier/backend/internal/core/ports"
	"github.com/sand/crypto-payment-verifier/backend/internal/handlers"
	"github.com/sand/crypto-payment-verifier/backend/internal/metrics"
	"github.com/sand/crypto-payment-verifier/backend/internal/shared"
	"github.com/sand/crypto-payment-verifier/backend/internal/usecases"
	"github.com/sand/crypto-payment-verifier/backend/internal/usecases/repository"
	"github.com/sand/crypto-payment-verifier/backend/internal/workers"
	"github.com/sand/crypto-payment-verifier/backend/pkg/database"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 60 // batch verification waits on explorers
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

func main() {
	// Устанавливаем timezone UTC
	time.Local = time.UTC

	// Parse configuration
	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging
	opts := &slog.HandlerOptions{
		Level: config.Log.Level,
	}

	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Warn("Starting application with configuration",
		"debug", config.App.Debug,
		"blockchain_debug", shared.IsBlockchainDebugMode(),
		"server_port", config.HTTP.Port,
		"backlog_enabled", config.DB.DatabaseURL != "")

	recorder := metrics.NewPrometheusRecorder(prometheus.DefaultRegisterer)

	// Create chain adapters and the verification service
	adapters := chains.NewAdapters(logger, config.Explorers)
	verificationService := usecases.NewVerificationService(logger, config.Verification, adapters, recorder)
	priceClient := clients.NewCoinGeckoClient(logger, config.Prices)

	// Backlog store is optional: without a database only synchronous verification is served
	var verifications ports.VerificationsRepository
	if config.DB.DatabaseURL != "" {
		pg, err := initDatabase(logger, config)
		if err != nil {
			logger.Error("Failed to initialize database", "error", err)
			log.Fatal(err)
		}
		defer pg.Close()

		verificationsRepository := repository.NewVerificationsRepository(logger, pg)
		verifications = verificationsRepository

		initAndRunWorkers(ctx, logger, config, verificationsRepository, verificationService, recorder)
	}

	// Create handlers
	httpHandler := handlers.NewHTTPHandler(logger, verificationService, verificationService, verifications, priceClient)

	// Create router
	router := mux.NewRouter()

	// Register WebSocket routes before HTTP routes
	if verifications != nil {
		wsHandler := handlers.NewWebSocketHandler(logger, verifications, handlers.NewWebSocketManager(logger), 0)
		wsHandler.RegisterRoutes(router)
	}
	httpHandler.RegisterRoutes(router)

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// Wrap router in CORS middleware
	handler := c.Handler(router)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Stop workers
	stop()

	// Give 5 seconds to complete current requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}

func initDatabase(logger *slog.Logger, config *cfg.Config) (*database.Postgres, error) {
	// Определяем путь к миграциям
	migrationsPath := "./migrations"
	if workDir, err := os.Getwd(); err == nil {
		// Пробуем сначала относительный путь
		if _, err := os.Stat(filepath.Join(workDir, "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "migrations")
		} else if _, err := os.Stat(filepath.Join(workDir, "..", "..", "migrations")); !os.IsNotExist(err) {
			// Запуск из cmd/verifier
			migrationsPath = filepath.Join(workDir, "..", "..", "migrations")
		}
	}

	// Connect to Database
	pg, err := database.New(config,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		return nil, err
	}

	// Run database migrations
	logger.Info("Running database migrations", "path", migrationsPath)
	if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath); err != nil {
		pg.Close()
		return nil, err
	}
	logger.Info("Database migrations completed successfully")

	return pg, nil
}

func initAndRunWorkers(
	ctx context.Context,
	logger *slog.Logger,
	config *cfg.Config,
	verifications ports.VerificationsRepository,
	verifier ports.Verifier,
	recorder metrics.Recorder,
) {
	if !config.Workers.Enabled {
		logger.Info("Verification rechecker is disabled")
		return
	}

	rechecker := workers.NewRechecker(logger, config.Workers, verifications, verifier, recorder)

	go func() {
		logger.Info("Starting verification rechecker worker")
		rechecker.Start(ctx)
	}()

	logger.Info("All workers initialized and started")
}
