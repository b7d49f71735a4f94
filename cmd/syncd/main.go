package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trailstack/ledgertrail/internal/application/services"
	"github.com/trailstack/ledgertrail/internal/config"
	"github.com/trailstack/ledgertrail/internal/infrastructure/cache"
	"github.com/trailstack/ledgertrail/internal/infrastructure/database"
	"github.com/trailstack/ledgertrail/internal/infrastructure/source"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()

	logger.Info("Starting ledgertrail syncd",
		zap.Strings("accounts", cfg.Sync.Accounts),
		zap.Strings("endpoints", cfg.Source.Endpoints),
	)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open record store
	db, err := database.NewDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	// Redis is optional; syncd runs without the analysis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis, logger)
	if err != nil {
		logger.Warn("Failed to connect to Redis, continuing without cache", zap.Error(err))
		redisCache = nil
	}

	// Build the source pool over all configured endpoints
	clients := make([]source.NamedClient, 0, len(cfg.Source.Endpoints))
	for _, endpoint := range cfg.Source.Endpoints {
		clients = append(clients, source.NamedClient{
			Address: endpoint,
			Client:  source.NewHTTPSource(endpoint, cfg.Source.RequestTimeout),
		})
	}
	pool, err := source.NewPool(clients, cfg.Source.MaxRetries, cfg.Source.BackoffBase, logger)
	if err != nil {
		logger.Fatal("Failed to build source pool", zap.Error(err))
	}

	// Create repositories
	recordRepo := database.NewRecordRepo(db.DB())
	stateRepo := database.NewSyncStateRepo(db.DB())

	// Create sync service
	syncService := services.NewSyncService(
		pool,
		recordRepo,
		stateRepo,
		cfg.Sync,
		services.NewSyncMetrics(),
		logger,
	)

	// With Redis present, drop cached analyses whenever fresh activity
	// lands for an account
	if redisCache != nil {
		balanceService := services.NewBalanceService(logger)
		flowService := services.NewFlowService(logger)
		analyzer := services.NewAnalyzerService(
			syncService,
			balanceService,
			flowService,
			recordRepo,
			redisCache,
			logger,
		)
		syncService.OnAccountSynced(func(ctx context.Context, account string) {
			if err := analyzer.InvalidateAccount(ctx, account); err != nil {
				logger.Warn("Failed to invalidate cached analyses",
					zap.String("account", account),
					zap.Error(err),
				)
			}
		})
	}

	// Start syncing
	if err := syncService.Start(ctx); err != nil {
		logger.Fatal("Failed to start sync service", zap.Error(err))
	}

	// Start metrics server
	go startMetricsServer(cfg.Sync.MetricsPort, logger)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Received shutdown signal, stopping syncd...")

	// Graceful shutdown
	syncService.Stop()
	pool.LogStats()

	logger.Info("Syncd stopped")
}

func setupLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoding := "json"
	if format == "console" {
		encoding = "console"
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := config.Build()
	return logger
}

func startMetricsServer(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", zap.String("addr", addr))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server error", zap.Error(err))
	}
}
