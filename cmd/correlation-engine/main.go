package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/symptomtrace/correlation-engine/internal/api"
	"github.com/symptomtrace/correlation-engine/internal/cache"
	"github.com/symptomtrace/correlation-engine/internal/config"
	"github.com/symptomtrace/correlation-engine/internal/engine"
	"github.com/symptomtrace/correlation-engine/internal/metrics"
	"github.com/symptomtrace/correlation-engine/internal/repo"
	"github.com/symptomtrace/correlation-engine/internal/scheduler"
	"github.com/symptomtrace/correlation-engine/internal/services"
	"github.com/symptomtrace/correlation-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting correlation-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
		})
		if err != nil {
			logger.Warn("redis cache unavailable, using in-memory cache", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	var store scheduler.EventStore
	if cfg.Store.SQLitePath != "" {
		sqliteStore, err := repo.OpenSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			logger.Error("failed to open sqlite store", slog.String("path", cfg.Store.SQLitePath), slog.Any("error", err))
			os.Exit(1)
		}
		defer sqliteStore.Close()
		store = sqliteStore
		logger.Info("using sqlite event store", slog.String("path", cfg.Store.SQLitePath))
	} else {
		store = repo.NewJournalClient(
			cfg.Clients.Journal.BaseURL,
			cfg.Clients.Journal.FoodPath,
			cfg.Clients.Journal.SymptomPath,
			cfg.Clients.Journal.TriggerPath,
			cfg.Clients.Journal.MedicationPath,
			cfg.Clients.Journal.UsersPath,
			cfg.Clients.Journal.Timeout,
		)
		logger.Info("using journal service", slog.String("baseURL", cfg.Clients.Journal.BaseURL))
	}

	resultCache := cache.NewCorrelationCache(cacheProvider, cfg.Cache.ResultTTL)
	computer := engine.NewComputer(logger, store)
	detector := engine.NewDetector(logger, computer)
	service := services.NewCorrelationService(logger, computer, detector, resultCache)

	sched := scheduler.New(logger, service, store, scheduler.Config{
		Interval:      cfg.Scheduler.Interval,
		Window:        cfg.Scheduler.Window,
		PairCap:       cfg.Scheduler.PairCap,
		MinSampleSize: cfg.Scheduler.MinSampleSize,
	})

	handlers := api.NewHandlers(logger, service, store, sched, cfg.Server.CronToken)
	server, err := api.NewServer(cfg.Server, logger, handlers)
	if err != nil {
		logger.Error("failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		go sched.Run(ctx)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("correlation-engine stopped")
}
