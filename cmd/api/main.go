package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kurihiro0119/search-conflict-checker/internal/api"
	"github.com/kurihiro0119/search-conflict-checker/internal/app"
	"github.com/kurihiro0119/search-conflict-checker/internal/config"
	"github.com/kurihiro0119/search-conflict-checker/internal/logger"
	"github.com/kurihiro0119/search-conflict-checker/internal/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize storage
	store, err := app.OpenStorage(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}
	if store != nil {
		defer store.Close()
	}

	// Initialize checker
	client, err := app.NewMetricsClient(ctx, cfg, cfg.FixturePath, log, m)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize metrics client")
	}
	checks := app.NewChecker(cfg, client, store, log, m)

	// Setup routes
	router := api.SetupRoutes(api.NewHandler(checks), log, m, reg)

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"addr":            addr,
			"storage_type":    cfg.StorageType,
			"history_enabled": checks.HistoryEnabled(),
		}).Info("Starting API server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down API server")

	// In-flight checks get the configured deadline to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Check.Deadline+5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
}
