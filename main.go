package main

import (
	"context"
	"embed"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keyproof/keyproofd/pkg/chainsearch"
	"github.com/keyproof/keyproofd/pkg/log"
	"github.com/keyproof/keyproofd/pkg/proof"
)

//go:embed config/migrations/*/*.sql
var embedMigrations embed.FS

func main() {
	logger := log.NewIPFSLogger("root", log.Level(os.Getenv("KEYPROOFD_LOG_LEVEL")))
	if len(os.Args) > 1 {
		// If a CLI command is provided, run it and exit
		runCli(logger, os.Args[1])
		return
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	endpoints, err := BuildEndpoints(config.chains, logger)
	if err != nil {
		logger.Fatal("failed to build chain endpoints", "error", err)
	}

	// Initialize Prometheus metrics
	metrics := NewMetrics()
	hub := NewAttemptHub()

	orchestrator := chainsearch.NewOrchestrator(endpoints, logger,
		chainsearch.WithAttemptObserver(func(attempt chainsearch.SearchAttempt) {
			metrics.ObserveAttempt(attempt)
			hub.Publish(attempt)
		}),
	)

	store := NewRecoveryResultStore(db)
	service := proof.NewService(orchestrator, logger, proof.WithResultStore(store))

	warmed, err := service.WarmCache(context.Background())
	if err != nil {
		logger.Fatal("failed to warm result cache", "error", err)
	}
	logger.Info("result cache warmed", "entries", warmed)

	api := NewAPI(service, hub, metrics, logger)
	apiMux := http.NewServeMux()
	api.RegisterRoutes(apiMux)

	apiServer := &http.Server{
		Addr:    config.serverConf.ListenAddr,
		Handler: apiMux,
	}

	metricsEndpoint := "/metrics"
	// Set up a separate mux for metrics
	metricsMux := http.NewServeMux()
	metricsMux.Handle(metricsEndpoint, promhttp.Handler())

	// Start metrics server on a separate port
	metricsServer := &http.Server{
		Addr:    config.serverConf.MetricsListenAddr,
		Handler: metricsMux,
	}

	// Start metrics monitoring
	gaugeCtx, stopGauges := context.WithCancel(context.Background())
	defer stopGauges()
	go metrics.RecordMetricsPeriodically(gaugeCtx, db, service, logger)

	go func() {
		logger.Info("Prometheus metrics available", "listenAddr", config.serverConf.MetricsListenAddr, "endpoint", metricsEndpoint)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failure", "error", err)
		}
	}()

	// Start the main HTTP server.
	go func() {
		logger.Info("API server available", "listenAddr", config.serverConf.ListenAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failure", "error", err)
		}
	}()

	// Wait for shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	// Shutdown metrics server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}

	// Shutdown API server
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down API server", "error", err)
	}

	logger.Info("shutdown complete")
}

func runCli(logger log.Logger, name string) {
	switch name {
	case "export-results":
		runExportResultsCli(logger)
	case "revalidate":
		runRevalidateCli(logger)
	default:
		logger.Fatal("Unknown CLI command", "name", name)
	}
}
