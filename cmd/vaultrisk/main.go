package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Aidin1998/vaultrisk/api"
	"github.com/Aidin1998/vaultrisk/internal/risk/config"
	"github.com/Aidin1998/vaultrisk/internal/risk/module"
	"github.com/Aidin1998/vaultrisk/pkg/logger"
	"github.com/Aidin1998/vaultrisk/pkg/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx := context.Background()
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:     cfg.Telemetry.ServiceName,
		TracingExporter: cfg.Telemetry.TracingExporter,
		MetricsExporter: cfg.Telemetry.MetricsExporter,
	})
	if err != nil {
		zapLogger.Fatal("Failed to set up telemetry", zap.Error(err))
	}

	riskModule, err := module.NewModule(module.ModuleOptions{
		Config:     cfg,
		Logger:     zapLogger,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create risk module", zap.Error(err))
	}
	if err := riskModule.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start risk module", zap.Error(err))
	}

	apiServer := api.NewServer(cfg.Server, zapLogger, api.Options{
		Health:      riskModule,
		Gatherer:    prometheus.DefaultGatherer,
		ServiceName: cfg.Telemetry.ServiceName,
	}, riskModule.GetRESTHandler(), riskModule.GetAuditHandler())

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	// Wait for interrupt or server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		zapLogger.Info("Shutting down server...", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			zapLogger.Error("API server failed", zap.Error(err))
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(stopCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}
	if err := riskModule.Stop(stopCtx); err != nil {
		zapLogger.Error("Failed to stop risk module", zap.Error(err))
	}
	if err := shutdownTelemetry(stopCtx); err != nil {
		zapLogger.Error("Failed to flush telemetry", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
