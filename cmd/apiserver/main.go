// API server entry point for ConceptGuard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/ConceptGuard/internal/bootstrap"
	"github.com/turtacn/ConceptGuard/internal/config"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/turtacn/ConceptGuard/internal/interfaces/http"
	"github.com/turtacn/ConceptGuard/internal/interfaces/http/handlers"
)

const defaultConfigPath = "configs/config.yaml"

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("API server failed", logging.Err(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting ConceptGuard API server",
		logging.String("version", version),
		logging.String("commit", commit),
		logging.String("addr", cfg.Server.Addr()))

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	checkers := make([]handlers.HealthChecker, 0, 4)
	for _, hc := range rt.HealthChecks() {
		checkers = append(checkers, handlers.NewChecker(hc.Name, hc.Check))
	}

	var collector prometheus.MetricsCollector
	if cfg.Metrics.Enabled {
		collector = rt.Collector
	}
	router := httpserver.NewRouter(httpserver.RouterConfig{
		ExtractionHandler: handlers.NewExtractionHandler(rt.Service),
		RulesHandler:      handlers.NewRulesHandler(rt.Service, logger),
		HealthHandler:     handlers.NewHealthHandler(version, checkers...),
		Server:            cfg.Server,
		Logger:            logger,
		Metrics:           rt.Metrics,
		MetricsCollector:  collector,
		MetricsPath:       cfg.Metrics.Path,
	})
	srv := httpserver.NewServer(cfg.Server, router, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down API server")

	if err := srv.Stop(context.Background()); err != nil {
		return err
	}
	logger.Info("API server stopped")
	return nil
}
