// Document worker entry point for ConceptGuard. It consumes document.submitted
// events, runs the extraction pipeline and publishes the results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/ConceptGuard/internal/bootstrap"
	"github.com/turtacn/ConceptGuard/internal/config"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/ConceptGuard/internal/interfaces/http"
	"github.com/turtacn/ConceptGuard/internal/interfaces/http/handlers"
	"github.com/turtacn/ConceptGuard/internal/interfaces/worker"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultHealthPort = 8081
)

// Build-time variables injected via ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	healthPort := flag.Int("health-port", defaultHealthPort, "port of the health and metrics server")
	ensureTopics := flag.Bool("ensure-topics", false, "create the input, output and dead-letter topics on startup")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetDefault(logger)

	if err := run(cfg, logger, *healthPort, *ensureTopics); err != nil {
		logger.Error("worker failed", logging.Err(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger, healthPort int, ensureTopics bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting ConceptGuard worker",
		logging.String("version", version),
		logging.Strings("brokers", cfg.Kafka.Brokers),
		logging.String("input_topic", cfg.Kafka.InputTopic),
		logging.String("output_topic", cfg.Kafka.OutputTopic))

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if ensureTopics {
		tm, err := kafka.NewTopicManager(cfg.Kafka.Brokers, logger)
		if err != nil {
			return err
		}
		err = tm.EnsureTopics(ctx, kafka.DefaultTopics(cfg.Kafka))
		tm.Close()
		if err != nil {
			return err
		}
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka), logger)
	if err != nil {
		return err
	}
	defer producer.Close()

	opts := []kafka.ConsumerOption{kafka.WithObserver(rt.Metrics)}
	if cfg.Kafka.DeadLetterTopic != "" {
		opts = append(opts, kafka.WithDeadLetter(producer))
	}
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfigFrom(cfg.Kafka), logger, opts...)
	if err != nil {
		return err
	}
	defer consumer.Close()

	handler := worker.NewDocumentHandler(rt.Service, producer, cfg.Kafka.OutputTopic, logger)
	consumer.Subscribe(cfg.Kafka.InputTopic, handler.Handle)

	healthSrv := startHealthServer(cfg, rt, healthPort, logger)

	if err := consumer.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down worker")

	// The consumer finishes its in-flight message before the producer closes.
	if err := consumer.Close(); err != nil {
		logger.Warn("consumer close failed", logging.Err(err))
	}
	if err := healthSrv.Stop(context.Background()); err != nil {
		logger.Warn("health server shutdown failed", logging.Err(err))
	}
	stats := consumer.Stats()
	logger.Info("worker stopped",
		logging.Int64("consumed", stats.Consumed),
		logging.Int64("dead_lettered", stats.DeadLettered),
		logging.Int64("published", producer.Sent()))
	return nil
}

// startHealthServer serves the probes and, when enabled, the metrics of the
// worker process.
func startHealthServer(cfg *config.Config, rt *bootstrap.Runtime, port int, logger logging.Logger) *httpserver.Server {
	checkers := make([]handlers.HealthChecker, 0, 4)
	for _, hc := range rt.HealthChecks() {
		checkers = append(checkers, handlers.NewChecker(hc.Name, hc.Check))
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	handlers.NewHealthHandler(version, checkers...).RegisterRoutes(r)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(rt.Collector.Handler()))
	}

	srvCfg := cfg.Server
	srvCfg.Host = ""
	srvCfg.Port = port
	srv := httpserver.NewServer(srvCfg, r, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("health server error", logging.Err(err))
		}
	}()
	return srv
}
