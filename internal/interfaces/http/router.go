package http

import (
	"github.com/gin-gonic/gin"

	"github.com/turtacn/ConceptGuard/internal/config"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ConceptGuard/internal/interfaces/http/handlers"
	"github.com/turtacn/ConceptGuard/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree.
type RouterConfig struct {
	// Handlers
	ExtractionHandler *handlers.ExtractionHandler
	RulesHandler      *handlers.RulesHandler
	HealthHandler     *handlers.HealthHandler

	// Infrastructure
	Server           config.ServerConfig
	Logger           logging.Logger
	Metrics          *prometheus.AppMetrics
	MetricsCollector prometheus.MetricsCollector
	MetricsPath      string
}

// NewRouter constructs the route tree. Probes and /metrics sit outside the
// rate limit, timeout and body limit applied to /api/v1.
func NewRouter(cfg RouterConfig) *gin.Engine {
	switch cfg.Server.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		gin.SetMode(cfg.Server.Mode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	if len(cfg.Server.CORSOrigins) > 0 {
		cors := middleware.DefaultCORSConfig()
		cors.AllowedOrigins = cfg.Server.CORSOrigins
		cors.AllowWildcard = true
		r.Use(middleware.CORS(cors))
	}
	r.Use(middleware.RequestLogging(logger.Named("http"), middleware.DefaultLoggingConfig()))
	r.Use(middleware.Metrics(cfg.Metrics))

	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.MetricsCollector != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(cfg.MetricsCollector.Handler()))
	}

	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.Server.RateLimitRPS
	if cfg.Server.RateLimitBurst > 0 {
		rl.BurstSize = cfg.Server.RateLimitBurst
	}

	api := r.Group("/api/v1")
	api.Use(
		middleware.RateLimit(rl),
		middleware.Timeout(cfg.Server.RequestTimeout),
		middleware.BodyLimit(cfg.Server.MaxBodySize),
	)
	if cfg.ExtractionHandler != nil {
		cfg.ExtractionHandler.RegisterRoutes(api)
	}
	if cfg.RulesHandler != nil {
		cfg.RulesHandler.RegisterRoutes(api)
	}

	return r
}
