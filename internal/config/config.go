// Package config defines the configuration structures for ConceptGuard. No I/O
// lives in this file, only plain data types and validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	MaxBatchSize    int           `mapstructure:"max_batch_size"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EngineConfig tunes the validation and restoration pipeline.
type EngineConfig struct {
	// ValueWindow is the number of bytes searched on each side of an entity.
	ValueWindow int `mapstructure:"value_window"`

	// MinConfidence drops recognizer entities scoring below it. Combined-hint
	// entities always score 1.0.
	MinConfidence float64 `mapstructure:"min_confidence"`

	// RequiresValuePolicy is "override" or "cluster_title".
	RequiresValuePolicy string `mapstructure:"requires_value_policy"`

	EnableRestoration   bool `mapstructure:"enable_restoration"`
	EnableCombinedHints bool `mapstructure:"enable_combined_hints"`
	BatchConcurrency    int  `mapstructure:"batch_concurrency"`
}

// RulesConfig locates the rule tables.
type RulesConfig struct {
	Source        string `mapstructure:"source"` // "file" | "minio"
	Dir           string `mapstructure:"dir"`
	RowsFile      string `mapstructure:"rows_file"`
	RangesFile    string `mapstructure:"ranges_file"`
	OverridesFile string `mapstructure:"overrides_file"`
	HintsFile     string `mapstructure:"hints_file"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	WatchReload   bool   `mapstructure:"watch_reload"`
}

// PostgresConfig holds the concept dictionary database parameters.
type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// RedisConfig holds the concept metadata cache parameters.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// MinIOConfig holds object-storage parameters for the rule bucket.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// KafkaConfig holds the document worker's consumer/producer parameters.
type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	GroupID         string        `mapstructure:"group_id"`
	InputTopic      string        `mapstructure:"input_topic"`
	OutputTopic     string        `mapstructure:"output_topic"`
	DeadLetterTopic string        `mapstructure:"dead_letter_topic"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MinBytes        int           `mapstructure:"min_bytes"`
	MaxBytes        int           `mapstructure:"max_bytes"`
	MaxWait         time.Duration `mapstructure:"max_wait"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
	StartOffset     string        `mapstructure:"start_offset"` // "earliest" | "latest"
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Path                 string `mapstructure:"path"`
	Namespace            string `mapstructure:"namespace"`
	EnableGoMetrics      bool   `mapstructure:"enable_go_metrics"`
	EnableProcessMetrics bool   `mapstructure:"enable_process_metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure. Every binary reads the
// sections it needs and ignores the rest.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Log      logging.LogConfig `mapstructure:"log"`
	Engine   EngineConfig      `mapstructure:"engine"`
	Rules    RulesConfig       `mapstructure:"rules"`
	Postgres PostgresConfig    `mapstructure:"postgres"`
	Redis    RedisConfig       `mapstructure:"redis"`
	MinIO    MinIOConfig       `mapstructure:"minio"`
	Kafka    KafkaConfig       `mapstructure:"kafka"`
	Metrics  MetricsConfig     `mapstructure:"metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of a fully-populated Config and
// returns the first problem found.
func (c *Config) Validate() error {
	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}
	if c.Server.MaxBatchSize < 1 {
		return fmt.Errorf("config: server.max_batch_size must be >= 1, got %d", c.Server.MaxBatchSize)
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("config: server.rate_limit_rps must not be negative")
	}

	// Engine
	if c.Engine.ValueWindow < 0 {
		return fmt.Errorf("config: engine.value_window must not be negative, got %d", c.Engine.ValueWindow)
	}
	if c.Engine.MinConfidence < 0 || c.Engine.MinConfidence > 1 {
		return fmt.Errorf("config: engine.min_confidence %.3f is out of range [0, 1]", c.Engine.MinConfidence)
	}
	switch c.Engine.RequiresValuePolicy {
	case "override", "cluster_title":
	default:
		return fmt.Errorf("config: engine.requires_value_policy %q is invalid; expected override|cluster_title", c.Engine.RequiresValuePolicy)
	}
	if c.Engine.BatchConcurrency < 1 {
		return fmt.Errorf("config: engine.batch_concurrency must be >= 1, got %d", c.Engine.BatchConcurrency)
	}

	// Rules
	switch c.Rules.Source {
	case "file":
		if c.Rules.Dir == "" {
			return fmt.Errorf("config: rules.dir is required when rules.source is file")
		}
	case "minio":
		if c.Rules.Bucket == "" {
			return fmt.Errorf("config: rules.bucket is required when rules.source is minio")
		}
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("config: minio.endpoint is required when rules.source is minio")
		}
	default:
		return fmt.Errorf("config: rules.source %q is invalid; expected file|minio", c.Rules.Source)
	}
	if c.Rules.RowsFile == "" {
		return fmt.Errorf("config: rules.rows_file is required")
	}

	// Postgres
	if c.Postgres.Enabled {
		if c.Postgres.Host == "" {
			return fmt.Errorf("config: postgres.host is required")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("config: postgres.user is required")
		}
		if c.Postgres.DBName == "" {
			return fmt.Errorf("config: postgres.db_name is required")
		}
		if c.Postgres.MaxConns < 1 {
			return fmt.Errorf("config: postgres.max_conns must be >= 1, got %d", c.Postgres.MaxConns)
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
		}
	}

	// Kafka
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
	}
	if c.Kafka.InputTopic == "" || c.Kafka.OutputTopic == "" {
		return fmt.Errorf("config: kafka.input_topic and kafka.output_topic are required")
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
