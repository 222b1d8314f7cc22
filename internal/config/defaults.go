package config

import (
	"time"

	"github.com/spf13/viper"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerHost   = "0.0.0.0"
	DefaultServerPort   = 8080
	DefaultServerMode   = "release"
	DefaultMaxBodySize  = 4 << 20
	DefaultMaxBatchSize = 256

	DefaultValueWindow         = 80
	DefaultRequiresValuePolicy = "override"
	DefaultBatchConcurrency    = 4

	DefaultRulesSource   = "file"
	DefaultRulesDir      = "data/rules"
	DefaultRowsFile      = "internal.csv"
	DefaultRangesFile    = "numerical_model.json"
	DefaultOverridesFile = "hc.yaml"
	DefaultHintsFile     = "internal_combined_hints.json"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "conceptguard"
	DefaultDBMaxConns = 10

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "conceptguard:"
	DefaultRedisTTL       = time.Hour

	DefaultMinIOEndpoint = "localhost:9000"

	DefaultKafkaBroker          = "localhost:9092"
	DefaultKafkaGroupID         = "conceptguard-worker"
	DefaultKafkaInputTopic      = "conceptguard.documents"
	DefaultKafkaOutputTopic     = "conceptguard.results"
	DefaultKafkaDeadLetterTopic = "conceptguard.documents.dlq"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "conceptguard"
)

// DefaultConfig returns a Config with every default applied, including the
// boolean switches that ApplyDefaults cannot infer from zero values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Engine.EnableRestoration = true
	cfg.Engine.EnableCombinedHints = true
	cfg.Metrics.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-value field in cfg with its default. Values
// already set are left unchanged so explicit configuration always wins.
// Booleans are not touched; their defaults are registered on the viper
// instance instead.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Server.MaxBatchSize == 0 {
		cfg.Server.MaxBatchSize = DefaultMaxBatchSize
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	if cfg.Engine.ValueWindow == 0 {
		cfg.Engine.ValueWindow = DefaultValueWindow
	}
	if cfg.Engine.RequiresValuePolicy == "" {
		cfg.Engine.RequiresValuePolicy = DefaultRequiresValuePolicy
	}
	if cfg.Engine.BatchConcurrency == 0 {
		cfg.Engine.BatchConcurrency = DefaultBatchConcurrency
	}

	// ── Rules ─────────────────────────────────────────────────────────────────
	if cfg.Rules.Source == "" {
		cfg.Rules.Source = DefaultRulesSource
	}
	if cfg.Rules.Dir == "" && cfg.Rules.Source == "file" {
		cfg.Rules.Dir = DefaultRulesDir
	}
	if cfg.Rules.RowsFile == "" {
		cfg.Rules.RowsFile = DefaultRowsFile
	}
	if cfg.Rules.RangesFile == "" {
		cfg.Rules.RangesFile = DefaultRangesFile
	}
	if cfg.Rules.OverridesFile == "" {
		cfg.Rules.OverridesFile = DefaultOverridesFile
	}
	if cfg.Rules.HintsFile == "" {
		cfg.Rules.HintsFile = DefaultHintsFile
	}

	// ── Postgres ──────────────────────────────────────────────────────────────
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = DefaultDBHost
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = DefaultDBPort
	}
	if cfg.Postgres.DBName == "" {
		cfg.Postgres.DBName = DefaultDBName
	}
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = DefaultDBMaxConns
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MigrationPath == "" {
		cfg.Postgres.MigrationPath = "migrations"
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.DefaultTTL == 0 {
		cfg.Redis.DefaultTTL = DefaultRedisTTL
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.InputTopic == "" {
		cfg.Kafka.InputTopic = DefaultKafkaInputTopic
	}
	if cfg.Kafka.OutputTopic == "" {
		cfg.Kafka.OutputTopic = DefaultKafkaOutputTopic
	}
	if cfg.Kafka.DeadLetterTopic == "" {
		cfg.Kafka.DeadLetterTopic = DefaultKafkaDeadLetterTopic
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = 3
	}
	if cfg.Kafka.RetryBackoff == 0 {
		cfg.Kafka.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Kafka.StartOffset == "" {
		cfg.Kafka.StartOffset = "earliest"
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Log.ServiceName == "" {
		cfg.Log.ServiceName = "conceptguard"
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// registerDefaults seeds v with every key so AutomaticEnv overrides reach
// Unmarshal even when no config file mentions the key.
func registerDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.max_batch_size", d.Server.MaxBatchSize)
	v.SetDefault("server.rate_limit_rps", 0)
	v.SetDefault("server.rate_limit_burst", 0)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.service_name", d.Log.ServiceName)

	v.SetDefault("engine.value_window", d.Engine.ValueWindow)
	v.SetDefault("engine.min_confidence", 0.0)
	v.SetDefault("engine.requires_value_policy", d.Engine.RequiresValuePolicy)
	v.SetDefault("engine.enable_restoration", true)
	v.SetDefault("engine.enable_combined_hints", true)
	v.SetDefault("engine.batch_concurrency", d.Engine.BatchConcurrency)

	v.SetDefault("rules.source", d.Rules.Source)
	v.SetDefault("rules.dir", d.Rules.Dir)
	v.SetDefault("rules.rows_file", d.Rules.RowsFile)
	v.SetDefault("rules.ranges_file", d.Rules.RangesFile)
	v.SetDefault("rules.overrides_file", d.Rules.OverridesFile)
	v.SetDefault("rules.hints_file", d.Rules.HintsFile)
	v.SetDefault("rules.bucket", "")
	v.SetDefault("rules.prefix", "")
	v.SetDefault("rules.watch_reload", false)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", d.Postgres.Host)
	v.SetDefault("postgres.port", d.Postgres.Port)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.db_name", d.Postgres.DBName)
	v.SetDefault("postgres.ssl_mode", d.Postgres.SSLMode)
	v.SetDefault("postgres.max_conns", d.Postgres.MaxConns)
	v.SetDefault("postgres.migration_path", d.Postgres.MigrationPath)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("redis.default_ttl", d.Redis.DefaultTTL)

	v.SetDefault("minio.endpoint", d.MinIO.Endpoint)
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.group_id", d.Kafka.GroupID)
	v.SetDefault("kafka.input_topic", d.Kafka.InputTopic)
	v.SetDefault("kafka.output_topic", d.Kafka.OutputTopic)
	v.SetDefault("kafka.dead_letter_topic", d.Kafka.DeadLetterTopic)
	v.SetDefault("kafka.max_retries", d.Kafka.MaxRetries)
	v.SetDefault("kafka.retry_backoff", d.Kafka.RetryBackoff)
	v.SetDefault("kafka.start_offset", d.Kafka.StartOffset)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.enable_go_metrics", false)
	v.SetDefault("metrics.enable_process_metrics", false)
}
