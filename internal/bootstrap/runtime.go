// Package bootstrap assembles the extraction runtime from configuration. The
// API server, the document worker and the CLI share it so every entry point
// runs the same pipeline.
package bootstrap

import (
	"context"
	"time"

	"github.com/turtacn/ConceptGuard/internal/application/extraction"
	"github.com/turtacn/ConceptGuard/internal/config"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/database/postgres"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/database/redis"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/storage/minio"
	"github.com/turtacn/ConceptGuard/internal/intelligence/lexicon"
	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

// WatchDebounce coalesces bursts of rule file events into one reload.
const WatchDebounce = 500 * time.Millisecond

// Runtime holds every long-lived component of a process.
type Runtime struct {
	Config     *config.Config
	Logger     logging.Logger
	Collector  prometheus.MetricsCollector
	Metrics    *prometheus.AppMetrics
	RuleSource rules.Source
	Holder     *rules.Holder
	Recognizer *lexicon.Recognizer
	Engine     validation.Engine
	Service    extraction.Service

	// Optional infrastructure; nil when disabled.
	Postgres *postgres.Connection
	Concepts *repositories.ConceptRepository
	Redis    *redis.Client
	MinIO    *minio.Client

	stopWatch context.CancelFunc
	closers   []func()
}

// Option adjusts how New assembles the runtime.
type Option func(*options)

type options struct {
	source    rules.Source
	collector prometheus.MetricsCollector
	lookup    validation.ConceptLookup
	noWatch   bool
}

// WithRuleSource replaces the configured rule source.
func WithRuleSource(src rules.Source) Option {
	return func(o *options) { o.source = src }
}

// WithCollector registers metrics on an existing collector.
func WithCollector(c prometheus.MetricsCollector) Option {
	return func(o *options) { o.collector = c }
}

// WithConceptLookup replaces the Postgres-backed concept lookup.
func WithConceptLookup(l validation.ConceptLookup) Option {
	return func(o *options) { o.lookup = l }
}

// WithoutWatch disables rule directory watching. One-shot commands use it.
func WithoutWatch() Option {
	return func(o *options) { o.noWatch = true }
}

// New connects the configured infrastructure, loads the rule store and builds
// the engine and service. The first rule load must succeed.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...Option) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "config is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	rt = &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	if err = rt.initMetrics(o.collector); err != nil {
		return nil, err
	}
	if err = rt.initInfrastructure(ctx, o.source == nil); err != nil {
		return nil, err
	}
	if err = rt.initRules(ctx, o.source); err != nil {
		return nil, err
	}

	lookup := o.lookup
	if lookup == nil {
		lookup = rt.conceptLookup()
	}
	rt.initRecognizer(ctx)

	engineOpts := []validation.Option{
		validation.WithCandidateGenerator(rt.Recognizer),
		validation.WithLogger(logger.Named("engine")),
		validation.WithMetrics(rt.Metrics),
	}
	if lookup != nil {
		engineOpts = append(engineOpts, validation.WithConceptLookup(lookup))
	}
	if rt.Engine, err = validation.NewEngine(rt.Recognizer, rt.Holder, EngineConfig(cfg.Engine), engineOpts...); err != nil {
		return nil, err
	}
	if rt.Service, err = extraction.NewService(rt.Engine, rt.Holder,
		extraction.WithMaxBatchSize(cfg.Server.MaxBatchSize),
		extraction.WithLogger(logger),
	); err != nil {
		return nil, err
	}

	if cfg.Rules.WatchReload && !o.noWatch {
		rt.watchRules()
	}
	logger.Info("runtime ready",
		logging.String("rules", rt.RuleSource.Describe()),
		logging.Int("concepts", rt.Holder.Current().Len()),
		logging.Int("lexicon_entries", rt.Recognizer.Len()),
		logging.Bool("postgres", rt.Postgres != nil),
		logging.Bool("redis", rt.Redis != nil),
	)
	return rt, nil
}

func (rt *Runtime) initMetrics(collector prometheus.MetricsCollector) error {
	if collector == nil {
		mc := rt.Config.Metrics
		c, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            mc.Namespace,
			EnableGoMetrics:      mc.EnableGoMetrics,
			EnableProcessMetrics: mc.EnableProcessMetrics,
		}, rt.Logger)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "metrics collector")
		}
		collector = c
	}
	rt.Collector = collector
	rt.Metrics = prometheus.NewAppMetrics(collector)
	return nil
}

// initInfrastructure opens Postgres, Redis and, when rules come from object
// storage, MinIO. Redis is an optional cache; failing to reach it only
// disables caching.
func (rt *Runtime) initInfrastructure(ctx context.Context, needRuleSource bool) error {
	cfg := rt.Config

	if cfg.Postgres.Enabled {
		conn, err := postgres.NewConnection(ctx, cfg.Postgres, rt.Logger)
		if err != nil {
			return err
		}
		rt.Postgres = conn
		rt.Concepts = repositories.NewConceptRepository(conn.Pool(), rt.Logger)
		rt.closers = append(rt.closers, conn.Close)
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis, rt.Logger)
		if err != nil {
			rt.Logger.WithError(err).Warn("redis unavailable; concept cache disabled")
		} else {
			rt.Redis = client
			rt.closers = append(rt.closers, func() { _ = client.Close() })
		}
	}

	if needRuleSource && cfg.Rules.Source == "minio" {
		client, err := minio.NewClient(cfg.MinIO, cfg.Rules.Bucket, rt.Logger)
		if err != nil {
			return err
		}
		rt.MinIO = client
		rt.closers = append(rt.closers, func() { _ = client.Close() })
	}
	return nil
}

func (rt *Runtime) initRules(ctx context.Context, src rules.Source) error {
	if src == nil {
		var err error
		if src, err = RuleSource(rt.Config.Rules, rt.MinIO, rt.Logger); err != nil {
			return err
		}
	}
	rt.RuleSource = src

	opts, err := BuildOptions(rt.Config, rt.Logger)
	if err != nil {
		return err
	}
	load := func(ctx context.Context) (*rules.Store, error) {
		return rules.Build(ctx, src, opts)
	}

	initial, err := load(ctx)
	if err != nil {
		return err
	}
	rt.Holder = rules.NewHolder(initial, load,
		rules.WithHolderLogger(rt.Logger.Named("rules")),
		rules.WithReloadMetrics(rt.Metrics),
	)
	return nil
}

// initRecognizer follows the rule holder and adds the preferred names and
// synonyms stored in the concept dictionary.
func (rt *Runtime) initRecognizer(ctx context.Context) {
	var extra []lexicon.Entry
	if rt.Concepts != nil {
		concepts, err := rt.Concepts.List(ctx)
		if err != nil {
			rt.Logger.WithError(err).Warn("concept dictionary unavailable; recognizing rule keywords only")
		}
		for _, c := range concepts {
			extra = append(extra, lexicon.NameEntry(c.ID, c.PreferredName, c.TypeIDs))
			for _, syn := range c.Synonyms {
				extra = append(extra, lexicon.NameEntry(c.ID, syn, c.TypeIDs))
			}
		}
	}
	rt.Recognizer = lexicon.NewRecognizer(nil, lexicon.WithLogger(rt.Logger.Named("lexicon")))
	rt.Recognizer.Follow(rt.Holder, extra...)
}

// conceptLookup returns the Postgres dictionary, cached in Redis when
// available, or nil without a database.
func (rt *Runtime) conceptLookup() validation.ConceptLookup {
	if rt.Concepts == nil {
		return nil
	}
	if rt.Redis == nil {
		return rt.Concepts
	}
	opts := []redis.CacheOption{redis.WithObserver(rt.Metrics)}
	if rt.Config.Redis.KeyPrefix != "" {
		opts = append(opts, redis.WithPrefix(rt.Config.Redis.KeyPrefix))
	}
	if rt.Config.Redis.DefaultTTL > 0 {
		opts = append(opts, redis.WithTTL(rt.Config.Redis.DefaultTTL))
	}
	return redis.NewCachedConceptLookup(rt.Redis, rt.Concepts, rt.Logger, opts...)
}

// watchRules reloads on rule file changes until Close.
func (rt *Runtime) watchRules() {
	fs, ok := rt.RuleSource.(*rules.FileSource)
	if !ok {
		rt.Logger.Warn("watch_reload only applies to file rule sources", logging.String("source", rt.RuleSource.Describe()))
		return
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	rt.stopWatch = cancel
	go func() {
		if err := rt.Holder.WatchDir(watchCtx, fs.Dir, WatchDebounce); err != nil {
			rt.Logger.WithError(err).Error("rule watcher stopped")
		}
	}()
	rt.Logger.Info("watching rule directory", logging.String("dir", fs.Dir))
}

// Close stops the rule watcher and releases infrastructure in reverse order.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.stopWatch != nil {
		rt.stopWatch()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Config mapping
// ─────────────────────────────────────────────────────────────────────────────

// RuleSource resolves the configured rule source. The minio source needs a
// connected client.
func RuleSource(cfg config.RulesConfig, client *minio.Client, logger logging.Logger) (rules.Source, error) {
	switch cfg.Source {
	case "", "file":
		return rules.NewFileSource(cfg.Dir), nil
	case "minio":
		if client == nil {
			return nil, errors.New(errors.ErrCodeRulesSourceUnavailable, "minio rule source requires a minio client")
		}
		return minio.NewRuleObjectStore(client, cfg.Bucket, cfg.Prefix, logger), nil
	}
	return nil, errors.Newf(errors.ErrCodeConfigInvalid, "unknown rule source %q", cfg.Source)
}

// BuildOptions maps the rule table names and the requires-value policy.
// Unset table names keep the conventional defaults.
func BuildOptions(cfg *config.Config, logger logging.Logger) (rules.Options, error) {
	opts := rules.DefaultOptions()
	rc := cfg.Rules
	if rc.RowsFile != "" {
		opts.RowsFile = rc.RowsFile
	}
	if rc.RangesFile != "" {
		opts.RangesFile = rc.RangesFile
	}
	if rc.OverridesFile != "" {
		opts.OverridesFile = rc.OverridesFile
	}
	if rc.HintsFile != "" {
		opts.HintsFile = rc.HintsFile
	}
	if cfg.Engine.RequiresValuePolicy != "" {
		policy, err := rules.ParsePolicy(cfg.Engine.RequiresValuePolicy)
		if err != nil {
			return opts, err
		}
		opts.Policy = policy
	}
	opts.Logger = logger
	return opts, nil
}

// EngineConfig maps the engine section onto validation.Config. Zero window
// and concurrency keep the engine defaults.
func EngineConfig(ec config.EngineConfig) validation.Config {
	cfg := validation.DefaultConfig()
	if ec.ValueWindow > 0 {
		cfg.Window = ec.ValueWindow
	}
	if ec.BatchConcurrency > 0 {
		cfg.BatchConcurrency = ec.BatchConcurrency
	}
	cfg.MinConfidence = ec.MinConfidence
	cfg.EnableRestoration = ec.EnableRestoration
	cfg.EnableCombinedHints = ec.EnableCombinedHints
	return cfg
}

// HealthCheck is one named readiness probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthChecks lists a probe for the rule store and one per connected
// backend.
func (rt *Runtime) HealthChecks() []HealthCheck {
	checks := []HealthCheck{{
		Name: "rules",
		Check: func(context.Context) error {
			if rt.Holder == nil || rt.Holder.Current() == nil {
				return errors.New(errors.ErrCodeRulesSourceUnavailable, "no rule store loaded")
			}
			return nil
		},
	}}
	if rt.Postgres != nil {
		checks = append(checks, HealthCheck{Name: "postgres", Check: rt.Postgres.HealthCheck})
	}
	if rt.Redis != nil {
		checks = append(checks, HealthCheck{Name: "redis", Check: rt.Redis.Ping})
	}
	if rt.MinIO != nil {
		bucket := rt.Config.Rules.Bucket
		checks = append(checks, HealthCheck{Name: "minio", Check: func(ctx context.Context) error {
			return rt.MinIO.HealthCheck(ctx, bucket)
		}})
	}
	return checks
}
