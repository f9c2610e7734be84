// Package app builds the tracking engine's components from configuration.
// Every external backend is optional outside production: a missing
// DATABASE_URL selects in-memory registry and request log stores, a missing
// REDIS_URL selects the in-memory cache and limiter and disables the queue.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/tracking-engine/internal/adapter"
	"github.com/noah-isme/tracking-engine/internal/auth"
	"github.com/noah-isme/tracking-engine/internal/batch"
	"github.com/noah-isme/tracking-engine/internal/cache"
	"github.com/noah-isme/tracking-engine/internal/common"
	"github.com/noah-isme/tracking-engine/internal/config"
	"github.com/noah-isme/tracking-engine/internal/health"
	"github.com/noah-isme/tracking-engine/internal/lock"
	"github.com/noah-isme/tracking-engine/internal/obs"
	"github.com/noah-isme/tracking-engine/internal/queue"
	"github.com/noah-isme/tracking-engine/internal/ratelimit"
	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/repo"
	"github.com/noah-isme/tracking-engine/internal/requestlog"
	"github.com/noah-isme/tracking-engine/internal/resilience"
	"github.com/noah-isme/tracking-engine/internal/status"
	"github.com/noah-isme/tracking-engine/internal/tracking"
)

// Options adjusts Build for a particular binary.
type Options struct {
	// Name is reported as the Postgres application_name.
	Name string
	// Registerer receives domain metrics; nil uses the default registry.
	Registerer prometheus.Registerer
	// RedisMetrics enables redisotel metrics on the Redis client.
	RedisMetrics bool
	// SkipQueue leaves the asynq client and inspector unset.
	SkipQueue bool
}

// Dependencies holds every wired component. Optional backends are nil when
// not configured.
type Dependencies struct {
	Config *config.Config
	Logger zerolog.Logger

	DB    *pgxpool.Pool
	Redis *redis.Client

	Validator    *validator.Validate
	Metrics      *obs.TrackingMetrics
	Normalizer   *status.Normalizer
	Store        registry.Store
	Registry     *registry.Registry
	Adapters     *adapter.Set
	Breakers     *resilience.Breakers
	Cache        cache.Store
	LimiterStore limiter.Store
	ProviderGate *ratelimit.Gate
	APILimit     *ratelimit.Rate
	AsyncLimit   ratelimit.Sliding
	RequestLog   *requestlog.Writer
	History      requestlog.Reader
	Orchestrator *tracking.Orchestrator
	Batch        *batch.Coordinator
	Tokens       *auth.Tokens
	Locker       *lock.Locker
	Tasks        *asynq.Client
	Inspector    *asynq.Inspector
	Queue        queue.Client
	Health       health.Handler

	closers []func(context.Context) error
}

// Build connects the configured backends and wires the tracking pipeline.
// Background watchers stop when ctx is cancelled.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	if opts.Name == "" {
		opts.Name = "tracking-engine"
	}
	d := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		Validator: common.NewValidator(),
		Metrics:   obs.NewTrackingMetrics(opts.Registerer),
		Health:    health.Handler{Probes: map[string]health.Probe{}},
	}
	if err := d.connect(ctx, opts); err != nil {
		_ = d.Close(context.Background())
		return nil, err
	}
	if err := d.wire(ctx, opts); err != nil {
		_ = d.Close(context.Background())
		return nil, err
	}
	return d, nil
}

func (d *Dependencies) connect(ctx context.Context, opts Options) error {
	cfg := d.Config
	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err := repo.Connect(connectCtx, cfg.DatabaseURL, opts.Name)
		cancel()
		if err != nil {
			return err
		}
		d.DB = pool
		d.Health.Probes["db"] = health.DBProbe(pool)
		d.onClose(func(context.Context) error { pool.Close(); return nil })
	}
	if cfg.RedisURL != "" {
		client, err := ConnectRedis(ctx, cfg.RedisURL, opts.RedisMetrics, d.Logger)
		if err != nil {
			return err
		}
		d.Redis = client
		d.Health.Probes["redis"] = health.RedisProbe(client)
		d.onClose(func(context.Context) error { return client.Close() })
	}
	return nil
}

func (d *Dependencies) wire(ctx context.Context, opts Options) error {
	cfg := d.Config
	log := d.Logger

	d.Normalizer = status.NewNormalizer(nil)
	if path := cfg.Tracking.SynonymsFile; path != "" {
		reload := func() error {
			table, err := status.LoadTableFile(path)
			if err != nil {
				return err
			}
			d.Normalizer.Swap(table)
			return nil
		}
		if err := reload(); err != nil {
			return fmt.Errorf("load status synonyms: %w", err)
		}
		go d.watch(ctx, "status synonyms", func(ctx context.Context) error {
			return config.WatchFile(ctx, path, log.With().Str("component", "status").Logger(), reload)
		})
	}

	source, err := d.providerSource(ctx)
	if err != nil {
		return err
	}
	d.Registry = registry.New(source, registry.Options{
		RefreshTTL:  cfg.Registry.RefreshTTL,
		FallThrough: cfg.Registry.FallThrough,
		Logger:      log.With().Str("component", "registry").Logger(),
	})

	d.Adapters = adapter.NewSet(adapter.NewFactory(cfg.Tracking.AttemptTimeout, log.With().Str("component", "adapter").Logger()))
	d.Breakers = resilience.NewBreakers(resilience.Settings{
		MinRequests:  cfg.Circuit.MinRequests,
		FailureRatio: cfg.Circuit.FailureRatio,
		OpenFor:      cfg.Circuit.OpenFor,
	}, log.With().Str("component", "circuit").Logger())

	if d.Redis != nil {
		d.Cache = cache.NewRedisStore(d.Redis)
	} else {
		d.Cache = cache.NewMemoryStore()
	}

	var limiterClient redis.UniversalClient
	if d.Redis != nil {
		limiterClient = d.Redis
	}
	if d.LimiterStore, err = ratelimit.NewStore(limiterClient, "tracking:limit"); err != nil {
		return fmt.Errorf("rate limit store: %w", err)
	}
	if d.ProviderGate, err = ratelimit.NewGate(d.LimiterStore, cfg.Limits.Provider); err != nil {
		return fmt.Errorf("provider rate limit: %w", err)
	}
	if d.APILimit, err = ratelimit.NewRate(d.LimiterStore, cfg.Limits.API); err != nil {
		return fmt.Errorf("api rate limit: %w", err)
	}
	d.AsyncLimit = ratelimit.Sliding{
		Client: limiterClient,
		Prefix: "tracking:async:",
		Window: cfg.Limits.AsyncWindow,
		Max:    cfg.Limits.AsyncMax,
	}

	var sink requestlog.Sink
	if d.DB != nil {
		store := repo.RequestLogStore{Q: d.DB}
		sink, d.History = store, store
	} else {
		mem := requestlog.NewMemorySink(10000)
		sink, d.History = mem, mem
	}
	d.RequestLog = requestlog.NewWriter(sink, requestlog.WriterOptions{
		Buffer:  cfg.Tracking.RequestLogBuffer,
		Logger:  log.With().Str("component", "requestlog").Logger(),
		Dropped: d.Metrics.RequestLogDropped,
		Failed:  d.Metrics.RequestLogFailed,
	})
	d.onClose(d.RequestLog.Close)

	d.Orchestrator = tracking.New(d.Registry, d.Adapters, d.Cache, tracking.Options{
		AttemptTimeout: cfg.Tracking.AttemptTimeout,
		ActiveTTL:      cfg.Tracking.CacheActiveTTL,
		TerminalTTL:    cfg.Tracking.CacheTerminalTTL,
		Normalizer:     d.Normalizer,
		Breakers:       d.Breakers,
		Limiter:        d.ProviderGate,
		Log:            d.RequestLog,
		Metrics:        d.Metrics,
		Logger:         log.With().Str("component", "orchestrator").Logger(),
	})
	d.Batch = d.NewBatch(d.Orchestrator)

	if cfg.JWTSecret != "" {
		d.Tokens = auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	}

	if d.Redis != nil {
		d.Locker = &lock.Locker{R: d.Redis, Prefix: "tracking:lock:"}
		if !opts.SkipQueue {
			conn, err := asynq.ParseRedisURI(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("parse queue redis url: %w", err)
			}
			d.Tasks = asynq.NewClient(conn)
			d.Inspector = asynq.NewInspector(conn)
			d.Queue = queue.Client{Tasks: d.Tasks, Timeout: 10 * time.Minute, Retention: 24 * time.Hour}
			d.onClose(func(context.Context) error {
				return errors.Join(d.Tasks.Close(), d.Inspector.Close())
			})
		}
	}
	return nil
}

// NewBatch returns a coordinator over resolver using the configured bounds.
func (d *Dependencies) NewBatch(resolver batch.Resolver) *batch.Coordinator {
	return batch.New(resolver, batch.Options{
		ChunkSize:      d.Config.Batch.ChunkSize,
		MaxConcurrency: d.Config.Batch.MaxConcurrency,
		Metrics:        d.Metrics,
		Logger:         d.Logger.With().Str("component", "batch").Logger(),
	})
}

// providerSource picks the registry backend: Postgres when configured
// (seeded from REGISTRY_FILE if set), otherwise the watched file, otherwise
// an empty in-memory store.
func (d *Dependencies) providerSource(ctx context.Context) (registry.Source, error) {
	cfg := d.Config
	log := d.Logger.With().Str("component", "registry").Logger()

	var file *registry.FileSource
	if cfg.Registry.File != "" {
		var err error
		if file, err = registry.NewFileSource(cfg.Registry.File); err != nil {
			return nil, fmt.Errorf("load provider file: %w", err)
		}
	}

	switch {
	case d.DB != nil:
		store := repo.ProviderStore{Q: d.DB}
		d.Store = store
		if file != nil {
			n, err := registry.Seed(ctx, store, file)
			if err != nil {
				return nil, err
			}
			log.Info().Int("providers", n).Msg("seeded providers from file")
		}
		return store, nil
	case file != nil:
		go d.watch(ctx, "provider file", func(ctx context.Context) error { return file.Watch(ctx, log) })
		return file, nil
	default:
		store := registry.NewMemoryStore()
		d.Store = store
		log.Warn().Msg("no provider source configured; registry starts empty")
		return store, nil
	}
}

func (d *Dependencies) watch(ctx context.Context, what string, run func(context.Context) error) {
	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.Logger.Error().Err(err).Str("watch", what).Msg("file watcher stopped")
	}
}

func (d *Dependencies) onClose(fn func(context.Context) error) {
	d.closers = append(d.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// ConnectRedis opens an instrumented Redis client and verifies it with a ping.
func ConnectRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
