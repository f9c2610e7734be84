package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/tracking-engine/internal/app"
	"github.com/noah-isme/tracking-engine/internal/config"
	"github.com/noah-isme/tracking-engine/internal/obs"
	"github.com/noah-isme/tracking-engine/internal/queue"
)

// Set via ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(obs.LogConfig{
		Format: cfg.Obs.LogFormat,
		Level:  cfg.Obs.LogLevel,
		File:   cfg.Obs.LogFile,
	}).With().Str("env", cfg.AppEnv).Str("component", "worker").Logger()

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:    "tracking-worker",
			ServiceVersion: version,
			Endpoint:       cfg.Obs.TracingEndpoint,
			Exporter:       cfg.Obs.TracingExporter,
			SamplingRatio:  cfg.Obs.SamplingRatio,
			Environment:    cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	deps, err := app.Build(ctx, cfg, logger, app.Options{Name: "tracking-worker", SkipQueue: true})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	locked := queue.LockedResolver{Inner: deps.Orchestrator, Locker: deps.Locker, LockTTL: cfg.Queue.LockTTL}
	handler := queue.RefreshHandler{
		Batch:  deps.NewBatch(locked),
		Logger: logger,
	}

	conn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse queue redis url")
	}
	srv := asynq.NewServer(conn, queue.ServerConfig(queue.DefaultQueue, cfg.Queue.Concurrency, 2*time.Second, logger))
	if err := srv.Start(queue.NewServeMux(handler)); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Int("concurrency", cfg.Queue.Concurrency).Msg("worker started")

	<-ctx.Done()
	logger.Info().Msg("worker stopping")
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}
