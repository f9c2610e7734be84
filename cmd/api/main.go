package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/noah-isme/tracking-engine/internal/app"
	"github.com/noah-isme/tracking-engine/internal/config"
	"github.com/noah-isme/tracking-engine/internal/health"
	"github.com/noah-isme/tracking-engine/internal/obs"
	"github.com/noah-isme/tracking-engine/internal/security"
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
	}).With().Str("env", cfg.AppEnv).Str("component", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingEnabled := cfg.Obs.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:    "tracking-api",
			ServiceVersion: version,
			Endpoint:       cfg.Obs.TracingEndpoint,
			Exporter:       cfg.Obs.TracingExporter,
			SamplingRatio:  cfg.Obs.SamplingRatio,
			Environment:    cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	deps, err := app.Build(ctx, cfg, logger, app.Options{Name: "tracking-api", RedisMetrics: cfg.Obs.MetricsEnabled})
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

	router := newRouter(deps, routerOptions{
		Tracing:          tracingEnabled,
		Metrics:          cfg.Obs.MetricsEnabled,
		MetricsBuckets:   obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", "")),
		Pprof:            envBool("OBS_ENABLE_PPROF", false),
		PprofUser:        envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", ""),
		PprofPass:        envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", ""),
		IdempotencyTTL:   envDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		AllowHeaderIdent: !cfg.IsProduction(),
		BodyLimit:        envInt64("HTTP_BODY_LIMIT_BYTES", security.DefaultBodyLimit),
		SecurityHeaders:  envBool("SECURE_HEADERS", true),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
