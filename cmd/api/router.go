package main

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/tracking-engine/internal/app"
	"github.com/noah-isme/tracking-engine/internal/auth"
	"github.com/noah-isme/tracking-engine/internal/common"
	"github.com/noah-isme/tracking-engine/internal/obs"
	"github.com/noah-isme/tracking-engine/internal/queue"
	"github.com/noah-isme/tracking-engine/internal/ratelimit"
	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/security"
	"github.com/noah-isme/tracking-engine/internal/tracking"
)

type routerOptions struct {
	Tracing          bool
	Metrics          bool
	MetricsBuckets   []float64
	Pprof            bool
	PprofUser        string
	PprofPass        string
	IdempotencyTTL   time.Duration
	AllowHeaderIdent bool
	BodyLimit        int64
	SecurityHeaders  bool
}

func newRouter(deps *app.Dependencies, opts routerOptions) http.Handler {
	logger := deps.Logger

	trackingHandler := &tracking.Handler{
		Orchestrator: deps.Orchestrator,
		Batch:        deps.Batch,
		History:      deps.History,
		Breakers:     deps.Breakers,
		Validator:    deps.Validator,
		MaxBatch:     deps.Config.Batch.MaxItems,
		Logger:       logger,
	}
	if deps.Tasks != nil {
		trackingHandler.Queue = deps.Queue
	}
	providerHandler := &registry.Handler{Registry: deps.Registry, Validator: deps.Validator, Logger: logger}
	queueAdmin := &queue.AdminHandler{Logger: logger}
	if deps.Inspector != nil {
		queueAdmin.Inspector = deps.Inspector
	}

	authMiddleware := auth.Middleware{Tokens: deps.Tokens, AllowHeaderIdentity: opts.AllowHeaderIdent}
	apiLimit := ratelimit.Handler{
		Limiter: deps.APILimit,
		Key:     ratelimit.OrganizationKey,
		OnError: func(err error) { logger.Warn().Err(err).Msg("api rate limiter unavailable") },
	}
	asyncLimit := ratelimit.Handler{
		Limiter: deps.AsyncLimit,
		Key:     ratelimit.OrganizationKey,
		OnError: func(err error) { logger.Warn().Err(err).Msg("async refresh limiter unavailable") },
	}
	idem := common.Idem{TTL: opts.IdempotencyTTL}
	if deps.Redis != nil {
		idem.R = deps.Redis
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if opts.Metrics {
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics("tracking", opts.MetricsBuckets, nil)}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(deps.Config.CORSAllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", common.HeaderIdempotencyKey, auth.HeaderOrganization, auth.HeaderRole},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{Disable: !opts.SecurityHeaders}.Middleware)

	if opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	if opts.Pprof {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), opts.PprofUser, opts.PprofPass))
	}
	r.Get("/health/live", deps.Health.Live)
	r.Get("/health/ready", deps.Health.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.RequireAuth)
		v.Use(apiLimit.Middleware)
		v.Use(security.BodyLimit{Max: opts.BodyLimit}.Middleware)

		v.Post("/track", trackingHandler.Track)
		v.Post("/track/batch", trackingHandler.TrackBatch)
		v.With(asyncLimit.Middleware, idem.Middleware).Post("/track/batch/async", trackingHandler.TrackBatchAsync)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(auth.RequireRole(common.RoleAdmin))
			admin.Delete("/cache/{trackingNumber}", trackingHandler.InvalidateCache)

			admin.Get("/providers", providerHandler.List)
			admin.Post("/providers", providerHandler.Upsert)
			admin.Get("/providers/health", trackingHandler.ProviderHealth)
			admin.Patch("/providers/{id}", providerHandler.Patch)
			admin.Delete("/providers/{id}", providerHandler.Delete)

			admin.Get("/queue", queueAdmin.Stats)
			admin.Get("/queue/archived", queueAdmin.ListArchived)
			admin.Post("/queue/archived/replay", queueAdmin.Replay)
		})
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
