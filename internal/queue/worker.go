package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/tracking-engine/internal/lock"
	"github.com/noah-isme/tracking-engine/internal/resilience"
	"github.com/noah-isme/tracking-engine/internal/shipment"
	"github.com/noah-isme/tracking-engine/internal/tracking"
)

// ErrRefreshInProgress marks an item skipped because another worker holds its lock.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Resolver resolves a single request.
type Resolver interface {
	Resolve(ctx context.Context, req tracking.Request) tracking.Response
}

// TryLocker runs fn only when the named lock is free.
type TryLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// LockedResolver serialises refreshes of the same tracking number across
// workers. A number already being refreshed elsewhere is skipped.
type LockedResolver struct {
	Inner   Resolver
	Locker  TryLocker
	LockTTL time.Duration
}

func (l LockedResolver) Resolve(ctx context.Context, req tracking.Request) tracking.Response {
	if l.Locker == nil {
		return l.Inner.Resolve(ctx, req)
	}
	key := req.TrackingNumber
	if n, err := shipment.NormalizeNumber(key); err == nil {
		key = n
	}
	var resp tracking.Response
	err := l.Locker.TryLock(ctx, "refresh:"+key, l.LockTTL, func(ctx context.Context) error {
		resp = l.Inner.Resolve(ctx, req)
		return nil
	})
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		return tracking.Response{TrackingNumber: req.TrackingNumber, Error: ErrRefreshInProgress.Error(), Err: ErrRefreshInProgress}
	case err != nil:
		return tracking.Response{TrackingNumber: req.TrackingNumber, Error: "lock unavailable", Err: err}
	}
	return resp
}

// RefreshHandler processes TypeRefresh tasks through a batch resolver with
// forceRefresh set.
type RefreshHandler struct {
	Batch  tracking.BatchResolver
	Logger zerolog.Logger
}

// ProcessTask implements asynq.Handler. A malformed payload is not retried.
// The task is retried only when nothing could be refreshed and at least one
// item failed for a reason worth retrying.
func (h RefreshHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := ParseRefresh(t)
	if err != nil {
		ProcessedTotal.WithLabelValues(t.Type(), "invalid").Inc()
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	responses := h.Batch.ResolveBatch(ctx, p.TrackingNumbers, tracking.Request{
		ForceRefresh:   true,
		OrganizationID: p.OrganizationID,
	})

	var refreshed, locked, failed, retryable int
	for _, r := range responses {
		switch {
		case r.Success:
			refreshed++
			RefreshItemsTotal.WithLabelValues("refreshed").Inc()
		case errors.Is(r.Err, ErrRefreshInProgress):
			locked++
			RefreshItemsTotal.WithLabelValues("locked").Inc()
		default:
			failed++
			RefreshItemsTotal.WithLabelValues("failed").Inc()
			if errors.Is(r.Err, tracking.ErrExhausted) || errors.Is(r.Err, tracking.ErrRegistry) {
				retryable++
			}
		}
	}
	h.Logger.Info().
		Str("task_type", t.Type()).
		Str("org_id", p.OrganizationID).
		Int("refreshed", refreshed).
		Int("locked", locked).
		Int("failed", failed).
		Msg("refresh task processed")

	if err := ctx.Err(); err != nil {
		ProcessedTotal.WithLabelValues(t.Type(), "cancelled").Inc()
		return err
	}
	if refreshed == 0 && retryable > 0 {
		ProcessedTotal.WithLabelValues(t.Type(), "retry").Inc()
		return fmt.Errorf("refresh: %d of %d numbers failed", failed, len(responses))
	}
	ProcessedTotal.WithLabelValues(t.Type(), "done").Inc()
	return nil
}

// NewServeMux routes refresh tasks to h.
func NewServeMux(h RefreshHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeRefresh, h)
	return mux
}

// ServerConfig returns an asynq server configuration for the refresh queue.
// Retries back off exponentially from base with 20% jitter.
func ServerConfig(queue string, concurrency int, base time.Duration, logger zerolog.Logger) asynq.Config {
	if queue == "" {
		queue = DefaultQueue
	}
	if base <= 0 {
		base = 2 * time.Second
	}
	return asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return resilience.Backoff(base, n+1, 0.2)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, t *asynq.Task, err error) {
			logger.Warn().Err(err).Str("task_type", t.Type()).Msg("refresh task failed")
		}),
		Logger:          zerologAdapter{logger},
		ShutdownTimeout: 30 * time.Second,
	}
}

// zerologAdapter satisfies asynq.Logger.
type zerologAdapter struct{ l zerolog.Logger }

func (z zerologAdapter) Debug(args ...any) { z.l.Debug().Msg(fmt.Sprint(args...)) }
func (z zerologAdapter) Info(args ...any)  { z.l.Info().Msg(fmt.Sprint(args...)) }
func (z zerologAdapter) Warn(args ...any)  { z.l.Warn().Msg(fmt.Sprint(args...)) }
func (z zerologAdapter) Error(args ...any) { z.l.Error().Msg(fmt.Sprint(args...)) }
func (z zerologAdapter) Fatal(args ...any) { z.l.Fatal().Msg(fmt.Sprint(args...)) }
