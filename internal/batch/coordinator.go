// Package batch fans a list of tracking numbers out to the orchestrator under
// a shared concurrency bound.
package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/noah-isme/tracking-engine/internal/obs"
	"github.com/noah-isme/tracking-engine/internal/tracking"
)

// Resolver resolves a single request. *tracking.Orchestrator implements it.
type Resolver interface {
	Resolve(ctx context.Context, req tracking.Request) tracking.Response
}

// Options configures a Coordinator.
type Options struct {
	ChunkSize int
	// MaxConcurrency bounds in-flight resolutions across every batch served by
	// the coordinator, not per batch.
	MaxConcurrency int
	Metrics        *obs.TrackingMetrics
	Logger         zerolog.Logger
}

// Coordinator resolves batches chunk by chunk. A chunk completes fully before
// the next one starts; items within a chunk share the global semaphore.
type Coordinator struct {
	resolver Resolver
	opts     Options
	sem      *semaphore.Weighted
}

func New(resolver Resolver, opts Options) *Coordinator {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 10
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 5
	}
	return &Coordinator{
		resolver: resolver,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrency)),
	}
}

// ResolveBatch returns one response per number in input order. template
// supplies the hint, force flag and organization shared by every item.
// Individual failures never affect siblings.
func (c *Coordinator) ResolveBatch(ctx context.Context, numbers []string, template tracking.Request) []tracking.Response {
	out := make([]tracking.Response, len(numbers))
	for start := 0; start < len(numbers); start += c.opts.ChunkSize {
		end := min(start+c.opts.ChunkSize, len(numbers))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			req := template
			req.TrackingNumber = numbers[i]
			if err := c.sem.Acquire(ctx, 1); err != nil {
				out[i] = tracking.Response{TrackingNumber: numbers[i], Error: "request cancelled", Err: err}
				continue
			}
			wg.Add(1)
			go func(i int, req tracking.Request) {
				defer wg.Done()
				defer c.sem.Release(1)
				out[i] = c.resolveOne(ctx, req)
			}(i, req)
		}
		wg.Wait()
	}

	failedItems := 0
	for _, r := range out {
		result := "success"
		if !r.Success {
			result = "failure"
			failedItems++
		}
		c.opts.Metrics.BatchItem(result)
	}
	c.opts.Logger.Info().
		Int("items", len(numbers)).
		Int("failed", failedItems).
		Bool("force_refresh", template.ForceRefresh).
		Msg("batch resolved")
	return out
}

func (c *Coordinator) resolveOne(ctx context.Context, req tracking.Request) (resp tracking.Response) {
	defer func() {
		if r := recover(); r != nil {
			c.opts.Logger.Error().Interface("panic", r).Str("tracking_number", req.TrackingNumber).Msg("batch item panicked")
			resp = tracking.Response{
				TrackingNumber: req.TrackingNumber,
				Error:          "internal error",
				Err:            fmt.Errorf("batch item panicked: %v", r),
			}
		}
	}()
	return c.resolver.Resolve(ctx, req)
}
