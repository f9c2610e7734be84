package registry

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/tracking-engine/internal/shipment"
)

// Options tunes selection behaviour.
type Options struct {
	// RefreshTTL bounds how long a loaded snapshot is reused. Zero reads the
	// source on every selection.
	RefreshTTL time.Duration
	// FallThrough appends global providers after an organization's own
	// providers instead of replacing the global list.
	FallThrough bool
	Logger      zerolog.Logger
	Now         func() time.Time
}

type snapshot struct {
	providers []Provider
	loadedAt  time.Time
}

// Registry selects ordered provider candidates from a Source. Snapshots are
// immutable and refreshed after RefreshTTL so administrative writes become
// visible without a restart.
type Registry struct {
	source Source
	opts   Options

	snap  atomic.Pointer[snapshot]
	loads singleflight.Group
}

// New builds a registry over source.
func New(source Source, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{source: source, opts: opts}
}

// SelectCandidates returns active providers supporting t, ordered by priority
// then id. An organization with its own providers for t replaces the global
// list unless FallThrough is set. An empty result is not an error.
func (r *Registry) SelectCandidates(ctx context.Context, t shipment.Type, organizationID string) ([]Provider, error) {
	providers, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	var scoped, global []Provider
	for _, p := range providers {
		if !p.Active || !p.Supports(t) {
			continue
		}
		switch {
		case p.Global():
			global = append(global, p.clone())
		case organizationID != "" && p.OrganizationID == organizationID:
			scoped = append(scoped, p.clone())
		}
	}

	candidates := global
	if len(scoped) > 0 {
		candidates = scoped
		if r.opts.FallThrough {
			candidates = append(scoped, global...)
		}
	}
	sortCandidates(candidates)
	if candidates == nil {
		candidates = []Provider{}
	}
	return candidates, nil
}

// Providers returns every row in the current snapshot ordered by id.
func (r *Registry) Providers(ctx context.Context) ([]Provider, error) {
	providers, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Provider, len(providers))
	for i, p := range providers {
		out[i] = p.clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Invalidate drops the cached snapshot so the next selection reads the source.
func (r *Registry) Invalidate() {
	r.snap.Store(nil)
}

// load returns the current snapshot, reading the source when it is missing or
// older than RefreshTTL. Concurrent refreshes share one source read.
func (r *Registry) load(ctx context.Context) ([]Provider, error) {
	current := r.snap.Load()
	if current != nil && r.opts.RefreshTTL > 0 && r.opts.Now().Sub(current.loadedAt) < r.opts.RefreshTTL {
		return current.providers, nil
	}
	v, err, _ := r.loads.Do("providers", func() (any, error) {
		providers, err := r.source.List(ctx)
		if err != nil {
			return nil, err
		}
		next := &snapshot{providers: providers, loadedAt: r.opts.Now()}
		r.snap.Store(next)
		return next, nil
	})
	if err != nil {
		if stale := r.snap.Load(); stale != nil {
			r.opts.Logger.Warn().Err(err).Time("snapshot_at", stale.loadedAt).Msg("provider refresh failed, serving previous snapshot")
			return stale.providers, nil
		}
		return nil, err
	}
	return v.(*snapshot).providers, nil
}

func sortCandidates(list []Provider) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority < list[j].Priority
		}
		return list[i].ID < list[j].ID
	})
}

func (r *Registry) store() (Store, error) {
	s, ok := r.source.(Store)
	if !ok {
		return nil, ErrReadOnly
	}
	return s, nil
}

// Get returns a single provider straight from the store.
func (r *Registry) Get(ctx context.Context, id string) (Provider, error) {
	s, err := r.store()
	if err != nil {
		return Provider{}, err
	}
	return s.Get(ctx, id)
}

// Upsert validates and writes p, then invalidates the snapshot.
func (r *Registry) Upsert(ctx context.Context, p Provider) (Provider, error) {
	s, err := r.store()
	if err != nil {
		return Provider{}, err
	}
	if err := p.Validate(); err != nil {
		return Provider{}, err
	}
	saved, err := s.Upsert(ctx, p)
	if err != nil {
		return Provider{}, err
	}
	r.Invalidate()
	return saved, nil
}

// SetActive enables or disables a provider.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	if err := s.SetActive(ctx, id, active); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

// SetPriority reprioritises a provider.
func (r *Registry) SetPriority(ctx context.Context, id string, priority int) error {
	if priority < 0 {
		return ErrInvalidProvider
	}
	s, err := r.store()
	if err != nil {
		return err
	}
	if err := s.SetPriority(ctx, id, priority); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

// Delete removes a provider.
func (r *Registry) Delete(ctx context.Context, id string) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	if err := s.Delete(ctx, id); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}
