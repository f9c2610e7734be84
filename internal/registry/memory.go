package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	providers map[string]Provider
	now       func() time.Time
}

// NewMemoryStore seeds a store with providers. Invalid rows are skipped.
func NewMemoryStore(seed ...Provider) *MemoryStore {
	s := &MemoryStore{providers: make(map[string]Provider, len(seed)), now: time.Now}
	for _, p := range seed {
		if err := p.Validate(); err != nil {
			continue
		}
		now := s.now().UTC()
		p.CreatedAt, p.UpdatedAt = now, now
		s.providers[p.ID] = p.clone()
	}
	return s
}

func (s *MemoryStore) List(context.Context) ([]Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return Provider{}, ErrProviderNotFound
	}
	return p.clone(), nil
}

func (s *MemoryStore) Upsert(_ context.Context, p Provider) (Provider, error) {
	if err := p.Validate(); err != nil {
		return Provider{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if existing, ok := s.providers[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.providers[p.ID] = p.clone()
	return p.clone(), nil
}

func (s *MemoryStore) SetActive(_ context.Context, id string, active bool) error {
	return s.update(id, func(p *Provider) { p.Active = active })
}

func (s *MemoryStore) SetPriority(_ context.Context, id string, priority int) error {
	return s.update(id, func(p *Provider) { p.Priority = priority })
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[id]; !ok {
		return ErrProviderNotFound
	}
	delete(s.providers, id)
	return nil
}

func (s *MemoryStore) update(id string, fn func(*Provider)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[id]
	if !ok {
		return ErrProviderNotFound
	}
	fn(&p)
	p.UpdatedAt = s.now().UTC()
	s.providers[id] = p
	return nil
}
