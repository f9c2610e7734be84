package resilience

import (
	"sync"

	"github.com/rs/zerolog"
)

// Breakers lazily creates one breaker per provider id.
type Breakers struct {
	settings Settings
	logger   zerolog.Logger

	mu sync.RWMutex
	m  map[string]*Breaker
}

// NewBreakers returns a breaker set using the same settings for every provider.
func NewBreakers(settings Settings, logger zerolog.Logger) *Breakers {
	return &Breakers{settings: settings, logger: logger, m: make(map[string]*Breaker)}
}

// For returns the breaker guarding provider id.
func (s *Breakers) For(id string) *Breaker {
	s.mu.RLock()
	b, ok := s.m[id]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.m[id]; ok {
		return b
	}
	b = NewBreaker(s.settings.MinRequests, s.settings.FailureRatio, s.settings.OpenFor).
		WithTarget(id).
		WithLogger(s.logger)
	s.m[id] = b
	return b
}

// States reports the state of every breaker created so far.
func (s *Breakers) States() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.m))
	for id, b := range s.m {
		out[id] = b.State()
	}
	return out
}
