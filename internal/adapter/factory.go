package adapter

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/resilience"
)

// Resolver returns the adapter that serves a provider.
type Resolver interface {
	Resolve(p registry.Provider) (Adapter, error)
}

// Factory builds adapters from provider rows.
type Factory struct {
	Transport   http.RoundTripper
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	Logger      zerolog.Logger
}

// NewFactory returns a factory whose outbound calls are traced with otelhttp.
func NewFactory(timeout time.Duration, logger zerolog.Logger) *Factory {
	return &Factory{
		Transport:   otelhttp.NewTransport(http.DefaultTransport),
		Timeout:     timeout,
		MaxAttempts: 2,
		BaseBackoff: 200 * time.Millisecond,
		Logger:      logger,
	}
}

// Build constructs the adapter matching p.Adapter.
func (f *Factory) Build(p registry.Provider) (Adapter, error) {
	transport := f.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	switch p.Adapter {
	case registry.KindAPI, "":
		s := settings(p.Settings)
		client := resilience.HTTPClient{
			Client:      &http.Client{Transport: transport},
			MaxAttempts: s.integer("max_attempts", f.MaxAttempts),
			BaseBackoff: s.duration("backoff", f.BaseBackoff),
			Jitter:      0.2,
			Timeout:     s.duration("timeout", f.Timeout),
		}
		return NewHTTPAPI(p.ID, client, p.Settings)
	case registry.KindScraper:
		return NewScraper(p.ID, transport, f.Timeout, p.Settings)
	case registry.KindStatic:
		return NewStatic(p.ID, p.Settings), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, p.Adapter)
	}
}

type builtAdapter struct {
	fingerprint string
	adapter     Adapter
}

// Set resolves adapters by provider id. Explicitly registered adapters win;
// otherwise the factory builds one from the provider row and the result is
// reused until the row's adapter kind or settings change.
type Set struct {
	factory *Factory

	mu     sync.RWMutex
	static map[string]Adapter
	built  map[string]builtAdapter
}

// NewSet returns an adapter set. factory may be nil when every provider is
// registered explicitly.
func NewSet(factory *Factory) *Set {
	return &Set{factory: factory, static: make(map[string]Adapter), built: make(map[string]builtAdapter)}
}

// Register binds an adapter to a provider id.
func (s *Set) Register(id string, a Adapter) *Set {
	s.mu.Lock()
	s.static[id] = a
	s.mu.Unlock()
	return s
}

func (s *Set) Resolve(p registry.Provider) (Adapter, error) {
	fp := fingerprint(p)
	s.mu.RLock()
	a, ok := s.static[p.ID]
	b, cached := s.built[p.ID]
	s.mu.RUnlock()
	if ok {
		return a, nil
	}
	if cached && b.fingerprint == fp {
		return b.adapter, nil
	}
	if s.factory == nil {
		return nil, fmt.Errorf("%w %s", ErrNoAdapter, p.ID)
	}
	built, err := s.factory.Build(p)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.built[p.ID] = builtAdapter{fingerprint: fp, adapter: built}
	s.mu.Unlock()
	s.factory.Logger.Debug().Str("provider", p.ID).Str("adapter", string(p.Adapter)).Msg("adapter built")
	return built, nil
}

func fingerprint(p registry.Provider) string {
	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(string(p.Adapter))
	for _, k := range keys {
		b.WriteByte('\x00')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.Settings[k])
	}
	return b.String()
}
