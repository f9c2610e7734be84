package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/tracking-engine/internal/shipment"
)

var (
	// ErrProviderNotFound is returned when a provider id is unknown.
	ErrProviderNotFound = errors.New("registry: provider not found")
	// ErrReadOnly is returned when mutating a registry backed by a read-only source.
	ErrReadOnly = errors.New("registry: source is read-only")
	// ErrInvalidProvider is returned when a provider fails validation.
	ErrInvalidProvider = errors.New("registry: invalid provider")
)

// AdapterKind selects the adapter implementation for a provider.
type AdapterKind string

const (
	KindAPI     AdapterKind = "api"
	KindScraper AdapterKind = "scraper"
	KindStatic  AdapterKind = "static"
)

// Provider is a registry entry describing one external tracking source.
type Provider struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Priority       int               `json:"priority" yaml:"priority"`
	Types          []shipment.Type   `json:"types" yaml:"types"`
	Active         bool              `json:"active" yaml:"active"`
	Adapter        AdapterKind       `json:"adapter" yaml:"adapter"`
	OrganizationID string            `json:"organizationId,omitempty" yaml:"organization_id"`
	Settings       map[string]string `json:"settings,omitempty" yaml:"settings"`
	CreatedAt      time.Time         `json:"createdAt" yaml:"-"`
	UpdatedAt      time.Time         `json:"updatedAt" yaml:"-"`
}

// Supports reports whether the provider serves tracking type t.
func (p Provider) Supports(t shipment.Type) bool {
	for _, candidate := range p.Types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Global reports whether the provider applies to every organization.
func (p Provider) Global() bool { return p.OrganizationID == "" }

// Validate checks required fields and normalises the type list.
func (p *Provider) Validate() error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidProvider)
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Priority < 0 {
		return fmt.Errorf("%w: priority must be >= 0", ErrInvalidProvider)
	}
	if len(p.Types) == 0 {
		return fmt.Errorf("%w: at least one tracking type is required", ErrInvalidProvider)
	}
	seen := make(map[shipment.Type]struct{}, len(p.Types))
	types := make([]shipment.Type, 0, len(p.Types))
	for _, raw := range p.Types {
		t, ok := shipment.ParseType(string(raw))
		if !ok {
			return fmt.Errorf("%w: unknown tracking type %q", ErrInvalidProvider, raw)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}
	p.Types = types
	switch p.Adapter {
	case KindAPI, KindScraper, KindStatic:
	case "":
		p.Adapter = KindAPI
	default:
		return fmt.Errorf("%w: unknown adapter kind %q", ErrInvalidProvider, p.Adapter)
	}
	return nil
}

func (p Provider) clone() Provider {
	out := p
	out.Types = append([]shipment.Type(nil), p.Types...)
	if p.Settings != nil {
		out.Settings = make(map[string]string, len(p.Settings))
		for k, v := range p.Settings {
			out.Settings[k] = v
		}
	}
	return out
}

// Source lists the current provider rows.
type Source interface {
	List(ctx context.Context) ([]Provider, error)
}

// Store is a Source that accepts administrative writes.
type Store interface {
	Source
	Get(ctx context.Context, id string) (Provider, error)
	Upsert(ctx context.Context, p Provider) (Provider, error)
	SetActive(ctx context.Context, id string, active bool) error
	SetPriority(ctx context.Context, id string, priority int) error
	Delete(ctx context.Context, id string) error
}
