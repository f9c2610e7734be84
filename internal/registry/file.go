package registry

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/tracking-engine/internal/config"
)

type providerFile struct {
	Providers []Provider `yaml:"providers"`
}

// DecodeProviders reads a YAML provider document:
//
//	providers:
//	  - id: shipsgo
//	    priority: 0
//	    types: [container]
//	    active: true
//	    adapter: api
//	    settings:
//	      url: https://api.example.com/track/{number}
func DecodeProviders(r io.Reader) ([]Provider, error) {
	var doc providerFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("registry: decode providers: %w", err)
	}
	seen := make(map[string]struct{}, len(doc.Providers))
	out := make([]Provider, 0, len(doc.Providers))
	for i := range doc.Providers {
		p := doc.Providers[i]
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("registry: provider #%d: %w", i, err)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// FileSource serves providers from a YAML file. It is read-only; edits to the
// file are picked up by Watch.
type FileSource struct {
	path      string
	providers atomic.Pointer[[]Provider]
}

// NewFileSource loads path once.
func NewFileSource(path string) (*FileSource, error) {
	fs := &FileSource{path: path}
	if err := fs.Reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Reload re-reads the file. A malformed file keeps the previous rows.
func (f *FileSource) Reload() error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer file.Close()
	providers, err := DecodeProviders(file)
	if err != nil {
		return err
	}
	f.providers.Store(&providers)
	return nil
}

// Watch reloads the file on change until ctx is cancelled.
func (f *FileSource) Watch(ctx context.Context, logger zerolog.Logger) error {
	return config.WatchFile(ctx, f.path, logger.With().Str("component", "registry").Logger(), f.Reload)
}

func (f *FileSource) List(context.Context) ([]Provider, error) {
	current := f.providers.Load()
	if current == nil {
		return nil, nil
	}
	out := make([]Provider, len(*current))
	for i, p := range *current {
		out[i] = p.clone()
	}
	return out, nil
}

// Seed copies every provider from src into dst. Used to bootstrap a writable
// store from a file.
func Seed(ctx context.Context, dst Store, src Source) (int, error) {
	providers, err := src.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range providers {
		if _, err := dst.Upsert(ctx, p); err != nil {
			return 0, fmt.Errorf("seed provider %s: %w", p.ID, err)
		}
	}
	return len(providers), nil
}
