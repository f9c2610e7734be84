package registry_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/shipment"
)

func ids(list []registry.Provider) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, p.ID)
	}
	return out
}

func provider(id string, priority int, types ...shipment.Type) registry.Provider {
	return registry.Provider{ID: id, Priority: priority, Types: types, Active: true, Adapter: registry.KindStatic}
}

func TestSelectCandidatesOrdersByPriorityThenID(t *testing.T) {
	t.Parallel()

	store := registry.NewMemoryStore(
		provider("zeta", 1, shipment.Container),
		provider("alpha", 1, shipment.Container),
		provider("first", 0, shipment.Container, shipment.AWB),
		provider("air", 0, shipment.AWB),
	)
	reg := registry.New(store, registry.Options{})

	for i := 0; i < 5; i++ {
		got, err := reg.SelectCandidates(context.Background(), shipment.Container, "")
		require.NoError(t, err)
		require.Equal(t, []string{"first", "alpha", "zeta"}, ids(got))
	}
}

func TestSelectCandidatesSkipsInactiveAndUnsupported(t *testing.T) {
	t.Parallel()

	off := provider("off", 0, shipment.Parcel)
	off.Active = false
	reg := registry.New(registry.NewMemoryStore(off, provider("sea", 0, shipment.Container)), registry.Options{})

	got, err := reg.SelectCandidates(context.Background(), shipment.Parcel, "")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestSelectCandidatesOrganizationOverride(t *testing.T) {
	t.Parallel()

	own := provider("acme-api", 5, shipment.Container)
	own.OrganizationID = "acme"
	other := provider("globex-api", 0, shipment.Container)
	other.OrganizationID = "globex"
	store := registry.NewMemoryStore(provider("global", 0, shipment.Container), own, other)

	reg := registry.New(store, registry.Options{})
	got, err := reg.SelectCandidates(context.Background(), shipment.Container, "acme")
	require.NoError(t, err)
	require.Equal(t, []string{"acme-api"}, ids(got))

	got, err = reg.SelectCandidates(context.Background(), shipment.Container, "initech")
	require.NoError(t, err)
	require.Equal(t, []string{"global"}, ids(got))

	fallthroughReg := registry.New(store, registry.Options{FallThrough: true})
	got, err = fallthroughReg.SelectCandidates(context.Background(), shipment.Container, "acme")
	require.NoError(t, err)
	require.Equal(t, []string{"global", "acme-api"}, ids(got))
}

type countingSource struct {
	registry.Source
	calls atomic.Int32
	err   error
}

func (c *countingSource) List(ctx context.Context) ([]registry.Provider, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.Source.List(ctx)
}

func TestSnapshotRefreshAndInvalidate(t *testing.T) {
	t.Parallel()

	store := registry.NewMemoryStore(provider("p1", 0, shipment.AWB))
	src := &countingSource{Source: store}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := registry.New(src, registry.Options{RefreshTTL: 5 * time.Second, Now: func() time.Time { return now }})

	ctx := context.Background()
	_, err := reg.SelectCandidates(ctx, shipment.AWB, "")
	require.NoError(t, err)
	_, err = reg.SelectCandidates(ctx, shipment.AWB, "")
	require.NoError(t, err)
	require.EqualValues(t, 1, src.calls.Load())

	_, err = store.Upsert(ctx, provider("p0", 0, shipment.AWB))
	require.NoError(t, err)
	now = now.Add(6 * time.Second)
	got, err := reg.SelectCandidates(ctx, shipment.AWB, "")
	require.NoError(t, err)
	require.Equal(t, []string{"p0", "p1"}, ids(got))
	require.EqualValues(t, 2, src.calls.Load())
}

func TestSourceFailureServesPreviousSnapshot(t *testing.T) {
	t.Parallel()

	src := &countingSource{Source: registry.NewMemoryStore(provider("p1", 0, shipment.AWB))}
	reg := registry.New(src, registry.Options{})
	ctx := context.Background()

	_, err := reg.SelectCandidates(ctx, shipment.AWB, "")
	require.NoError(t, err)

	src.err = errors.New("db down")
	got, err := reg.SelectCandidates(ctx, shipment.AWB, "")
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, ids(got))

	cold := registry.New(src, registry.Options{})
	_, err = cold.SelectCandidates(ctx, shipment.AWB, "")
	require.Error(t, err)
}

func TestAdminMutationsAreVisibleImmediately(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.NewMemoryStore(
		provider("p1", 0, shipment.Container),
		provider("p2", 1, shipment.Container),
	), registry.Options{RefreshTTL: time.Hour})
	ctx := context.Background()

	got, err := reg.SelectCandidates(ctx, shipment.Container, "")
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, ids(got))

	require.NoError(t, reg.SetPriority(ctx, "p2", 0))
	require.NoError(t, reg.SetActive(ctx, "p1", false))
	got, err = reg.SelectCandidates(ctx, shipment.Container, "")
	require.NoError(t, err)
	require.Equal(t, []string{"p2"}, ids(got))

	require.NoError(t, reg.Delete(ctx, "p2"))
	got, err = reg.SelectCandidates(ctx, shipment.Container, "")
	require.NoError(t, err)
	require.Empty(t, got)

	require.ErrorIs(t, reg.Delete(ctx, "missing"), registry.ErrProviderNotFound)
	_, err = reg.Upsert(ctx, registry.Provider{ID: "bad", Types: []shipment.Type{"teleport"}})
	require.ErrorIs(t, err, registry.ErrInvalidProvider)
}

func TestFileSourceReadOnlyAndReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	doc := `
providers:
  - id: shipsgo
    name: ShipsGo API
    priority: 0
    types: [container]
    active: true
    adapter: api
    settings:
      url: https://example.test/{number}
  - id: msc
    priority: 1
    types: [container]
    active: true
    adapter: scraper
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	src, err := registry.NewFileSource(path)
	require.NoError(t, err)

	reg := registry.New(src, registry.Options{})
	got, err := reg.SelectCandidates(context.Background(), shipment.Container, "")
	require.NoError(t, err)
	require.Equal(t, []string{"shipsgo", "msc"}, ids(got))
	require.Equal(t, "https://example.test/{number}", got[0].Settings["url"])

	_, err = reg.Upsert(context.Background(), provider("x", 0, shipment.AWB))
	require.ErrorIs(t, err, registry.ErrReadOnly)

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(doc, "priority: 1", "priority: -1", 1)), 0o600))
	require.Error(t, src.Reload())
	got, err = reg.SelectCandidates(context.Background(), shipment.Container, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestDecodeProvidersRejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := registry.DecodeProviders(strings.NewReader("providers:\n  - {id: a, types: [awb]}\n  - {id: a, types: [awb]}\n"))
	require.Error(t, err)
}

func TestSeedCopiesIntoStore(t *testing.T) {
	t.Parallel()

	src := registry.NewMemoryStore(provider("a", 0, shipment.AWB), provider("b", 1, shipment.Parcel))
	dst := registry.NewMemoryStore()
	n, err := registry.Seed(context.Background(), dst, src)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	list, err := dst.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(list))
}
