package registry_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tracking-engine/internal/common"
	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/shipment"
)

func newAdminRouter(reg *registry.Registry) http.Handler {
	h := &registry.Handler{Registry: reg, Validator: common.NewValidator()}
	r := chi.NewRouter()
	r.Get("/providers", h.List)
	r.Post("/providers", h.Upsert)
	r.Patch("/providers/{id}", h.Patch)
	r.Delete("/providers/{id}", h.Delete)
	return r
}

func TestHandlerUpsertPatchDelete(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.NewMemoryStore(), registry.Options{})
	router := newAdminRouter(reg)

	body := `{"id":"shipsgo","name":"ShipsGo","priority":2,"types":["container"],"adapter":"api","settings":{"url":"https://example.test/{number}"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/providers", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/providers/shipsgo", strings.NewReader(`{"priority":0,"active":false}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data registry.Provider `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Data.Priority)
	require.False(t, resp.Data.Active)

	got, err := reg.SelectCandidates(t.Context(), shipment.Container, "")
	require.NoError(t, err)
	require.Empty(t, got)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/providers/shipsgo", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/providers/shipsgo", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerValidatesBody(t *testing.T) {
	t.Parallel()

	router := newAdminRouter(registry.New(registry.NewMemoryStore(), registry.Options{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/providers", strings.NewReader(`{"id":"x","types":["rocket"]}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")
	require.Contains(t, rec.Body.String(), "types")
}
