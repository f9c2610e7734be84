package registry

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/tracking-engine/internal/common"
	"github.com/noah-isme/tracking-engine/internal/shipment"
)

// Handler exposes administrative provider endpoints.
type Handler struct {
	Registry  *Registry
	Validator *validator.Validate
	Logger    zerolog.Logger
}

type upsertRequest struct {
	ID             string            `json:"id" validate:"required,max=64"`
	Name           string            `json:"name" validate:"max=128"`
	Priority       int               `json:"priority" validate:"gte=0"`
	Types          []shipment.Type   `json:"types" validate:"required,min=1,dive,oneof=container awb parcel"`
	Active         *bool             `json:"active"`
	Adapter        AdapterKind       `json:"adapter" validate:"omitempty,oneof=api scraper static"`
	OrganizationID string            `json:"organizationId" validate:"max=64"`
	Settings       map[string]string `json:"settings"`
}

type patchRequest struct {
	Active   *bool `json:"active"`
	Priority *int  `json:"priority" validate:"omitempty,gte=0"`
}

// List handles GET /api/v1/admin/providers.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	providers, err := h.Registry.Providers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": providers})
}

// Upsert handles POST /api/v1/admin/providers.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if !common.DecodeJSON(w, r, h.Validator, &req) {
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	saved, err := h.Registry.Upsert(r.Context(), Provider{
		ID:             req.ID,
		Name:           req.Name,
		Priority:       req.Priority,
		Types:          req.Types,
		Active:         active,
		Adapter:        req.Adapter,
		OrganizationID: req.OrganizationID,
		Settings:       req.Settings,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Logger.Info().Str("provider", saved.ID).Int("priority", saved.Priority).Bool("active", saved.Active).Msg("provider upserted")
	common.JSON(w, http.StatusOK, map[string]any{"data": saved})
}

// Patch handles PATCH /api/v1/admin/providers/{id}.
func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req patchRequest
	if !common.DecodeJSON(w, r, h.Validator, &req) {
		return
	}
	if req.Active == nil && req.Priority == nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "nothing to update", nil)
		return
	}
	ctx := r.Context()
	if req.Active != nil {
		if err := h.Registry.SetActive(ctx, id, *req.Active); err != nil {
			h.writeError(w, err)
			return
		}
	}
	if req.Priority != nil {
		if err := h.Registry.SetPriority(ctx, id, *req.Priority); err != nil {
			h.writeError(w, err)
			return
		}
	}
	p, err := h.Registry.Get(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Logger.Info().Str("provider", id).Int("priority", p.Priority).Bool("active", p.Active).Msg("provider updated")
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

// Delete handles DELETE /api/v1/admin/providers/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Registry.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.Logger.Info().Str("provider", id).Msg("provider deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProviderNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "provider not found", nil)
	case errors.Is(err, ErrInvalidProvider):
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, err.Error(), nil)
	case errors.Is(err, ErrReadOnly):
		common.JSONError(w, http.StatusConflict, common.CodeReadOnly, "provider registry is file-backed", nil)
	default:
		h.Logger.Error().Err(err).Msg("provider registry error")
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeRegistryUnavailable, "provider registry unavailable", nil)
	}
}
