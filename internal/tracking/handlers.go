package tracking

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/tracking-engine/internal/common"
	"github.com/noah-isme/tracking-engine/internal/requestlog"
	"github.com/noah-isme/tracking-engine/internal/resilience"
	"github.com/noah-isme/tracking-engine/internal/shipment"
)

// BatchResolver resolves many numbers, one response per input in input order.
type BatchResolver interface {
	ResolveBatch(ctx context.Context, numbers []string, template Request) []Response
}

// Enqueuer schedules an asynchronous forced refresh.
type Enqueuer interface {
	EnqueueRefresh(ctx context.Context, numbers []string, organizationID string) (string, error)
}

// Handler exposes tracking endpoints.
type Handler struct {
	Orchestrator *Orchestrator
	Batch        BatchResolver
	Queue        Enqueuer
	History      requestlog.Reader
	Breakers     *resilience.Breakers
	Validator    *validator.Validate
	MaxBatch     int
	Logger       zerolog.Logger
}

type trackRequest struct {
	TrackingNumber string `json:"trackingNumber" validate:"required,max=64"`
	CarrierHint    string `json:"carrierHint" validate:"max=32"`
	ForceRefresh   bool   `json:"forceRefresh"`
}

type batchRequest struct {
	TrackingNumbers []string `json:"trackingNumbers" validate:"required,min=1,dive,required,max=64"`
	CarrierHint     string   `json:"carrierHint" validate:"max=32"`
	ForceRefresh    bool     `json:"forceRefresh"`
}

// Track handles POST /api/v1/track.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !common.DecodeJSON(w, r, h.Validator, &req) {
		return
	}
	resp := h.Orchestrator.Resolve(r.Context(), Request{
		TrackingNumber: req.TrackingNumber,
		CarrierHint:    req.CarrierHint,
		ForceRefresh:   req.ForceRefresh,
		OrganizationID: common.OrganizationID(r.Context()),
	})
	common.JSON(w, StatusCode(resp), resp)
}

// TrackBatch handles POST /api/v1/track/batch.
func (h *Handler) TrackBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.decodeBatch(w, r, &req) {
		return
	}
	out := h.Batch.ResolveBatch(r.Context(), req.TrackingNumbers, Request{
		CarrierHint:    req.CarrierHint,
		ForceRefresh:   req.ForceRefresh,
		OrganizationID: common.OrganizationID(r.Context()),
	})
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// TrackBatchAsync handles POST /api/v1/track/batch/async.
func (h *Handler) TrackBatchAsync(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeQueueUnavailable, "asynchronous refresh is not configured", nil)
		return
	}
	var req batchRequest
	if !h.decodeBatch(w, r, &req) {
		return
	}
	for _, n := range req.TrackingNumbers {
		if _, err := shipment.NormalizeNumber(n); err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeInvalidTrackingNumber, "invalid tracking number", map[string]string{"trackingNumber": n})
			return
		}
	}
	id, err := h.Queue.EnqueueRefresh(r.Context(), req.TrackingNumbers, common.OrganizationID(r.Context()))
	if err != nil {
		h.Logger.Error().Err(err).Int("items", len(req.TrackingNumbers)).Msg("enqueue refresh")
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeQueueUnavailable, "could not enqueue refresh", nil)
		return
	}
	common.JSON(w, http.StatusAccepted, map[string]string{"taskId": id})
}

func (h *Handler) decodeBatch(w http.ResponseWriter, r *http.Request, req *batchRequest) bool {
	if !common.DecodeJSON(w, r, h.Validator, req) {
		return false
	}
	if h.MaxBatch > 0 && len(req.TrackingNumbers) > h.MaxBatch {
		common.JSONError(w, http.StatusRequestEntityTooLarge, common.CodeBatchTooLarge, "too many tracking numbers",
			map[string]int{"max": h.MaxBatch, "got": len(req.TrackingNumbers)})
		return false
	}
	return true
}

// InvalidateCache handles DELETE /api/v1/admin/cache/{trackingNumber}.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.Orchestrator.Invalidate(r.Context(), chi.URLParam(r, "trackingNumber"))
	if errors.Is(err, shipment.ErrInvalidTrackingNumber) {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidTrackingNumber, "invalid tracking number", nil)
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Msg("cache invalidation")
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeCacheUnavailable, "cache unavailable", nil)
		return
	}
	h.Logger.Info().Str("tracking_number", chi.URLParam(r, "trackingNumber")).Int("entries", n).Msg("cache invalidated")
	w.WriteHeader(http.StatusNoContent)
}

type providerHealth struct {
	requestlog.Health
	Breaker string `json:"breaker"`
}

// ProviderHealth handles GET /api/v1/admin/providers/health?window=24h&limit=5000.
func (h *Handler) ProviderHealth(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeHistoryUnavailable, "request log is not readable", nil)
		return
	}
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "window must be a positive duration", nil)
			return
		}
		window = d
	}
	limit := common.QueryInt(r, "limit", 5000, 1, 50000)

	entries, err := h.History.Recent(r.Context(), time.Now().Add(-window), limit)
	if err != nil {
		h.Logger.Error().Err(err).Msg("read request log")
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeHistoryUnavailable, "request log unavailable", nil)
		return
	}
	var states map[string]resilience.State
	if h.Breakers != nil {
		states = h.Breakers.States()
	}
	scores := requestlog.Score(entries)
	out := make([]providerHealth, 0, len(scores))
	for _, s := range scores {
		state := resilience.Closed
		if st, ok := states[s.Provider]; ok {
			state = st
		}
		out = append(out, providerHealth{Health: s, Breaker: state.String()})
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":    out,
		"window":  window.String(),
		"entries": len(entries),
	})
}

// StatusCode maps a response onto an HTTP status.
func StatusCode(resp Response) int {
	switch {
	case resp.Success:
		return http.StatusOK
	case errors.Is(resp.Err, shipment.ErrInvalidTrackingNumber):
		return http.StatusBadRequest
	case errors.Is(resp.Err, ErrNoCandidates):
		return http.StatusUnprocessableEntity
	case errors.Is(resp.Err, ErrExhausted):
		return http.StatusBadGateway
	case errors.Is(resp.Err, ErrRegistry):
		return http.StatusServiceUnavailable
	case resp.cancelled():
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
