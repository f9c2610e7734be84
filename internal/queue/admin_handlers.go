package queue

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/tracking-engine/internal/common"
)

// Inspector is the part of *asynq.Inspector used by AdminHandler.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunTask(queue, id string) error
	DeleteTask(queue, id string) error
}

// AdminHandler exposes queue statistics and archived (dead) task replay.
type AdminHandler struct {
	Inspector Inspector
	Queue     string
	PageSize  int
	Logger    zerolog.Logger
}

// Stats reports task counts per state for the refresh queue.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeQueueUnavailable, "queue inspector unavailable", nil)
		return
	}
	info, err := h.Inspector.GetQueueInfo(h.queue())
	if errors.Is(err, asynq.ErrQueueNotFound) {
		common.JSON(w, http.StatusOK, map[string]any{"queue": h.queue(), "size": 0})
		return
	}
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, err.Error(), nil)
		return
	}
	for state, n := range map[string]int{
		"pending":   info.Pending,
		"active":    info.Active,
		"scheduled": info.Scheduled,
		"retry":     info.Retry,
		"archived":  info.Archived,
	} {
		QueueSize.WithLabelValues(info.Queue, state).Set(float64(n))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"queue":     info.Queue,
		"size":      info.Size,
		"pending":   info.Pending,
		"active":    info.Active,
		"scheduled": info.Scheduled,
		"retry":     info.Retry,
		"archived":  info.Archived,
		"processed": info.Processed,
		"failed":    info.Failed,
		"paused":    info.Paused,
		"latencyMs": info.Latency.Milliseconds(),
	})
}

// ListArchived returns tasks that exhausted their retries.
func (h *AdminHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeQueueUnavailable, "queue inspector unavailable", nil)
		return
	}
	size := common.QueryInt(r, "limit", h.pageSize(), 1, 200)
	page := common.QueryInt(r, "page", 1, 1, 1<<20)
	tasks, err := h.Inspector.ListArchivedTasks(h.queue(), asynq.PageSize(size), asynq.Page(page))
	if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, err.Error(), nil)
		return
	}
	items := make([]archivedItem, 0, len(tasks))
	for _, t := range tasks {
		item := archivedItem{
			ID:           t.ID,
			Type:         t.Type,
			Retried:      t.Retried,
			MaxRetry:     t.MaxRetry,
			LastError:    t.LastErr,
			LastFailedAt: t.LastFailedAt,
		}
		if p, err := ParseRefresh(asynq.NewTask(t.Type, t.Payload)); err == nil {
			item.Payload = &p
		}
		items = append(items, item)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "page": page, "pageSize": size})
}

// Replay moves archived tasks back to pending by id.
func (h *AdminHandler) Replay(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeQueueUnavailable, "queue inspector unavailable", nil)
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	ids := uniqueStrings(req.IDs)
	if len(ids) == 0 {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "ids required", nil)
		return
	}
	replayed := make([]string, 0, len(ids))
	failed := make(map[string]string)
	for _, id := range ids {
		var err error
		if req.Discard {
			err = h.Inspector.DeleteTask(h.queue(), id)
		} else {
			err = h.Inspector.RunTask(h.queue(), id)
		}
		if err != nil {
			failed[id] = err.Error()
			continue
		}
		replayed = append(replayed, id)
	}
	h.Logger.Info().Int("replayed", len(replayed)).Int("failed", len(failed)).Bool("discard", req.Discard).Msg("archived tasks handled")

	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) queue() string {
	if h.Queue == "" {
		return DefaultQueue
	}
	return h.Queue
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

type archivedItem struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Retried      int             `json:"retried"`
	MaxRetry     int             `json:"maxRetry"`
	LastError    string          `json:"lastError,omitempty"`
	LastFailedAt time.Time       `json:"lastFailedAt"`
	Payload      *RefreshPayload `json:"payload,omitempty"`
}

type replayRequest struct {
	IDs     []string `json:"ids"`
	Discard bool     `json:"discard"`
}
