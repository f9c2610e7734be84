// Package queue runs forced tracking refreshes in the background on asynq.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// TypeRefresh is the asynq task type for a forced batch refresh.
const TypeRefresh = "tracking:refresh"

// DefaultQueue is used when no queue name is configured.
const DefaultQueue = "tracking"

var errEmptyRefresh = errors.New("queue: refresh needs at least one tracking number")

// RefreshPayload is the JSON body of a refresh task.
type RefreshPayload struct {
	TrackingNumbers []string  `json:"trackingNumbers"`
	OrganizationID  string    `json:"organizationId,omitempty"`
	RequestedAt     time.Time `json:"requestedAt"`
}

// NewRefreshTask builds a refresh task. Blank numbers are dropped.
func NewRefreshTask(numbers []string, organizationID string, opts ...asynq.Option) (*asynq.Task, error) {
	p := RefreshPayload{OrganizationID: organizationID, RequestedAt: time.Now().UTC()}
	for _, n := range numbers {
		if n = strings.TrimSpace(n); n != "" {
			p.TrackingNumbers = append(p.TrackingNumbers, n)
		}
	}
	if len(p.TrackingNumbers) == 0 {
		return nil, errEmptyRefresh
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRefresh, raw, opts...), nil
}

// ParseRefresh decodes a refresh task payload.
func ParseRefresh(t *asynq.Task) (RefreshPayload, error) {
	var p RefreshPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return RefreshPayload{}, fmt.Errorf("decode refresh payload: %w", err)
	}
	if len(p.TrackingNumbers) == 0 {
		return RefreshPayload{}, errEmptyRefresh
	}
	return p, nil
}
