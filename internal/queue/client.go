package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/noah-isme/tracking-engine/internal/tracking"
)

// ErrUnavailable is returned when no asynq client is configured.
var ErrUnavailable = errors.New("queue: client not configured")

// TaskEnqueuer is the part of *asynq.Client the Client needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client schedules refresh tasks. It satisfies tracking.Enqueuer.
type Client struct {
	Tasks     TaskEnqueuer
	Queue     string
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

var _ tracking.Enqueuer = Client{}

// EnqueueRefresh schedules a forced refresh of numbers and returns the task id.
func (c Client) EnqueueRefresh(ctx context.Context, numbers []string, organizationID string) (string, error) {
	if c.Tasks == nil {
		return "", ErrUnavailable
	}
	opts := []asynq.Option{
		asynq.Queue(c.queue()),
		asynq.TaskID(uuid.NewString()),
		asynq.MaxRetry(c.maxRetry()),
	}
	if c.Timeout > 0 {
		opts = append(opts, asynq.Timeout(c.Timeout))
	}
	if c.Retention > 0 {
		opts = append(opts, asynq.Retention(c.Retention))
	}
	task, err := NewRefreshTask(numbers, organizationID, opts...)
	if err != nil {
		return "", err
	}
	info, err := c.Tasks.EnqueueContext(ctx, task)
	if err != nil {
		return "", err
	}
	ProcessedTotal.WithLabelValues(TypeRefresh, "enqueued").Inc()
	return info.ID, nil
}

func (c Client) queue() string {
	if c.Queue == "" {
		return DefaultQueue
	}
	return c.Queue
}

func (c Client) maxRetry() int {
	if c.MaxRetry <= 0 {
		return 5
	}
	return c.MaxRetry
}
