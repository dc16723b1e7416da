package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// reconcileUniqueTTL suppresses duplicate manual full runs queued within the
// window.
const reconcileUniqueTTL = 10 * time.Minute

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueReconcile enqueues a full ledger reconciliation and returns the task
// id. A run already waiting in the queue yields a ConflictError.
func (c *Client) EnqueueReconcile(ctx context.Context, requestedBy string) (string, error) {
	task, err := NewLedgerReconcileTask(requestedBy, "")
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Unique(reconcileUniqueTTL),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", &shared.ConflictError{Message: "a full reconciliation is already queued"}
	}
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
