package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/hardware-ledger/jobs"
)

// QueueOps talks to the worker queue directly, bypassing the API.
type QueueOps struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// DialQueue opens a client and an inspector against the worker's Redis.
func DialQueue(opts asynq.RedisClientOpt) *QueueOps {
	return &QueueOps{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases both connections.
func (q *QueueOps) Close() error {
	return errors.Join(q.inspector.Close(), q.client.Close())
}

// EnqueueReconcile queues a reconciliation. Runs scoped to one ref get a
// fixed task id, so queuing the same entity twice is refused until the first
// run leaves the queue.
func (q *QueueOps) EnqueueReconcile(ctx context.Context, requestedBy, ref string) (*asynq.TaskInfo, error) {
	task, err := jobs.NewLedgerReconcileTask(requestedBy, ref)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.MaxRetry(3), asynq.Timeout(30 * time.Minute)}
	if ref != "" {
		opts = append(opts, asynq.TaskID("reconcile:"+ref))
	}
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("reconciliation of %s is already queued", ref)
	}
	return info, err
}

// FailedTask is one task sitting in the retry or archived set.
type FailedTask struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	State     string    `json:"state"`
	Retried   int       `json:"retried"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// QueueSnapshot is what `ledgerctl queue` prints.
type QueueSnapshot struct {
	Queue     string       `json:"queue"`
	Pending   int          `json:"pending"`
	Active    int          `json:"active"`
	Scheduled int          `json:"scheduled"`
	Retry     int          `json:"retry"`
	Archived  int          `json:"archived"`
	Paused    bool         `json:"paused"`
	Failures  []FailedTask `json:"failures"`
}

// Snapshot reads queue counters plus the most recent failures, newest first.
func (q *QueueOps) Snapshot(failures int) (QueueSnapshot, error) {
	info, err := q.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueSnapshot{}, err
	}
	var retry, archived []*asynq.TaskInfo
	if failures > 0 {
		if retry, err = q.inspector.ListRetryTasks(jobs.QueueDefault, asynq.PageSize(failures)); err != nil {
			return QueueSnapshot{}, err
		}
		if archived, err = q.inspector.ListArchivedTasks(jobs.QueueDefault, asynq.PageSize(failures)); err != nil {
			return QueueSnapshot{}, err
		}
	}
	return summarize(info, retry, archived, failures), nil
}

func summarize(info *asynq.QueueInfo, retry, archived []*asynq.TaskInfo, limit int) QueueSnapshot {
	snap := QueueSnapshot{Queue: jobs.QueueDefault, Failures: []FailedTask{}}
	if info != nil {
		snap.Pending, snap.Active, snap.Scheduled = info.Pending, info.Active, info.Scheduled
		snap.Retry, snap.Archived, snap.Paused = info.Retry, info.Archived, info.Paused
	}
	add := func(state string, tasks []*asynq.TaskInfo) {
		for _, t := range tasks {
			if t == nil {
				continue
			}
			snap.Failures = append(snap.Failures, FailedTask{
				ID:        t.ID,
				Type:      t.Type,
				State:     state,
				Retried:   t.Retried,
				LastError: t.LastErr,
				FailedAt:  t.LastFailedAt,
			})
		}
	}
	add("retry", retry)
	add("archived", archived)
	sort.SliceStable(snap.Failures, func(i, j int) bool {
		return snap.Failures[i].FailedAt.After(snap.Failures[j].FailedAt)
	})
	if limit >= 0 && len(snap.Failures) > limit {
		snap.Failures = snap.Failures[:limit]
	}
	return snap
}
