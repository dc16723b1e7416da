package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile recomputes balances from the movement log and
	// reports drift.
	TaskLedgerReconcile = "ledger:reconcile"
)

// LedgerReconcilePayload scopes a reconciliation run. An empty Ref means
// every entity.
type LedgerReconcilePayload struct {
	RequestedBy string `json:"requested_by"`
	Ref         string `json:"ref,omitempty"`
}

// NewLedgerReconcileTask constructs an Asynq task for a reconciliation run.
func NewLedgerReconcileTask(requestedBy, ref string) (*asynq.Task, error) {
	if requestedBy == "" {
		requestedBy = "scheduler"
	}
	data, err := json.Marshal(LedgerReconcilePayload{RequestedBy: requestedBy, Ref: ref})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data, asynq.Queue(QueueDefault)), nil
}
