package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/hardware-ledger/internal/jobs"
	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const defaultReconcileLockTTL = 10 * time.Minute

// Reconciler compares projections with the movement log.
type Reconciler interface {
	Reconcile(ctx context.Context, ref ledger.EntityRef) (ledger.Reconciliation, error)
	ReconcileAll(ctx context.Context) (ledger.Report, error)
}

// Locker hands out distributed locks.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// LedgerReconcileJob runs reconciliation on the worker. At most one run
// executes at a time across workers.
type LedgerReconcileJob struct {
	Service Reconciler
	Locker  Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	LockTTL time.Duration
}

// NewLedgerReconcileJob constructs the job handler. locker may be nil for a
// single worker deployment.
func NewLedgerReconcileJob(service Reconciler, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{
		Service: service,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		LockTTL: defaultReconcileLockTTL,
	}
}

// Handle executes one reconciliation task.
func (j *LedgerReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("ledger reconcile: dependencies not configured")
	}
	var payload LedgerReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	var ref ledger.EntityRef
	if payload.Ref != "" {
		parsed, err := ledger.ParseEntityRef(payload.Ref)
		if err != nil {
			j.log().Warn("invalid reconcile ref", slog.String("ref", payload.Ref), slog.Any("error", err))
			return asynq.SkipRetry
		}
		ref = parsed
	}

	scope := "all"
	if ref != "" {
		scope = ref.String()
	}
	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, shared.ReconcileLockKey(scope), j.lockTTL(), nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			j.metrics().Skipped(TaskLedgerReconcile)
			j.log().Info("reconciliation already running", slog.String("scope", scope))
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				j.log().Warn("release reconcile lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.metrics().Track(TaskLedgerReconcile)
	var drifted []ledger.Reconciliation
	var checked int
	if ref != "" {
		rec, err := j.Service.Reconcile(ctx, ref)
		if err != nil {
			j.log().Error("reconcile entity", slog.String("ref", scope), slog.Any("error", err))
			return tracker.End(err)
		}
		checked = 1
		if !rec.InSync() {
			drifted = append(drifted, rec)
		}
	} else {
		report, err := j.Service.ReconcileAll(ctx)
		if err != nil {
			j.log().Error("reconcile all", slog.Any("error", err))
			return tracker.End(err)
		}
		checked, drifted = report.Checked, report.Drifted
	}

	byType := make(map[ledger.EntityType]int)
	for _, rec := range drifted {
		byType[rec.EntityRef.Type()]++
	}
	for t, n := range byType {
		j.metrics().AddDrift(string(t), n)
	}
	j.log().Info("reconciliation finished",
		slog.String("scope", scope),
		slog.String("requested_by", payload.RequestedBy),
		slog.Int("checked", checked),
		slog.Int("drifted", len(drifted)))
	return tracker.End(nil)
}

func (j *LedgerReconcileJob) lockTTL() time.Duration {
	if j.LockTTL > 0 {
		return j.LockTTL
	}
	return defaultReconcileLockTTL
}

func (j *LedgerReconcileJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerReconcileJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerReconcile))
	}
	return slog.Default().With(slog.String("job", TaskLedgerReconcile))
}
