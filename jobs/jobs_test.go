package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/hardware-ledger/internal/jobs"
	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

type stubReconciler struct {
	report ledger.Report
	err    error
	calls  int
	refs   []ledger.EntityRef
}

func (s *stubReconciler) Reconcile(_ context.Context, ref ledger.EntityRef) (ledger.Reconciliation, error) {
	s.calls++
	s.refs = append(s.refs, ref)
	return ledger.Reconciliation{EntityRef: ref}, s.err
}

func (s *stubReconciler) ReconcileAll(context.Context) (ledger.Report, error) {
	s.calls++
	return s.report, s.err
}

func drifted(ref ledger.EntityRef, drift int64) ledger.Reconciliation {
	return ledger.Reconciliation{EntityRef: ref, Drift: decimal.NewFromInt(drift)}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func newLocker(t *testing.T) *redislock.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client)
}

func TestReconcileJobRecordsDriftByEntityType(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := &stubReconciler{report: ledger.Report{
		Checked: 5,
		Drifted: []ledger.Reconciliation{
			drifted(ledger.StockRef("S1", "HAMMER"), 2),
			drifted(ledger.StockRef("S1", "NAIL"), -1),
			drifted(ledger.CustomerRef("C9"), 40),
		},
	}}
	job := NewLedgerReconcileJob(svc, newLocker(t), nil, jobmetrics.NewMetrics(reg))

	task, err := NewLedgerReconcileTask("", "")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, 1, svc.calls)
	require.Equal(t, float64(2), counterValue(t, reg, "hardware_ledger_drift_detected_total", "entity_type", "stock"))
	require.Equal(t, float64(1), counterValue(t, reg, "hardware_ledger_drift_detected_total", "entity_type", "customer"))
	require.Equal(t, float64(1), counterValue(t, reg, "hardware_jobs_total", "status", "success"))
}

func TestReconcileJobSkipsWhileLockHeld(t *testing.T) {
	reg := prometheus.NewRegistry()
	locker := newLocker(t)
	held, err := locker.Obtain(context.Background(), shared.ReconcileLockKey("all"), time.Minute, nil)
	require.NoError(t, err)
	defer func() { _ = held.Release(context.Background()) }()

	svc := &stubReconciler{}
	job := NewLedgerReconcileJob(svc, locker, nil, jobmetrics.NewMetrics(reg))
	task, err := NewLedgerReconcileTask("u-1", "")
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Zero(t, svc.calls)
	require.Equal(t, float64(1), counterValue(t, reg, "hardware_jobs_skipped_total", "job", TaskLedgerReconcile))
}

func TestReconcileJobSingleRefAndBadPayloads(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := &stubReconciler{}
	job := NewLedgerReconcileJob(svc, nil, nil, jobmetrics.NewMetrics(reg))

	task, err := NewLedgerReconcileTask("u-1", "stock:S1/HAMMER")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []ledger.EntityRef{ledger.StockRef("S1", "HAMMER")}, svc.refs)

	task, err = NewLedgerReconcileTask("u-1", "warehouse:W1")
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)

	garbage := asynq.NewTask(TaskLedgerReconcile, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), garbage), asynq.SkipRetry)
	require.Equal(t, 1, svc.calls)
}

func TestReconcileJobCountsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := &stubReconciler{err: errors.New("db down")}
	job := NewLedgerReconcileJob(svc, nil, nil, jobmetrics.NewMetrics(reg))

	task, err := NewLedgerReconcileTask("", "")
	require.NoError(t, err)
	require.EqualError(t, job.Handle(context.Background(), task), "db down")
	require.Equal(t, float64(1), counterValue(t, reg, "hardware_jobs_failures_total", "job", TaskLedgerReconcile))
}

func TestNewWorkerRejectsDuplicateHandlers(t *testing.T) {
	noop := func(context.Context, *asynq.Task) error { return nil }
	_, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers: []TaskHandler{
			{Type: TaskLedgerReconcile, Handler: noop},
			{Type: TaskLedgerReconcile, Handler: noop},
		},
	})
	require.ErrorContains(t, err, "duplicate handler")
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestHealthReportsQueueState(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		body      string
	}{
		{
			name:   "no inspector",
			status: http.StatusOK,
			body:   `{"queue":"default","pending":0,"active":0,"scheduled":0,"retry":0,"archived":0,"paused":false}`,
		},
		{
			name:      "queue info",
			inspector: fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Active: 1, Retry: 2}},
			status:    http.StatusOK,
			body:      `{"queue":"default","pending":3,"active":1,"scheduled":0,"retry":2,"archived":0,"paused":false}`,
		},
		{
			name:      "redis unreachable",
			inspector: fakeInspector{err: errors.New("dial tcp: refused")},
			status:    http.StatusServiceUnavailable,
			body:      `{"error_kind":"unavailable","message":"job queue unreachable"}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(router)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rec.Code)
			require.JSONEq(t, tc.body, rec.Body.String())
		})
	}
}
