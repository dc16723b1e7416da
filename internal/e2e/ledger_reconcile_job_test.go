package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/odyssey-erp/hardware-ledger/internal/jobs"
	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
	"github.com/odyssey-erp/hardware-ledger/jobs"
)

type stubReconciler struct {
	report  ledger.Report
	single  ledger.Reconciliation
	allRuns int
	refs    []ledger.EntityRef
}

func (s *stubReconciler) Reconcile(_ context.Context, ref ledger.EntityRef) (ledger.Reconciliation, error) {
	s.refs = append(s.refs, ref)
	rec := s.single
	rec.EntityRef = ref
	return rec, nil
}

func (s *stubReconciler) ReconcileAll(_ context.Context) (ledger.Report, error) {
	s.allRuns++
	return s.report, nil
}

func drifted(ref ledger.EntityRef) ledger.Reconciliation {
	return ledger.Reconciliation{
		EntityRef:  ref,
		Projected:  decimal.NewFromInt(10),
		Recomputed: decimal.NewFromInt(7),
		Drift:      decimal.NewFromInt(3),
	}
}

func newLocker(t *testing.T) (*redislock.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client), mr
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if pair.GetValue() != want {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}

func TestLedgerReconcileJobReportsDrift(t *testing.T) {
	service := &stubReconciler{report: ledger.Report{
		Checked: 4,
		Drifted: []ledger.Reconciliation{
			drifted(ledger.StockRef("S1", "HAMMER")),
			drifted(ledger.StockRef("S2", "NAIL")),
			drifted(ledger.CustomerRef("C1")),
		},
	}}
	locker, _ := newLocker(t)
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	job := jobs.NewLedgerReconcileJob(service, locker, nil, metrics)
	task, err := jobs.NewLedgerReconcileTask("u-1", "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("job handle: %v", err)
	}
	if service.allRuns != 1 {
		t.Fatalf("expected one full run, got %d", service.allRuns)
	}
	if got := counterValue(t, reg, "hardware_ledger_drift_detected_total", map[string]string{"entity_type": "stock"}); got != 2 {
		t.Fatalf("expected 2 stock drifts, got %v", got)
	}
	if got := counterValue(t, reg, "hardware_ledger_drift_detected_total", map[string]string{"entity_type": "customer"}); got != 1 {
		t.Fatalf("expected 1 customer drift, got %v", got)
	}
	if got := counterValue(t, reg, "hardware_jobs_total", map[string]string{"job": jobs.TaskLedgerReconcile, "status": "success"}); got != 1 {
		t.Fatalf("expected one successful run, got %v", got)
	}
}

func TestLedgerReconcileJobSkipsWhileLocked(t *testing.T) {
	service := &stubReconciler{}
	locker, _ := newLocker(t)
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	held, err := locker.Obtain(context.Background(), shared.ReconcileLockKey("all"), time.Minute, nil)
	if err != nil {
		t.Fatalf("obtain lock: %v", err)
	}

	job := jobs.NewLedgerReconcileJob(service, locker, nil, metrics)
	task, _ := jobs.NewLedgerReconcileTask("", "")
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("job handle: %v", err)
	}
	if service.allRuns != 0 {
		t.Fatalf("expected run to be skipped, got %d runs", service.allRuns)
	}
	if got := counterValue(t, reg, "hardware_jobs_skipped_total", map[string]string{"job": jobs.TaskLedgerReconcile}); got != 1 {
		t.Fatalf("expected one skip, got %v", got)
	}

	if err := held.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("job handle: %v", err)
	}
	if service.allRuns != 1 {
		t.Fatalf("expected run after release, got %d", service.allRuns)
	}
}

func TestLedgerReconcileJobSingleRef(t *testing.T) {
	service := &stubReconciler{single: drifted("")}
	job := jobs.NewLedgerReconcileJob(service, nil, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, _ := jobs.NewLedgerReconcileTask("u-1", "bank_account:BCA")
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("job handle: %v", err)
	}
	if len(service.refs) != 1 || service.refs[0] != ledger.BankAccountRef("BCA") {
		t.Fatalf("unexpected refs: %v", service.refs)
	}

	bad, _ := jobs.NewLedgerReconcileTask("u-1", "stock:no-slash")
	if err := job.Handle(context.Background(), bad); err == nil {
		t.Fatal("expected invalid ref to be rejected")
	}
}
