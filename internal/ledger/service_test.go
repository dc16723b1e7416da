package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/hardware-ledger/internal/rbac"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

type memoryTx struct {
	mu        sync.Mutex
	balances  map[EntityRef]decimal.Decimal
	movements []Movement
	failOn    EntityRef
}

func newMemoryTx() *memoryTx {
	return &memoryTx{balances: make(map[EntityRef]decimal.Decimal)}
}

func (m *memoryTx) LockBalances(_ context.Context, refs []EntityRef) (map[EntityRef]decimal.Decimal, error) {
	out := make(map[EntityRef]decimal.Decimal, len(refs))
	for _, r := range refs {
		out[r] = m.balances[r]
	}
	return out, nil
}

func (m *memoryTx) InsertMovement(_ context.Context, mv Movement) error {
	if mv.EntityRef == m.failOn {
		return errors.New("insert failed")
	}
	m.movements = append(m.movements, mv)
	return nil
}

func (m *memoryTx) AddToBalance(_ context.Context, ref EntityRef, delta decimal.Decimal, _ time.Time) error {
	m.balances[ref] = m.balances[ref].Add(delta)
	return nil
}

func (m *memoryTx) MovementsByDocument(_ context.Context, id string) ([]Movement, error) {
	var out []Movement
	for _, mv := range m.movements {
		if mv.DocumentID == id {
			out = append(out, mv)
		}
	}
	return out, nil
}

// Reader view over the same memory state.
func (m *memoryTx) GetProjection(_ context.Context, ref EntityRef) (Projection, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[ref]
	return Projection{EntityRef: ref, Balance: bal}, ok, nil
}

func (m *memoryTx) ListMovements(_ context.Context, f MovementFilter) ([]Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Movement
	for _, mv := range m.movements {
		if mv.EntityRef == f.EntityRef {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *memoryTx) Snapshot(_ context.Context, ref EntityRef) (decimal.Decimal, decimal.Decimal, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	var n int64
	for _, mv := range m.movements {
		if mv.EntityRef == ref {
			sum = sum.Add(mv.Delta)
			n++
		}
	}
	return m.balances[ref], sum, n, nil
}

func (m *memoryTx) Refs(context.Context) ([]EntityRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []EntityRef
	for r := range m.balances {
		refs = append(refs, r)
	}
	return refs, nil
}

func movement(ref EntityRef, delta int64) Movement {
	return Movement{EntityRef: ref, Delta: decimal.NewFromInt(delta), DocumentID: "doc-1", DocumentKind: "goods_receipt", DocumentNumber: "GRN-0001", PostedAt: time.Now()}
}

func TestApplyMovementsKeepsProjectionEqualToSum(t *testing.T) {
	store := newMemoryTx()
	hammer := StockRef("S1", "HAMMER")
	supplier := SupplierRef("ACME")
	entries := []Movement{movement(hammer, 100), movement(supplier, 250), movement(hammer, -30)}

	require.NoError(t, ApplyMovements(context.Background(), store, entries))
	for _, e := range entries {
		require.NotEmpty(t, e.ID)
	}

	svc := NewService(store, nil)
	for _, ref := range []EntityRef{hammer, supplier} {
		rec, err := svc.Reconcile(context.Background(), ref)
		require.NoError(t, err)
		require.True(t, rec.InSync(), "%s drift %s", ref, rec.Drift)
	}
	p, err := svc.GetBalance(context.Background(), hammer)
	require.NoError(t, err)
	require.True(t, p.Balance.Equal(decimal.NewFromInt(70)))
}

func TestApplyMovementsRejectsOrphanMovement(t *testing.T) {
	err := ApplyMovements(context.Background(), newMemoryTx(), []Movement{{EntityRef: CustomerRef("C1"), Delta: decimal.NewFromInt(1)}})
	require.Error(t, err)
}

func TestSortedRefsAndNetDeltas(t *testing.T) {
	a, b := StockRef("S1", "A"), StockRef("S1", "B")
	entries := []Movement{movement(b, -2), movement(a, 5), movement(b, -3)}
	require.Equal(t, []EntityRef{a, b}, SortedRefs(entries))
	net := NetDeltas(entries)
	require.True(t, net[b].Equal(decimal.NewFromInt(-5)))
}

func TestReconcileAllReportsDrift(t *testing.T) {
	store := newMemoryTx()
	for i := 0; i < 10; i++ {
		require.NoError(t, ApplyMovements(context.Background(), store, []Movement{movement(StockRef("S1", fmt.Sprintf("I%d", i)), int64(i+1))}))
	}
	drifted := StockRef("S1", "I3")
	store.balances[drifted] = store.balances[drifted].Add(decimal.NewFromInt(2))

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	svc := NewService(store, nil, WithConcurrency(3), WithMetrics(metrics))
	report, err := svc.ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, report.Checked)
	require.Len(t, report.Drifted, 1)
	require.Equal(t, drifted, report.Drifted[0].EntityRef)
	require.True(t, report.Drifted[0].Drift.Equal(decimal.NewFromInt(2)))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.drifted))
}

func TestHandlerAcceptsStockRefWithSlash(t *testing.T) {
	store := newMemoryTx()
	ref := StockRef("S1", "HAMMER")
	require.NoError(t, ApplyMovements(context.Background(), store, []Movement{movement(ref, 12)}))

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{UserID: "u-1", Roles: []string{rbac.RoleSupervisor}})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	NewHandler(nil, NewService(store, nil), nil, rbac.Middleware{}).MountRoutes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ledger/balances/stock:S1/HAMMER", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"balance":"12"`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ledger/balances/wallet:1", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ledger/reconcile", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

type stubEnqueuer struct {
	queued bool
}

func (s *stubEnqueuer) EnqueueReconcile(_ context.Context, requestedBy string) (string, error) {
	if s.queued {
		return "", &shared.ConflictError{Message: "a full reconciliation is already queued"}
	}
	s.queued = true
	return "task-" + requestedBy, nil
}

func TestHandlerEnqueueReconcileRejectsDuplicate(t *testing.T) {
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{UserID: "u-7", Roles: []string{rbac.RoleAuditor}})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	NewHandler(nil, NewService(newMemoryTx(), nil), &stubEnqueuer{}, rbac.Middleware{}).MountRoutes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ledger/reconcile", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Contains(t, rr.Body.String(), `"task_id"`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ledger/reconcile", nil))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "already queued")
}
