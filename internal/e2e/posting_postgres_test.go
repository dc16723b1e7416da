package e2e

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/hardware-ledger/internal/catalog"
	"github.com/odyssey-erp/hardware-ledger/internal/documents"
	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
	"github.com/odyssey-erp/hardware-ledger/internal/platform/db"
	"github.com/odyssey-erp/hardware-ledger/internal/posting"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
	_ "github.com/odyssey-erp/hardware-ledger/testing"
)

func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("HARDWARE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HARDWARE_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE audit_logs, balance_projections, ledger_movements, document_lines,
documents, sequence_counters, tracked_entities RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	cat := catalog.NewService(catalog.NewRepository(pool))
	for _, e := range []struct {
		t  catalog.EntityType
		id string
	}{
		{catalog.TypeStore, "S1"},
		{catalog.TypeStore, "S2"},
		{catalog.TypeItem, "HAMMER"},
		{catalog.TypeCustomer, "C1"},
		{catalog.TypeSupplier, "ACME"},
	} {
		_, err := cat.Register(ctx, e.t, catalog.RegisterRequest{ID: e.id, Name: e.id})
		require.NoError(t, err)
	}
	return pool
}

func TestPostgresPostingLifecycle(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	engine := posting.NewService(posting.NewStore(pool, shared.NewAuditLogger()), nil,
		posting.Config{Timeout: 10 * time.Second},
		posting.WithCatalog(catalog.NewService(catalog.NewRepository(pool))))
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), nil)
	hammer := ledger.StockRef("S1", "HAMMER")

	grn, err := engine.Post(ctx, posting.Draft{
		Actor:          "clerk",
		IdempotencyKey: "grn-1",
		DraftInput: documents.DraftInput{
			Kind:            documents.KindGoodsReceipt,
			CounterpartyRef: "ACME",
			Header:          documents.Header{StoreID: "S1", PaymentStatus: documents.PaymentUnpaid},
			Lines: []documents.Line{{
				TrackedEntityRef: "HAMMER",
				Quantity:         decimal.NewFromInt(10),
				UnitPrice:        decimal.NewFromInt(5),
			}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "GRN-0001", grn.DocumentNumber)

	replayed, err := engine.Post(ctx, posting.Draft{
		Actor:          "clerk",
		IdempotencyKey: "grn-1",
		DraftInput: documents.DraftInput{
			Kind:            documents.KindGoodsReceipt,
			CounterpartyRef: "ACME",
			Header:          documents.Header{StoreID: "S1", PaymentStatus: documents.PaymentUnpaid},
			Lines: []documents.Line{{
				TrackedEntityRef: "HAMMER",
				Quantity:         decimal.NewFromInt(10),
				UnitPrice:        decimal.NewFromInt(5),
			}},
		},
	})
	require.NoError(t, err)
	require.True(t, replayed.Replayed)
	require.Equal(t, grn.ID, replayed.ID)

	sale := posting.Draft{
		Actor: "cashier",
		DraftInput: documents.DraftInput{
			Kind:   documents.KindSaleRetail,
			Header: documents.Header{StoreID: "S1"},
			Lines: []documents.Line{{
				TrackedEntityRef: "HAMMER",
				Quantity:         decimal.NewFromInt(6),
				UnitPrice:        decimal.NewFromInt(9),
			}},
		},
	}
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Post(ctx, sale)
		}(i)
	}
	wg.Wait()
	failures := 0
	for _, err := range errs {
		if err != nil {
			var stock *shared.InsufficientStockError
			require.ErrorAs(t, err, &stock)
			failures++
		}
	}
	require.Equal(t, 1, failures)

	p, err := ledgerSvc.GetBalance(ctx, hammer)
	require.NoError(t, err)
	require.True(t, p.Balance.Equal(decimal.NewFromInt(4)), "balance %s", p.Balance)

	_, err = engine.Reverse(ctx, grn.ID, "manager", "")
	var stock *shared.InsufficientStockError
	require.ErrorAs(t, err, &stock)

	report, err := ledgerSvc.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Drifted)
	require.Equal(t, 2, report.Checked)

	docs := documents.NewService(documents.NewRepository(pool), nil, nil)
	stored, err := docs.Get(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusPosted, stored.Status)
	require.Len(t, stored.Lines, 1)
}

func TestPostgresConcurrentSameKindPostsAllSucceed(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	engine := posting.NewService(posting.NewStore(pool, shared.NewAuditLogger()), nil,
		posting.Config{Timeout: 20 * time.Second},
		posting.WithCatalog(catalog.NewService(catalog.NewRepository(pool))))

	_, err := engine.Post(ctx, posting.Draft{
		Actor: "clerk",
		DraftInput: documents.DraftInput{
			Kind:   documents.KindOpeningStock,
			Header: documents.Header{StoreID: "S1"},
			Lines: []documents.Line{{
				TrackedEntityRef: "HAMMER",
				Quantity:         decimal.NewFromInt(100),
				UnitPrice:        decimal.NewFromInt(5),
			}},
		},
	})
	require.NoError(t, err)

	const n = 12
	results := make([]posting.Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Post(ctx, posting.Draft{
				Actor: "cashier",
				DraftInput: documents.DraftInput{
					Kind:   documents.KindSaleRetail,
					Header: documents.Header{StoreID: "S1"},
					Lines: []documents.Line{{
						TrackedEntityRef: "HAMMER",
						Quantity:         decimal.NewFromInt(1),
						UnitPrice:        decimal.NewFromInt(9),
					}},
				},
			})
		}(i)
	}
	wg.Wait()

	numbers := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "post %d", i)
		numbers[results[i].DocumentNumber] = struct{}{}
	}
	require.Len(t, numbers, n)
	for i := 1; i <= n; i++ {
		require.Contains(t, numbers, documents.FormatNumber(documents.KindSaleRetail, int64(i)))
	}

	p, err := ledger.NewService(ledger.NewRepository(pool), nil).GetBalance(ctx, ledger.StockRef("S1", "HAMMER"))
	require.NoError(t, err)
	require.True(t, p.Balance.Equal(decimal.NewFromInt(100-n)), "balance %s", p.Balance)
}
