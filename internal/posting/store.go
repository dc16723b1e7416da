package posting

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/hardware-ledger/internal/documents"
	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
	"github.com/odyssey-erp/hardware-ledger/internal/platform/db"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// Tx groups the stores touched by one posting. Everything done through a Tx
// commits or rolls back together.
type Tx interface {
	Documents() documents.TxStore
	Ledger() ledger.TxStore
	Audit(ctx context.Context, log shared.AuditLog) error
}

// Store opens posting transactions.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// PGStore runs postings in PostgreSQL read-committed transactions that serialize on row locks.
type PGStore struct {
	pool  *pgxpool.Pool
	audit *shared.AuditLogger
}

// NewStore constructs a PGStore.
func NewStore(pool *pgxpool.Pool, audit *shared.AuditLogger) *PGStore {
	return &PGStore{pool: pool, audit: audit}
}

// WithTx executes fn inside a single database transaction.
func (s *PGStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{
			tx:     tx,
			docs:   documents.NewTxStore(tx),
			ledger: ledger.NewTxStore(tx),
			audit:  s.audit,
		})
	})
}

type pgTx struct {
	tx     pgx.Tx
	docs   documents.TxStore
	ledger ledger.TxStore
	audit  *shared.AuditLogger
}

func (t *pgTx) Documents() documents.TxStore { return t.docs }

func (t *pgTx) Ledger() ledger.TxStore { return t.ledger }

func (t *pgTx) Audit(ctx context.Context, log shared.AuditLog) error {
	return t.audit.Record(ctx, t.tx, log)
}
