package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hardware-ledger/internal/platform/db"
)

const defaultMovementLimit = 200

// Repository reads ledger state from PostgreSQL outside of postings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txStore struct {
	q db.DBTX
}

// NewTxStore binds the transactional ledger operations to q, normally a pgx.Tx.
func NewTxStore(q db.DBTX) TxStore {
	return &txStore{q: q}
}

func refStrings(refs []EntityRef) ([]string, []string) {
	out := make([]string, len(refs))
	types := make([]string, len(refs))
	for i, r := range refs {
		out[i] = string(r)
		types[i] = string(r.Type())
	}
	return out, types
}

func (s *txStore) LockBalances(ctx context.Context, refs []EntityRef) (map[EntityRef]decimal.Decimal, error) {
	balances := make(map[EntityRef]decimal.Decimal, len(refs))
	if len(refs) == 0 {
		return balances, nil
	}
	sorted := append([]EntityRef(nil), refs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	names, types := refStrings(sorted)

	if _, err := s.q.Exec(ctx, `INSERT INTO balance_projections (entity_ref, entity_type, current_balance, last_updated)
SELECT r, t, 0, NOW() FROM unnest($1::text[], $2::text[]) AS x(r, t)
ON CONFLICT (entity_ref) DO NOTHING`, names, types); err != nil {
		return nil, fmt.Errorf("ensure projections: %w", err)
	}

	rows, err := s.q.Query(ctx, `SELECT entity_ref, current_balance FROM balance_projections
WHERE entity_ref = ANY($1::text[])
ORDER BY entity_ref
FOR UPDATE`, names)
	if err != nil {
		return nil, fmt.Errorf("lock projections: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ref string
			bal pgtype.Numeric
		)
		if err := rows.Scan(&ref, &bal); err != nil {
			return nil, err
		}
		balances[EntityRef(ref)] = db.Decimal(bal)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(balances) != len(sorted) {
		return nil, fmt.Errorf("lock projections: locked %d of %d rows", len(balances), len(sorted))
	}
	return balances, nil
}

func (s *txStore) InsertMovement(ctx context.Context, m Movement) error {
	_, err := s.q.Exec(ctx, `INSERT INTO ledger_movements (id, entity_ref, entity_type, delta, document_id, document_kind, document_number, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, string(m.EntityRef), string(m.EntityRef.Type()), db.Numeric(m.Delta), m.DocumentID, m.DocumentKind, m.DocumentNumber, m.PostedAt)
	return err
}

func (s *txStore) AddToBalance(ctx context.Context, ref EntityRef, delta decimal.Decimal, at time.Time) error {
	tag, err := s.q.Exec(ctx, `UPDATE balance_projections
SET current_balance = current_balance + $2, last_updated = $3
WHERE entity_ref = $1`, string(ref), db.Numeric(delta), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("projection %s missing", ref)
	}
	return nil
}

func (s *txStore) MovementsByDocument(ctx context.Context, documentID string) ([]Movement, error) {
	rows, err := s.q.Query(ctx, `SELECT `+movementColumns+` FROM ledger_movements WHERE document_id = $1 ORDER BY seq`, documentID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

const movementColumns = `id, entity_ref, delta, document_id, document_kind, document_number, posted_at`

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var (
			m     Movement
			ref   string
			delta pgtype.Numeric
		)
		if err := rows.Scan(&m.ID, &ref, &delta, &m.DocumentID, &m.DocumentKind, &m.DocumentNumber, &m.PostedAt); err != nil {
			return nil, err
		}
		m.EntityRef = EntityRef(ref)
		m.Delta = db.Decimal(delta)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetProjection returns the projection row; found is false when none exists.
func (r *Repository) GetProjection(ctx context.Context, ref EntityRef) (Projection, bool, error) {
	var (
		bal     pgtype.Numeric
		updated time.Time
	)
	err := r.pool.QueryRow(ctx, `SELECT current_balance, last_updated FROM balance_projections WHERE entity_ref = $1`, string(ref)).Scan(&bal, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Projection{EntityRef: ref, Balance: decimal.Zero}, false, nil
	}
	if err != nil {
		return Projection{}, false, err
	}
	return Projection{EntityRef: ref, Balance: db.Decimal(bal), LastUpdated: updated}, true, nil
}

// ListMovements returns the movement history of one entity, oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultMovementLimit
	}
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM ledger_movements
WHERE entity_ref = $1
  AND ($2::timestamptz IS NULL OR posted_at >= $2)
  AND ($3::timestamptz IS NULL OR posted_at < $3)
ORDER BY seq
LIMIT $4`, string(filter.EntityRef), nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// Snapshot reads the projection and the movement sum of ref from one
// consistent snapshot.
func (r *Repository) Snapshot(ctx context.Context, ref EntityRef) (projected, recomputed decimal.Decimal, count int64, err error) {
	err = db.WithSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		var bal pgtype.Numeric
		scanErr := tx.QueryRow(ctx, `SELECT current_balance FROM balance_projections WHERE entity_ref = $1`, string(ref)).Scan(&bal)
		switch {
		case errors.Is(scanErr, pgx.ErrNoRows):
			projected = decimal.Zero
		case scanErr != nil:
			return scanErr
		default:
			projected = db.Decimal(bal)
		}
		var sum pgtype.Numeric
		if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(delta), 0), COUNT(*) FROM ledger_movements WHERE entity_ref = $1`, string(ref)).Scan(&sum, &count); err != nil {
			return err
		}
		recomputed = db.Decimal(sum)
		return nil
	})
	return projected, recomputed, count, err
}

// Refs lists every entity that has a projection or at least one movement.
func (r *Repository) Refs(ctx context.Context) ([]EntityRef, error) {
	rows, err := r.pool.Query(ctx, `SELECT entity_ref FROM balance_projections
UNION
SELECT DISTINCT entity_ref FROM ledger_movements
ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []EntityRef
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, EntityRef(ref))
	}
	return refs, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
