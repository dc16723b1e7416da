package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// Repository persists tracked entities.
type Repository interface {
	Upsert(ctx context.Context, e Entity) (Entity, error)
	Get(ctx context.Context, t EntityType, id string) (Entity, error)
	List(ctx context.Context, t EntityType, filter ListFilter) ([]Entity, int, error)
	ActiveKeys(ctx context.Context, keys []Key) (map[Key]bool, error)
}

// PGRepository implements Repository on tracked_entities.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const entityColumns = `entity_type, entity_id, name, active, attributes, created_at, updated_at`

// Upsert inserts or refreshes an entity keyed by (type, id).
func (r *PGRepository) Upsert(ctx context.Context, e Entity) (Entity, error) {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return Entity{}, err
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO tracked_entities (entity_type, entity_id, name, active, attributes)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (entity_type, entity_id) DO UPDATE
SET name = EXCLUDED.name, active = EXCLUDED.active, attributes = EXCLUDED.attributes, updated_at = NOW()
RETURNING `+entityColumns, string(e.Type), e.ID, e.Name, e.Active, attrs)
	return scanEntity(row)
}

// Get loads one entity.
func (r *PGRepository) Get(ctx context.Context, t EntityType, id string) (Entity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM tracked_entities WHERE entity_type = $1 AND entity_id = $2`, string(t), id)
	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, &shared.NotFoundError{Resource: string(t), ID: id}
	}
	return e, err
}

// List returns a page of entities of one type ordered by id.
func (r *PGRepository) List(ctx context.Context, t EntityType, filter ListFilter) ([]Entity, int, error) {
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	where := `entity_type = $1 AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR entity_id ILIKE '%' || $2 || '%') AND (NOT $3 OR active)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tracked_entities WHERE `+where, string(t), filter.Search, filter.ActiveOnly).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entities: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+entityColumns+` FROM tracked_entities WHERE `+where+` ORDER BY entity_id LIMIT $4 OFFSET $5`,
		string(t), filter.Search, filter.ActiveOnly, perPage, shared.Offset(page, perPage))
	if err != nil {
		return nil, 0, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// ActiveKeys reports which of keys exist and are active.
func (r *PGRepository) ActiveKeys(ctx context.Context, keys []Key) (map[Key]bool, error) {
	if len(keys) == 0 {
		return map[Key]bool{}, nil
	}
	types := make([]string, len(keys))
	ids := make([]string, len(keys))
	for i, k := range keys {
		types[i] = string(k.Type)
		ids[i] = k.ID
	}
	rows, err := r.pool.Query(ctx, `SELECT e.entity_type, e.entity_id
FROM tracked_entities e
JOIN unnest($1::text[], $2::text[]) AS k(entity_type, entity_id)
  ON e.entity_type = k.entity_type AND e.entity_id = k.entity_id
WHERE e.active`, types, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup entities: %w", err)
	}
	defer rows.Close()
	found := make(map[Key]bool, len(keys))
	for rows.Next() {
		var t, id string
		if err := rows.Scan(&t, &id); err != nil {
			return nil, err
		}
		found[Key{Type: EntityType(t), ID: id}] = true
	}
	return found, rows.Err()
}

func scanEntity(row pgx.Row) (Entity, error) {
	var (
		e     Entity
		t     string
		attrs []byte
	)
	if err := row.Scan(&t, &e.ID, &e.Name, &e.Active, &attrs, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Entity{}, err
	}
	e.Type = EntityType(t)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return Entity{}, err
		}
	}
	return e, nil
}
