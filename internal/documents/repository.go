package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/hardware-ledger/internal/platform/db"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// ErrDuplicateIdempotencyKey is returned when another transaction stored the
// same idempotency key first.
var ErrDuplicateIdempotencyKey = errors.New("documents: idempotency key already used")

const (
	constraintIdempotencyKey = "documents_idempotency_key_key"
	constraintReversesID     = "documents_reverses_id_key"
)

// TxStore is the transactional document surface used while posting.
type TxStore interface {
	AllocateNumber(ctx context.Context, kind Kind) (string, error)
	InsertDocument(ctx context.Context, doc Document) error
	GetForUpdate(ctx context.Context, id string) (Document, error)
	FindByIdempotencyKey(ctx context.Context, key string) (Document, bool, error)
	MarkPosted(ctx context.Context, id, number string, at time.Time) error
	MarkVoided(ctx context.Context, id, reversedBy string, at time.Time) error
}

// Repository is the non-transactional document store.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	Get(ctx context.Context, id string) (Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, int, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx executes the callback inside a read-committed transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// Get loads a document with its lines.
func (r *PGRepository) Get(ctx context.Context, id string) (Document, error) {
	return getDocument(ctx, r.pool, id, false)
}

// List returns a page of documents, newest first, without lines.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Document, int, error) {
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	where := `($1 = '' OR kind = $1) AND ($2 = '' OR status = $2)
  AND ($3::timestamptz IS NULL OR occurred_at >= $3) AND ($4::timestamptz IS NULL OR occurred_at < $4)`
	args := []any{string(filter.Kind), string(filter.Status), nullTime(filter.From), nullTime(filter.To)}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents WHERE `+where+`
ORDER BY occurred_at DESC, created_at DESC LIMIT $5 OFFSET $6`, append(args, perPage, shared.Offset(page, perPage))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, doc)
	}
	return out, total, rows.Err()
}

type txStore struct {
	q db.DBTX
}

// NewTxStore binds the transactional document operations to q.
func NewTxStore(q db.DBTX) TxStore {
	return &txStore{q: q}
}

// AllocateNumber increments the per-kind counter row. The row stays locked
// until the surrounding transaction ends, so numbers are unique and a
// rollback gives the number back.
func (s *txStore) AllocateNumber(ctx context.Context, kind Kind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("allocate number: unknown kind %q", kind)
	}
	var seq int64
	err := s.q.QueryRow(ctx, `INSERT INTO sequence_counters (kind, last_value) VALUES ($1, 1)
ON CONFLICT (kind) DO UPDATE SET last_value = sequence_counters.last_value + 1
RETURNING last_value`, string(kind)).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("allocate number: %w", err)
	}
	return FormatNumber(kind, seq), nil
}

func (s *txStore) InsertDocument(ctx context.Context, d Document) error {
	h := d.Header
	_, err := s.q.Exec(ctx, `INSERT INTO documents (
    id, document_number, kind, status, counterparty_ref, store_id, destination_store_id, payment_status,
    adjustment_type, bank_entry_type, bank_account, destination_bank_account, amount, reference_no, notes,
    occurred_at, total_amount, created_by, created_at, posted_at, idempotency_key, request_hash, reverses_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		d.ID, nullString(d.Number), string(d.Kind), string(d.Status), nullString(d.CounterpartyRef),
		nullString(h.StoreID), nullString(h.DestinationStoreID), nullString(string(h.PaymentStatus)),
		nullString(string(h.AdjustmentType)), nullString(string(h.BankEntryType)), nullString(h.BankAccount),
		nullString(h.DestinationBankAccount), db.Numeric(h.Amount), nullString(h.ReferenceNo), nullString(h.Notes),
		d.OccurredAt, db.Numeric(d.TotalAmount), d.CreatedBy, d.CreatedAt, d.PostedAt,
		nullString(d.IdempotencyKey), nullString(d.RequestHash), nullString(d.ReversesID))
	if err != nil {
		return mapInsertError(err)
	}
	for _, l := range d.Lines {
		_, err := s.q.Exec(ctx, `INSERT INTO document_lines (document_id, line_no, tracked_entity_ref, quantity, unit_price, discount, net_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			d.ID, l.LineNo, l.TrackedEntityRef, db.Numeric(l.Quantity), db.Numeric(l.UnitPrice), db.Numeric(l.Discount), db.Numeric(l.NetAmount))
		if err != nil {
			return fmt.Errorf("insert line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

func mapInsertError(err error) error {
	constraint, ok := shared.UniqueViolation(err)
	if !ok {
		return fmt.Errorf("insert document: %w", err)
	}
	switch constraint {
	case constraintIdempotencyKey:
		return ErrDuplicateIdempotencyKey
	case constraintReversesID:
		return &shared.ConflictError{Message: "document has already been reversed"}
	}
	return fmt.Errorf("insert document: %w", err)
}

func (s *txStore) GetForUpdate(ctx context.Context, id string) (Document, error) {
	return getDocument(ctx, s.q, id, true)
}

func (s *txStore) FindByIdempotencyKey(ctx context.Context, key string) (Document, bool, error) {
	row := s.q.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE idempotency_key = $1`, key)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	return doc, true, nil
}

func (s *txStore) MarkPosted(ctx context.Context, id, number string, at time.Time) error {
	tag, err := s.q.Exec(ctx, `UPDATE documents SET status = 'posted', document_number = $2, posted_at = $3
WHERE id = $1 AND status = 'draft'`, id, number, at)
	if err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return &shared.ConflictError{Message: "document is not a draft"}
	}
	return nil
}

func (s *txStore) MarkVoided(ctx context.Context, id, reversedBy string, at time.Time) error {
	tag, err := s.q.Exec(ctx, `UPDATE documents SET status = 'voided', voided_at = $3, reversed_by_id = $2
WHERE id = $1 AND status = 'posted'`, id, reversedBy, at)
	if err != nil {
		return fmt.Errorf("mark voided: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return &shared.ConflictError{Message: "document is not posted"}
	}
	return nil
}

const documentColumns = `id, document_number, kind, status, counterparty_ref, store_id, destination_store_id,
payment_status, adjustment_type, bank_entry_type, bank_account, destination_bank_account, amount, reference_no,
notes, occurred_at, total_amount, created_by, created_at, posted_at, voided_at, idempotency_key, request_hash,
reverses_id, reversed_by_id`

func getDocument(ctx context.Context, q db.DBTX, id string, forUpdate bool) (Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Document{}, &shared.NotFoundError{Resource: "document", ID: id}
	}
	sql := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	doc, err := scanDocument(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, &shared.NotFoundError{Resource: "document", ID: id}
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT line_no, tracked_entity_ref, quantity, unit_price, discount, net_amount
FROM document_lines WHERE document_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return Document{}, fmt.Errorf("get lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l                            Line
			qty, price, discount, netAmt pgtype.Numeric
		)
		if err := rows.Scan(&l.LineNo, &l.TrackedEntityRef, &qty, &price, &discount, &netAmt); err != nil {
			return Document{}, err
		}
		l.Quantity, l.UnitPrice, l.Discount, l.NetAmount = db.Decimal(qty), db.Decimal(price), db.Decimal(discount), db.Decimal(netAmt)
		doc.Lines = append(doc.Lines, l)
	}
	return doc, rows.Err()
}

func scanDocument(row pgx.Row) (Document, error) {
	var (
		d                                                       Document
		number, counterparty, store, destStore, payment, adjust pgtype.Text
		bankType, bank, destBank, refNo, notes, key, hash       pgtype.Text
		reverses, reversedBy                                    pgtype.Text
		kind, status                                            string
		amount, total                                           pgtype.Numeric
	)
	err := row.Scan(&d.ID, &number, &kind, &status, &counterparty, &store, &destStore, &payment, &adjust,
		&bankType, &bank, &destBank, &amount, &refNo, &notes, &d.OccurredAt, &total, &d.CreatedBy, &d.CreatedAt,
		&d.PostedAt, &d.VoidedAt, &key, &hash, &reverses, &reversedBy)
	if err != nil {
		return Document{}, err
	}
	d.Number = number.String
	d.Kind = Kind(kind)
	d.Status = Status(status)
	d.CounterpartyRef = counterparty.String
	d.Header = Header{
		StoreID:                store.String,
		DestinationStoreID:     destStore.String,
		PaymentStatus:          PaymentStatus(payment.String),
		AdjustmentType:         AdjustmentType(adjust.String),
		BankEntryType:          BankEntryType(bankType.String),
		BankAccount:            bank.String,
		DestinationBankAccount: destBank.String,
		Amount:                 db.Decimal(amount),
		ReferenceNo:            refNo.String,
		Notes:                  notes.String,
	}
	d.TotalAmount = db.Decimal(total)
	d.IdempotencyKey = key.String
	d.RequestHash = hash.String
	d.ReversesID = reverses.String
	d.ReversedByID = reversedBy.String
	return d, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
