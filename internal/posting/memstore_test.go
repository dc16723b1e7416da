package posting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hardware-ledger/internal/catalog"
	"github.com/odyssey-erp/hardware-ledger/internal/documents"
	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

type memState struct {
	docs      map[string]documents.Document
	counters  map[documents.Kind]int64
	balances  map[ledger.EntityRef]decimal.Decimal
	movements []ledger.Movement
	audits    []shared.AuditLog
}

func newMemState() *memState {
	return &memState{
		docs:     make(map[string]documents.Document),
		counters: make(map[documents.Kind]int64),
		balances: make(map[ledger.EntityRef]decimal.Decimal),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.docs {
		v.Lines = append([]documents.Line(nil), v.Lines...)
		c.docs[k] = v
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	c.movements = append([]ledger.Movement(nil), s.movements...)
	c.audits = append([]shared.AuditLog(nil), s.audits...)
	return c
}

// memStore serializes transactions behind one mutex and publishes a staged
// copy of the state only on commit, so a failed callback leaves no trace.
type memStore struct {
	mu           sync.Mutex
	state        *memState
	injected     []error
	hideKeys     int
	failMovement ledger.EntityRef
	beforeCommit func(ctx context.Context) error
	commits      int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.injected) > 0 {
		err := m.injected[0]
		m.injected = m.injected[1:]
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: m, state: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if m.beforeCommit != nil {
		if err := m.beforeCommit(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = tx.state
	m.commits++
	return nil
}

func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) balance(ref ledger.EntityRef) decimal.Decimal {
	return m.snapshot().balances[ref]
}

func (m *memStore) movementSum(ref ledger.EntityRef) decimal.Decimal {
	sum := decimal.Zero
	for _, mv := range m.snapshot().movements {
		if mv.EntityRef == ref {
			sum = sum.Add(mv.Delta)
		}
	}
	return sum
}

func (m *memStore) seedDraft(doc documents.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.docs[doc.ID] = doc
}

type memTx struct {
	store *memStore
	state *memState
}

func (t *memTx) Documents() documents.TxStore { return t }
func (t *memTx) Ledger() ledger.TxStore       { return t }

func (t *memTx) Audit(_ context.Context, log shared.AuditLog) error {
	if log.Action == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity_id")
	}
	t.state.audits = append(t.state.audits, log)
	return nil
}

func (t *memTx) AllocateNumber(_ context.Context, kind documents.Kind) (string, error) {
	t.state.counters[kind]++
	return documents.FormatNumber(kind, t.state.counters[kind]), nil
}

func (t *memTx) InsertDocument(_ context.Context, doc documents.Document) error {
	if _, exists := t.state.docs[doc.ID]; exists {
		return fmt.Errorf("duplicate document id %s", doc.ID)
	}
	for _, d := range t.state.docs {
		if doc.IdempotencyKey != "" && d.IdempotencyKey == doc.IdempotencyKey {
			return documents.ErrDuplicateIdempotencyKey
		}
		if doc.ReversesID != "" && d.ReversesID == doc.ReversesID {
			return &shared.ConflictError{Message: "document has already been reversed"}
		}
		if doc.Number != "" && d.Number == doc.Number {
			return fmt.Errorf("duplicate document number %s", doc.Number)
		}
	}
	t.state.docs[doc.ID] = doc
	return nil
}

func (t *memTx) GetForUpdate(_ context.Context, id string) (documents.Document, error) {
	doc, ok := t.state.docs[id]
	if !ok {
		return documents.Document{}, &shared.NotFoundError{Resource: "document", ID: id}
	}
	return doc, nil
}

func (t *memTx) FindByIdempotencyKey(_ context.Context, key string) (documents.Document, bool, error) {
	if t.store.hideKeys > 0 {
		t.store.hideKeys--
		return documents.Document{}, false, nil
	}
	for _, d := range t.state.docs {
		if d.IdempotencyKey == key {
			return d, true, nil
		}
	}
	return documents.Document{}, false, nil
}

func (t *memTx) MarkPosted(_ context.Context, id, number string, at time.Time) error {
	doc, ok := t.state.docs[id]
	if !ok || doc.Status != documents.StatusDraft {
		return &shared.ConflictError{Message: "document is not a draft"}
	}
	doc.Status, doc.Number, doc.PostedAt = documents.StatusPosted, number, &at
	t.state.docs[id] = doc
	return nil
}

func (t *memTx) MarkVoided(_ context.Context, id, reversedBy string, at time.Time) error {
	doc, ok := t.state.docs[id]
	if !ok || doc.Status != documents.StatusPosted {
		return &shared.ConflictError{Message: "document is not posted"}
	}
	doc.Status, doc.ReversedByID, doc.VoidedAt = documents.StatusVoided, reversedBy, &at
	t.state.docs[id] = doc
	return nil
}

func (t *memTx) LockBalances(_ context.Context, refs []ledger.EntityRef) (map[ledger.EntityRef]decimal.Decimal, error) {
	sorted := append([]ledger.EntityRef(nil), refs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make(map[ledger.EntityRef]decimal.Decimal, len(refs))
	for _, r := range sorted {
		if _, ok := t.state.balances[r]; !ok {
			t.state.balances[r] = decimal.Zero
		}
		out[r] = t.state.balances[r]
	}
	return out, nil
}

func (t *memTx) InsertMovement(_ context.Context, m ledger.Movement) error {
	if t.store.failMovement != "" && m.EntityRef == t.store.failMovement {
		return errors.New("disk full")
	}
	t.state.movements = append(t.state.movements, m)
	return nil
}

func (t *memTx) AddToBalance(_ context.Context, ref ledger.EntityRef, delta decimal.Decimal, _ time.Time) error {
	bal, ok := t.state.balances[ref]
	if !ok {
		return fmt.Errorf("projection %s not locked", ref)
	}
	t.state.balances[ref] = bal.Add(delta)
	return nil
}

func (t *memTx) MovementsByDocument(_ context.Context, id string) ([]ledger.Movement, error) {
	var out []ledger.Movement
	for _, m := range t.state.movements {
		if m.DocumentID == id {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	known map[catalog.Key]bool
}

func newFakeCatalog() *fakeCatalog {
	c := &fakeCatalog{known: make(map[catalog.Key]bool)}
	for _, id := range []string{"S1", "S2"} {
		c.known[catalog.Key{Type: catalog.TypeStore, ID: id}] = true
	}
	for _, id := range []string{"HAMMER", "NAIL", "SAW"} {
		c.known[catalog.Key{Type: catalog.TypeItem, ID: id}] = true
	}
	c.known[catalog.Key{Type: catalog.TypeCustomer, ID: "C1"}] = true
	c.known[catalog.Key{Type: catalog.TypeSupplier, ID: "ACME"}] = true
	c.known[catalog.Key{Type: catalog.TypeBankAccount, ID: "BCA"}] = true
	c.known[catalog.Key{Type: catalog.TypeBankAccount, ID: "MANDIRI"}] = true
	return c
}

func (c *fakeCatalog) Missing(_ context.Context, keys []catalog.Key) ([]catalog.Key, error) {
	var missing []catalog.Key
	for _, k := range keys {
		if !c.known[k] {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}
