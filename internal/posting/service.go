package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hardware-ledger/internal/catalog"
	"github.com/odyssey-erp/hardware-ledger/internal/documents"
	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
	"github.com/odyssey-erp/hardware-ledger/internal/platform/db"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

const maxAttempts = 2

// EntityChecker reports catalog entities that do not exist or are inactive.
type EntityChecker interface {
	Missing(ctx context.Context, keys []catalog.Key) ([]catalog.Key, error)
}

// CacheInvalidator drops stale cached documents.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, id string) error
}

// Config tunes the engine.
type Config struct {
	AllowNegativeStock bool
	Timeout            time.Duration
}

// Draft is a document submitted for immediate posting.
type Draft struct {
	documents.DraftInput
	IdempotencyKey string
	Actor          string
}

// Result describes a posted document.
type Result struct {
	ID             string            `json:"id"`
	DocumentNumber string            `json:"document_number"`
	Kind           documents.Kind    `json:"kind"`
	Status         documents.Status  `json:"status"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	Replayed       bool              `json:"replayed"`
	ReversesID     string            `json:"reverses_id,omitempty"`
	Movements      []ledger.Movement `json:"movements,omitempty"`
}

// Service is the posting engine: it turns documents into ledger movements
// atomically.
type Service struct {
	store   Store
	catalog EntityChecker
	cache   CacheInvalidator
	logger  *slog.Logger
	metrics *Metrics
	cfg     Config
	now     func() time.Time
	newID   func() string
}

// Option customises the Service.
type Option func(*Service)

// WithCatalog enables entity existence checks.
func WithCatalog(c EntityChecker) Option { return func(s *Service) { s.catalog = c } }

// WithCacheInvalidator evicts cached documents whose status changed.
func WithCacheInvalidator(c CacheInvalidator) Option { return func(s *Service) { s.cache = c } }

// WithMetrics records posting outcomes.
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// NewService constructs the posting engine.
func NewService(store Store, logger *slog.Logger, cfg Config, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, logger: logger, cfg: cfg, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type requestFingerprint struct {
	Actor    string               `json:"actor"`
	Input    documents.DraftInput `json:"input,omitempty"`
	Reverses string               `json:"reverses,omitempty"`
}

// Post validates d, allocates its number, writes it as posted and applies its
// movements in one transaction.
func (s *Service) Post(ctx context.Context, d Draft) (Result, error) {
	start := s.now()
	res, err := s.post(ctx, d)
	s.record(ctx, "post", string(d.Kind), res, err, start)
	return res, err
}

func (s *Service) post(ctx context.Context, d Draft) (Result, error) {
	var hash string
	if d.IdempotencyKey != "" {
		var err error
		if hash, err = shared.RequestHash(requestFingerprint{Actor: d.Actor, Input: d.DraftInput}); err != nil {
			return Result{}, shared.NewValidationError("request cannot be fingerprinted", nil)
		}
	}
	doc, err := d.DraftInput.Build(s.newID(), d.Actor, s.now().UTC())
	if err != nil {
		return Result{}, err
	}
	doc.IdempotencyKey = d.IdempotencyKey
	doc.RequestHash = hash
	templates, err := Derive(doc)
	if err != nil {
		return Result{}, err
	}
	if err := s.checkCatalog(ctx, doc); err != nil {
		return Result{}, err
	}

	var res Result
	err = s.run(ctx, "post", func(ctx context.Context, tx Tx) error {
		if doc.IdempotencyKey != "" {
			existing, found, err := tx.Documents().FindByIdempotencyKey(ctx, doc.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				res, err = replay(existing, hash)
				return err
			}
		}
		number, err := tx.Documents().AllocateNumber(ctx, doc.Kind)
		if err != nil {
			return err
		}
		at := s.now().UTC()
		posted := doc
		posted.Number = number
		posted.Status = documents.StatusPosted
		posted.PostedAt = &at
		if err := tx.Documents().InsertDocument(ctx, posted); err != nil {
			return err
		}
		applied, err := s.apply(ctx, tx, posted, templates)
		if err != nil {
			return err
		}
		if err := tx.Audit(ctx, auditEntry("document.post", posted, applied)); err != nil {
			return err
		}
		res = resultOf(posted, applied)
		return nil
	})
	if errors.Is(err, documents.ErrDuplicateIdempotencyKey) {
		return s.replayByKey(ctx, doc.IdempotencyKey, hash)
	}
	return res, err
}

// PostDraft posts a stored draft. A draft is posted at most once.
func (s *Service) PostDraft(ctx context.Context, id, actor string) (Result, error) {
	start := s.now()
	var res Result
	kind := ""
	err := s.run(ctx, "post_draft", func(ctx context.Context, tx Tx) error {
		doc, err := tx.Documents().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		kind = string(doc.Kind)
		if doc.Status != documents.StatusDraft {
			return &shared.ConflictError{Message: fmt.Sprintf("document %s is %s, not a draft", id, doc.Status)}
		}
		if err := documents.Validate(doc); err != nil {
			return err
		}
		templates, err := Derive(doc)
		if err != nil {
			return err
		}
		if err := s.checkCatalog(ctx, doc); err != nil {
			return err
		}
		number, err := tx.Documents().AllocateNumber(ctx, doc.Kind)
		if err != nil {
			return err
		}
		at := s.now().UTC()
		if err := tx.Documents().MarkPosted(ctx, doc.ID, number, at); err != nil {
			return err
		}
		doc.Number = number
		doc.Status = documents.StatusPosted
		doc.PostedAt = &at
		applied, err := s.apply(ctx, tx, doc, templates)
		if err != nil {
			return err
		}
		entry := auditEntry("document.post", doc, applied)
		entry.ActorID = actor
		if err := tx.Audit(ctx, entry); err != nil {
			return err
		}
		res = resultOf(doc, applied)
		return nil
	})
	s.record(ctx, "post_draft", kind, res, err, start)
	return res, err
}

// Reverse posts a compensating document that negates every movement of the
// posted document id and marks the original voided. Reversals themselves
// cannot be reversed, and a document is reversed at most once.
func (s *Service) Reverse(ctx context.Context, id, actor, idempotencyKey string) (Result, error) {
	start := s.now()
	hash, err := shared.RequestHash(requestFingerprint{Actor: actor, Reverses: id})
	if err != nil {
		return Result{}, err
	}
	var res Result
	kind := ""
	err = s.run(ctx, "reverse", func(ctx context.Context, tx Tx) error {
		if idempotencyKey != "" {
			existing, found, err := tx.Documents().FindByIdempotencyKey(ctx, idempotencyKey)
			if err != nil {
				return err
			}
			if found {
				res, err = replay(existing, hash)
				return err
			}
		}
		orig, err := tx.Documents().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		kind = string(orig.Kind)
		switch {
		case orig.IsReversal():
			return &shared.ConflictError{Message: "reversal documents cannot be reversed"}
		case orig.Status == documents.StatusDraft:
			return &shared.ConflictError{Message: "drafts have no effects to reverse"}
		case orig.Status == documents.StatusVoided:
			return &shared.ConflictError{Message: fmt.Sprintf("document %s has already been reversed", orig.Number)}
		}
		originals, err := tx.Ledger().MovementsByDocument(ctx, orig.ID)
		if err != nil {
			return err
		}
		templates := make([]ledger.Movement, 0, len(originals))
		for _, m := range originals {
			templates = append(templates, ledger.Movement{EntityRef: m.EntityRef, Delta: m.Delta.Neg()})
		}

		number, err := tx.Documents().AllocateNumber(ctx, orig.Kind)
		if err != nil {
			return err
		}
		at := s.now().UTC()
		rev := orig
		rev.ID = s.newID()
		rev.Number = number
		rev.Status = documents.StatusPosted
		rev.OccurredAt = at
		rev.CreatedAt = at
		rev.CreatedBy = actor
		rev.PostedAt = &at
		rev.VoidedAt = nil
		rev.IdempotencyKey = idempotencyKey
		rev.RequestHash = hash
		rev.ReversesID = orig.ID
		rev.ReversedByID = ""
		if rev.Header.Notes == "" {
			rev.Header.Notes = "reversal of " + orig.Number
		}
		if err := tx.Documents().InsertDocument(ctx, rev); err != nil {
			return err
		}
		applied, err := s.apply(ctx, tx, rev, templates)
		if err != nil {
			return err
		}
		if err := tx.Documents().MarkVoided(ctx, orig.ID, rev.ID, at); err != nil {
			return err
		}
		if err := tx.Audit(ctx, auditEntry("document.reverse", rev, applied)); err != nil {
			return err
		}
		res = resultOf(rev, applied)
		return nil
	})
	if errors.Is(err, documents.ErrDuplicateIdempotencyKey) {
		res, err = s.replayByKey(ctx, idempotencyKey, hash)
	}
	if err == nil && !res.Replayed && s.cache != nil {
		if cerr := s.cache.Invalidate(ctx, id); cerr != nil {
			s.logger.WarnContext(ctx, "invalidate reversed document", slog.String("document_id", id), slog.Any("error", cerr))
		}
	}
	s.record(ctx, "reverse", kind, res, err, start)
	return res, err
}

// apply stamps the movement templates with the document, locks the affected
// balances, enforces the stock floor and writes the movements.
func (s *Service) apply(ctx context.Context, tx Tx, doc documents.Document, templates []ledger.Movement) ([]ledger.Movement, error) {
	if len(templates) == 0 {
		return nil, nil
	}
	movements := make([]ledger.Movement, len(templates))
	for i, m := range templates {
		movements[i] = ledger.Movement{
			EntityRef:      m.EntityRef,
			Delta:          m.Delta,
			DocumentID:     doc.ID,
			DocumentKind:   string(doc.Kind),
			DocumentNumber: doc.Number,
			PostedAt:       *doc.PostedAt,
		}
	}
	refs := ledger.SortedRefs(movements)
	balances, err := tx.Ledger().LockBalances(ctx, refs)
	if err != nil {
		return nil, err
	}
	if err := s.checkStock(refs, balances, ledger.NetDeltas(movements)); err != nil {
		return nil, err
	}
	if err := ledger.ApplyMovements(ctx, tx.Ledger(), movements); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Service) checkStock(refs []ledger.EntityRef, balances, net map[ledger.EntityRef]decimal.Decimal) error {
	if s.cfg.AllowNegativeStock {
		return nil
	}
	for _, ref := range refs {
		delta := net[ref]
		if ref.Type() != ledger.EntityStock || !delta.IsNegative() {
			continue
		}
		available := balances[ref]
		after := available.Add(delta)
		if after.IsNegative() {
			return &shared.InsufficientStockError{
				Entity:    string(ref),
				Available: available,
				Requested: delta.Neg(),
				Shortfall: after.Neg(),
			}
		}
	}
	return nil
}

func (s *Service) checkCatalog(ctx context.Context, doc documents.Document) error {
	if s.catalog == nil {
		return nil
	}
	missing, err := s.catalog.Missing(ctx, ReferencedKeys(doc))
	if err != nil {
		return &shared.StorageError{Op: "catalog lookup", Transient: db.IsTransient(err), Err: err}
	}
	if len(missing) == 0 {
		return nil
	}
	details := make(map[string]string, len(missing))
	for _, k := range missing {
		details[k.String()] = "unknown or inactive " + string(k.Type)
	}
	return shared.NewValidationError("document references unknown entities", details)
}

// run executes fn in a transaction under the posting timeout, retrying once
// on transient storage failures.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context, Tx) error) error {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.store.WithTx(ctx, fn)
		switch {
		case err == nil:
			return nil
		case isDomainError(err):
			return err
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return &shared.StorageError{Op: op, Err: shared.ErrTimeout}
		case ctx.Err() != nil:
			return &shared.StorageError{Op: op, Err: ctx.Err()}
		case !db.IsTransient(err):
			return &shared.StorageError{Op: op, Err: err}
		}
		if attempt < maxAttempts {
			s.metrics.retried()
			s.logger.WarnContext(ctx, "posting hit a transient storage failure, retrying",
				slog.String("operation", op),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		}
	}
	return &shared.StorageError{Op: op, Transient: true, Err: err}
}

func isDomainError(err error) bool {
	var (
		validation *shared.ValidationError
		stock      *shared.InsufficientStockError
		notFound   *shared.NotFoundError
		conflict   *shared.ConflictError
	)
	return errors.As(err, &validation) ||
		errors.As(err, &stock) ||
		errors.As(err, &notFound) ||
		errors.As(err, &conflict) ||
		errors.Is(err, documents.ErrDuplicateIdempotencyKey)
}

// replayByKey resolves a lost race on an idempotency key by reading the
// winner's document.
func (s *Service) replayByKey(ctx context.Context, key, hash string) (Result, error) {
	var res Result
	err := s.run(ctx, "replay", func(ctx context.Context, tx Tx) error {
		existing, found, err := tx.Documents().FindByIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return &shared.ConflictError{Message: "idempotency key is being used by another request"}
		}
		res, err = replay(existing, hash)
		return err
	})
	return res, err
}

func replay(existing documents.Document, hash string) (Result, error) {
	if existing.RequestHash != hash {
		return Result{}, &shared.ConflictError{Message: "idempotency key was already used with a different request"}
	}
	res := resultOf(existing, nil)
	res.Status = documents.StatusPosted
	res.Replayed = true
	return res, nil
}

func resultOf(doc documents.Document, applied []ledger.Movement) Result {
	return Result{
		ID:             doc.ID,
		DocumentNumber: doc.Number,
		Kind:           doc.Kind,
		Status:         doc.Status,
		TotalAmount:    doc.TotalAmount,
		ReversesID:     doc.ReversesID,
		Movements:      applied,
	}
}

func auditEntry(action string, doc documents.Document, applied []ledger.Movement) shared.AuditLog {
	return shared.AuditLog{
		ActorID:  doc.CreatedBy,
		Action:   action,
		Entity:   "document",
		EntityID: doc.ID,
		At:       *doc.PostedAt,
		Meta: map[string]any{
			"document_number": doc.Number,
			"kind":            string(doc.Kind),
			"total_amount":    doc.TotalAmount.String(),
			"movements":       len(applied),
			"reverses_id":     doc.ReversesID,
		},
	}
}

func (s *Service) record(ctx context.Context, op, kind string, res Result, err error, start time.Time) {
	outcome := "posted"
	switch {
	case err != nil:
		outcome = shared.ErrorKind(err)
	case res.Replayed:
		outcome = "replayed"
	}
	s.metrics.observe(op, kind, outcome, s.now().Sub(start))
	if err == nil {
		s.logger.InfoContext(ctx, "document posted",
			slog.String("operation", op),
			slog.String("document_id", res.ID),
			slog.String("document_number", res.DocumentNumber),
			slog.Bool("replayed", res.Replayed))
		return
	}
	level := slog.LevelInfo
	if outcome == shared.KindStorage {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "posting rejected",
		slog.String("operation", op),
		slog.String("kind", kind),
		slog.String("outcome", outcome),
		slog.Any("error", err))
}
