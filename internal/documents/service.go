package documents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Service manages drafts and document lookups.
type Service struct {
	repo   Repository
	cache  Cache
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewService constructs the document service. cache may be nil.
func NewService(repo Repository, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// CreateDraft validates in and stores it as a draft without a number.
func (s *Service) CreateDraft(ctx context.Context, in DraftInput, actor string) (Document, error) {
	doc, err := in.Build(uuid.NewString(), actor, s.now().UTC())
	if err != nil {
		return Document{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return tx.InsertDocument(ctx, doc)
	})
	if err != nil {
		return Document{}, fmt.Errorf("create draft: %w", err)
	}
	s.logger.InfoContext(ctx, "draft created",
		slog.String("document_id", doc.ID),
		slog.String("kind", string(doc.Kind)),
		slog.String("actor", actor))
	return doc, nil
}

// Get loads a document. Only voided documents are cached: a posted document
// can still be reversed, and a fill racing that reversal would pin the stale
// status. Concurrent misses share one database read.
func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	if s.cache != nil {
		doc, hit, err := s.cache.Get(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "document cache get", slog.String("document_id", id), slog.Any("error", err))
		} else if hit {
			return doc, nil
		}
	}
	// The shared read must not die with whichever caller started it.
	readCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(id, func() (any, error) {
		doc, err := s.repo.Get(readCtx, id)
		if err != nil {
			return Document{}, err
		}
		if s.cache != nil && doc.Status == StatusVoided {
			if err := s.cache.Set(readCtx, doc); err != nil {
				s.logger.WarnContext(readCtx, "document cache set", slog.String("document_id", id), slog.Any("error", err))
			}
		}
		return doc, nil
	})
	select {
	case <-ctx.Done():
		return Document{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Document{}, res.Err
		}
		return res.Val.(Document), nil
	}
}

// Invalidate drops id from the cache after its status changed.
func (s *Service) Invalidate(ctx context.Context, id string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, id)
}

// List returns a page of documents.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, int, error) {
	return s.repo.List(ctx, filter)
}
