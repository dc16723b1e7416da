package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Reader is the read side of the ledger store.
type Reader interface {
	GetProjection(ctx context.Context, ref EntityRef) (Projection, bool, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	Snapshot(ctx context.Context, ref EntityRef) (projected, recomputed decimal.Decimal, count int64, err error)
	Refs(ctx context.Context) ([]EntityRef, error)
}

// Service answers balance queries and runs reconciliation.
type Service struct {
	repo        Reader
	logger      *slog.Logger
	metrics     *Metrics
	concurrency int
	now         func() time.Time
}

// Option customises the Service.
type Option func(*Service)

// WithConcurrency bounds parallel reconciliations in ReconcileAll.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMetrics records reconciliation outcomes.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs the ledger service.
func NewService(repo Reader, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, logger: logger, concurrency: 4, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetBalance returns the projection of ref, zero when the entity has never moved.
func (s *Service) GetBalance(ctx context.Context, ref EntityRef) (Projection, error) {
	p, _, err := s.repo.GetProjection(ctx, ref)
	if err != nil {
		return Projection{}, fmt.Errorf("ledger: get balance %s: %w", ref, err)
	}
	return p, nil
}

// Movements returns the movement history of an entity.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	items, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ledger: movements %s: %w", filter.EntityRef, err)
	}
	return items, nil
}

// Reconcile recomputes the balance of ref from its movements and reports the
// difference to the projection. It never corrects the projection.
func (s *Service) Reconcile(ctx context.Context, ref EntityRef) (Reconciliation, error) {
	projected, recomputed, count, err := s.repo.Snapshot(ctx, ref)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("ledger: reconcile %s: %w", ref, err)
	}
	rec := Reconciliation{
		EntityRef:     ref,
		Projected:     projected,
		Recomputed:    recomputed,
		Drift:         projected.Sub(recomputed),
		MovementCount: count,
		CheckedAt:     s.now(),
	}
	if !rec.InSync() {
		s.logger.ErrorContext(ctx, "ledger drift detected",
			slog.String("entity_ref", string(ref)),
			slog.String("projected", projected.String()),
			slog.String("recomputed", recomputed.String()),
			slog.String("drift", rec.Drift.String()))
	}
	return rec, nil
}

// ReconcileAll reconciles every known entity with bounded concurrency.
func (s *Service) ReconcileAll(ctx context.Context) (Report, error) {
	report := Report{StartedAt: s.now()}
	refs, err := s.repo.Refs(ctx)
	if err != nil {
		return report, fmt.Errorf("ledger: list refs: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ref := range refs {
		g.Go(func() error {
			rec, err := s.Reconcile(gctx, ref)
			if err != nil {
				return err
			}
			mu.Lock()
			report.Checked++
			if !rec.InSync() {
				report.Drifted = append(report.Drifted, rec)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	report.FinishedAt = s.now()
	s.metrics.observe(report)
	s.logger.InfoContext(ctx, "ledger reconciliation finished",
		slog.Int("checked", report.Checked),
		slog.Int("drifted", len(report.Drifted)),
		slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}
