package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxStore is the transactional surface the posting engine drives. All calls
// on one TxStore belong to the same storage transaction.
type TxStore interface {
	// LockBalances ensures a projection row exists for each ref, locks them
	// in ascending ref order and returns their current balances.
	LockBalances(ctx context.Context, refs []EntityRef) (map[EntityRef]decimal.Decimal, error)
	InsertMovement(ctx context.Context, m Movement) error
	AddToBalance(ctx context.Context, ref EntityRef, delta decimal.Decimal, at time.Time) error
	MovementsByDocument(ctx context.Context, documentID string) ([]Movement, error)
}

// SortedRefs returns the distinct refs of movements in lock order.
func SortedRefs(movements []Movement) []EntityRef {
	seen := make(map[EntityRef]struct{}, len(movements))
	refs := make([]EntityRef, 0, len(movements))
	for _, m := range movements {
		if _, ok := seen[m.EntityRef]; ok {
			continue
		}
		seen[m.EntityRef] = struct{}{}
		refs = append(refs, m.EntityRef)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

// NetDeltas aggregates movement deltas per entity.
func NetDeltas(movements []Movement) map[EntityRef]decimal.Decimal {
	out := make(map[EntityRef]decimal.Decimal, len(movements))
	for _, m := range movements {
		out[m.EntityRef] = out[m.EntityRef].Add(m.Delta)
	}
	return out
}

// ApplyMovements appends each movement and moves its projection by the same
// delta. Callers must already hold the balance locks from LockBalances.
func ApplyMovements(ctx context.Context, tx TxStore, movements []Movement) error {
	for i := range movements {
		m := &movements[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.DocumentID == "" || m.DocumentNumber == "" {
			return fmt.Errorf("ledger: movement for %s has no document", m.EntityRef)
		}
		if err := tx.InsertMovement(ctx, *m); err != nil {
			return fmt.Errorf("ledger: insert movement %s: %w", m.EntityRef, err)
		}
		if err := tx.AddToBalance(ctx, m.EntityRef, m.Delta, m.PostedAt); err != nil {
			return fmt.Errorf("ledger: update projection %s: %w", m.EntityRef, err)
		}
	}
	return nil
}
