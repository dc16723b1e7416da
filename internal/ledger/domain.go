package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType is the balance family an entity ref belongs to.
type EntityType string

const (
	EntityStock       EntityType = "stock"
	EntityCustomer    EntityType = "customer"
	EntitySupplier    EntityType = "supplier"
	EntityBankAccount EntityType = "bank_account"
)

// ErrInvalidEntityRef is returned by ParseEntityRef.
var ErrInvalidEntityRef = errors.New("invalid entity ref")

// EntityRef identifies one balance, e.g. "stock:S1/HAMMER" or "customer:C9".
type EntityRef string

// StockRef builds the ref for an item held at a store.
func StockRef(storeID, itemID string) EntityRef {
	return EntityRef(string(EntityStock) + ":" + storeID + "/" + itemID)
}

// CustomerRef builds a customer balance ref.
func CustomerRef(id string) EntityRef { return EntityRef(string(EntityCustomer) + ":" + id) }

// SupplierRef builds a supplier balance ref.
func SupplierRef(id string) EntityRef { return EntityRef(string(EntitySupplier) + ":" + id) }

// BankAccountRef builds a bank account balance ref.
func BankAccountRef(id string) EntityRef { return EntityRef(string(EntityBankAccount) + ":" + id) }

// ParseEntityRef validates raw and returns it as an EntityRef.
func ParseEntityRef(raw string) (EntityRef, error) {
	prefix, id, ok := strings.Cut(raw, ":")
	if !ok || id == "" || strings.ContainsAny(id, " \t\n:") {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityRef, raw)
	}
	switch EntityType(prefix) {
	case EntityStock:
		store, item, ok := strings.Cut(id, "/")
		if !ok || store == "" || item == "" || strings.Contains(item, "/") {
			return "", fmt.Errorf("%w: stock ref must be stock:<store>/<item>, got %q", ErrInvalidEntityRef, raw)
		}
	case EntityCustomer, EntitySupplier, EntityBankAccount:
		if strings.Contains(id, "/") {
			return "", fmt.Errorf("%w: %q", ErrInvalidEntityRef, raw)
		}
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidEntityRef, prefix)
	}
	return EntityRef(raw), nil
}

// Type returns the family prefix of the ref.
func (r EntityRef) Type() EntityType {
	prefix, _, _ := strings.Cut(string(r), ":")
	return EntityType(prefix)
}

// ID returns the part after the type prefix.
func (r EntityRef) ID() string {
	_, id, _ := strings.Cut(string(r), ":")
	return id
}

// StockParts splits a stock ref into store and item ids.
func (r EntityRef) StockParts() (storeID, itemID string, ok bool) {
	if r.Type() != EntityStock {
		return "", "", false
	}
	return strings.Cut(r.ID(), "/")
}

func (r EntityRef) String() string { return string(r) }

// Movement is one immutable signed change to an entity balance.
type Movement struct {
	ID             string          `json:"id"`
	EntityRef      EntityRef       `json:"entity_ref"`
	Delta          decimal.Decimal `json:"delta"`
	DocumentID     string          `json:"document_id"`
	DocumentKind   string          `json:"document_kind"`
	DocumentNumber string          `json:"document_number"`
	PostedAt       time.Time       `json:"posted_at"`
}

// Projection is the materialized current balance of an entity.
type Projection struct {
	EntityRef   EntityRef       `json:"entity_ref"`
	Balance     decimal.Decimal `json:"balance"`
	LastUpdated time.Time       `json:"last_updated"`
}

// MovementFilter narrows a movement history query.
type MovementFilter struct {
	EntityRef EntityRef
	From      time.Time
	To        time.Time
	Limit     int
}

// Reconciliation compares a projection with the sum of its movements.
type Reconciliation struct {
	EntityRef     EntityRef       `json:"entity_ref"`
	Projected     decimal.Decimal `json:"projected"`
	Recomputed    decimal.Decimal `json:"recomputed"`
	Drift         decimal.Decimal `json:"drift"`
	MovementCount int64           `json:"movement_count"`
	CheckedAt     time.Time       `json:"checked_at"`
}

// InSync reports whether projection and movement sum agree.
func (r Reconciliation) InSync() bool { return r.Drift.IsZero() }

// Report summarizes a full reconciliation pass.
type Report struct {
	Checked    int              `json:"checked"`
	Drifted    []Reconciliation `json:"drifted"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}
