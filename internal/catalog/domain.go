package catalog

import (
	"fmt"
	"time"
)

// EntityType enumerates the kinds of things a posting can reference.
type EntityType string

const (
	TypeItem        EntityType = "item"
	TypeStore       EntityType = "store"
	TypeCustomer    EntityType = "customer"
	TypeSupplier    EntityType = "supplier"
	TypeBankAccount EntityType = "bank_account"
)

// ParseEntityType validates a path or payload value.
func ParseEntityType(raw string) (EntityType, error) {
	switch t := EntityType(raw); t {
	case TypeItem, TypeStore, TypeCustomer, TypeSupplier, TypeBankAccount:
		return t, nil
	}
	return "", fmt.Errorf("unknown entity type %q", raw)
}

// Entity is a registered item, store, counterparty or bank account.
type Entity struct {
	Type       EntityType        `json:"type"`
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Active     bool              `json:"active"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Key addresses one entity.
type Key struct {
	Type EntityType
	ID   string
}

func (k Key) String() string {
	return string(k.Type) + ":" + k.ID
}

// ListFilter narrows List results.
type ListFilter struct {
	Search     string
	ActiveOnly bool
	Page       int
	PerPage    int
}
