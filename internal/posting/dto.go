package posting

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hardware-ledger/internal/documents"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// DocumentRequest is the JSON draft accepted by the create and post
// endpoints.
type DocumentRequest struct {
	Kind            string        `json:"kind" validate:"required,oneof=sale_retail sale_wholesale purchase_order goods_receipt stock_transfer stock_adjustment sales_return purchase_return customer_payment supplier_payment bank_entry opening_stock"`
	CounterpartyRef string        `json:"counterparty_ref,omitempty" validate:"omitempty,max=80"`
	Header          HeaderRequest `json:"header"`
	Lines           []LineRequest `json:"lines" validate:"omitempty,max=500,dive"`
	OccurredAt      string        `json:"occurred_at,omitempty"`
	RequestID       string        `json:"request_id,omitempty" validate:"omitempty,max=128"`
}

// HeaderRequest carries the kind-specific header attributes.
type HeaderRequest struct {
	StoreID                string          `json:"store_id,omitempty" validate:"omitempty,max=64"`
	DestinationStoreID     string          `json:"destination_store_id,omitempty" validate:"omitempty,max=64"`
	PaymentStatus          string          `json:"payment_status,omitempty" validate:"omitempty,oneof=paid unpaid credit"`
	AdjustmentType         string          `json:"adjustment_type,omitempty" validate:"omitempty,max=32"`
	BankEntryType          string          `json:"bank_entry_type,omitempty" validate:"omitempty,max=32"`
	BankAccount            string          `json:"bank_account,omitempty" validate:"omitempty,max=64"`
	DestinationBankAccount string          `json:"destination_bank_account,omitempty" validate:"omitempty,max=64"`
	Amount                 decimal.Decimal `json:"amount"`
	ReferenceNo            string          `json:"reference_no,omitempty" validate:"omitempty,max=100"`
	Notes                  string          `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// LineRequest is one item line.
type LineRequest struct {
	TrackedEntityRef string          `json:"tracked_entity_ref" validate:"required,max=80"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Discount         decimal.Decimal `json:"discount"`
}

// ReverseRequest is the optional body of the reverse endpoint.
type ReverseRequest struct {
	RequestID string `json:"request_id,omitempty" validate:"omitempty,max=128"`
}

// Input converts the request into a draft input.
func (r DocumentRequest) Input() (documents.DraftInput, error) {
	occurredAt, err := parseOccurredAt(r.OccurredAt)
	if err != nil {
		return documents.DraftInput{}, shared.NewValidationError("invalid occurred_at", map[string]string{"occurred_at": err.Error()})
	}
	in := documents.DraftInput{
		Kind:            documents.Kind(r.Kind),
		CounterpartyRef: r.CounterpartyRef,
		Header: documents.Header{
			StoreID:                r.Header.StoreID,
			DestinationStoreID:     r.Header.DestinationStoreID,
			PaymentStatus:          documents.PaymentStatus(r.Header.PaymentStatus),
			AdjustmentType:         documents.AdjustmentType(strings.ToLower(r.Header.AdjustmentType)),
			BankEntryType:          documents.BankEntryType(strings.ToLower(r.Header.BankEntryType)),
			BankAccount:            r.Header.BankAccount,
			DestinationBankAccount: r.Header.DestinationBankAccount,
			Amount:                 r.Header.Amount,
			ReferenceNo:            r.Header.ReferenceNo,
			Notes:                  r.Header.Notes,
		},
		OccurredAt: occurredAt,
	}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, documents.Line{
			TrackedEntityRef: l.TrackedEntityRef,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			Discount:         l.Discount,
		})
	}
	return in, nil
}

func parseOccurredAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errInvalidDate
	}
	return t, nil
}
