package documents

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// DraftInput is the caller-supplied part of a document.
type DraftInput struct {
	Kind            Kind      `json:"kind"`
	CounterpartyRef string    `json:"counterparty_ref,omitempty"`
	Header          Header    `json:"header"`
	Lines           []Line    `json:"lines"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Build normalizes and validates in and returns a draft document with the
// given id and author.
func (in DraftInput) Build(id, actor string, now time.Time) (Document, error) {
	doc := Document{
		ID:              id,
		Kind:            in.Kind,
		Status:          StatusDraft,
		CounterpartyRef: in.CounterpartyRef,
		Header:          in.Header,
		Lines:           append([]Line(nil), in.Lines...),
		OccurredAt:      in.OccurredAt,
		CreatedBy:       actor,
		CreatedAt:       now,
	}
	if doc.OccurredAt.IsZero() {
		doc.OccurredAt = now
	}
	Normalize(&doc)
	if err := Validate(doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Normalize trims identifiers, applies defaults, numbers lines and computes
// line nets and the document total.
func Normalize(d *Document) {
	d.CounterpartyRef = strings.TrimSpace(d.CounterpartyRef)
	h := &d.Header
	h.StoreID = strings.TrimSpace(h.StoreID)
	h.DestinationStoreID = strings.TrimSpace(h.DestinationStoreID)
	h.BankAccount = strings.TrimSpace(h.BankAccount)
	h.DestinationBankAccount = strings.TrimSpace(h.DestinationBankAccount)
	if h.PaymentStatus == "" && d.Kind.Role() != RoleNone && !d.Kind.IsMoney() {
		h.PaymentStatus = PaymentPaid
	}

	total := decimal.Zero
	for i := range d.Lines {
		l := &d.Lines[i]
		l.LineNo = i + 1
		l.TrackedEntityRef = strings.TrimSpace(l.TrackedEntityRef)
		l.NetAmount = l.Quantity.Mul(l.UnitPrice).Sub(l.Discount)
		total = total.Add(l.NetAmount)
	}
	if d.Kind.IsMoney() {
		total = h.Amount
	}
	d.TotalAmount = total
}

// ItemID returns the catalog item named by the line, accepting both "HAMMER"
// and "item:HAMMER".
func (l Line) ItemID() string {
	return strings.TrimPrefix(l.TrackedEntityRef, "item:")
}

// CounterpartyID returns the bare counterparty id, accepting an optional
// "customer:" or "supplier:" prefix matching the kind's role.
func (d Document) CounterpartyID() string {
	prefix, id, ok := strings.Cut(d.CounterpartyRef, ":")
	if ok && Role(prefix) == d.Kind.Role() {
		return id
	}
	return d.CounterpartyRef
}

// Validate checks d against the rules of its kind. The error is a
// *shared.ValidationError listing every problem found.
func Validate(d Document) error {
	details := map[string]string{}
	spec, ok := kindSpecs[d.Kind]
	if !ok {
		return shared.NewValidationError("unknown document kind", map[string]string{"kind": fmt.Sprintf("unsupported value %q", d.Kind)})
	}
	h := d.Header
	if d.OccurredAt.IsZero() {
		details["occurred_at"] = "required"
	}

	if spec.itemLines {
		validateLines(d.Lines, details)
	}
	if spec.money {
		if len(d.Lines) > 0 {
			details["lines"] = "not allowed for " + string(d.Kind)
		}
		if !h.Amount.IsPositive() {
			details["header.amount"] = "must be positive"
		}
	}
	if spec.needsStore && h.StoreID == "" {
		details["header.store_id"] = "required"
	}
	if strings.ContainsAny(h.StoreID+h.DestinationStoreID, "/: ") {
		details["header.store_id"] = "must not contain '/', ':' or spaces"
	}

	switch h.PaymentStatus {
	case "", PaymentPaid, PaymentUnpaid, PaymentCredit:
	default:
		details["header.payment_status"] = "must be paid, unpaid or credit"
	}

	switch d.Kind {
	case KindStockTransfer:
		switch {
		case h.DestinationStoreID == "":
			details["header.destination_store_id"] = "required"
		case h.DestinationStoreID == h.StoreID:
			details["header.destination_store_id"] = "must differ from store_id"
		}
	case KindStockAdjustment:
		if _, ok := h.AdjustmentType.Increases(); !ok {
			details["header.adjustment_type"] = "must be one of increase, found, decrease, damage, damaged, loss, deduction"
		}
	case KindBankEntry:
		validateBankEntry(h, details)
	}

	validateCounterparty(d, details)

	if len(details) > 0 {
		return shared.NewValidationError("document is invalid", details)
	}
	return nil
}

func validateLines(lines []Line, details map[string]string) {
	if len(lines) == 0 {
		details["lines"] = "at least one line is required"
		return
	}
	for i, l := range lines {
		field := fmt.Sprintf("lines[%d]", i)
		item := l.ItemID()
		if item == "" {
			details[field+".tracked_entity_ref"] = "required"
		} else if strings.ContainsAny(item, "/: ") {
			details[field+".tracked_entity_ref"] = "must be an item id"
		}
		if !l.Quantity.IsPositive() {
			details[field+".quantity"] = "must be positive"
		}
		if l.UnitPrice.IsNegative() {
			details[field+".unit_price"] = "must not be negative"
		}
		if l.Discount.IsNegative() {
			details[field+".discount"] = "must not be negative"
		} else if l.Discount.GreaterThan(l.Quantity.Mul(l.UnitPrice)) {
			details[field+".discount"] = "exceeds line gross amount"
		}
	}
}

func validateBankEntry(h Header, details map[string]string) {
	if h.BankAccount == "" {
		details["header.bank_account"] = "required"
	}
	switch h.BankEntryType {
	case BankDeposit, BankInterest, BankWithdrawal, BankCharge:
	case BankTransfer:
		switch {
		case h.DestinationBankAccount == "":
			details["header.destination_bank_account"] = "required for transfers"
		case h.DestinationBankAccount == h.BankAccount:
			details["header.destination_bank_account"] = "must differ from bank_account"
		}
	default:
		details["header.bank_entry_type"] = "must be one of deposit, interest, withdrawal, charge, transfer"
	}
}

func validateCounterparty(d Document, details map[string]string) {
	role := d.Kind.Role()
	ref := d.CounterpartyRef
	if role == RoleNone {
		if ref != "" {
			details["counterparty_ref"] = "not applicable to " + string(d.Kind)
		}
		return
	}
	if prefix, _, ok := strings.Cut(ref, ":"); ok && Role(prefix) != role {
		details["counterparty_ref"] = "must reference a " + string(role)
		return
	}
	id := d.CounterpartyID()
	if strings.ContainsAny(id, "/: ") {
		details["counterparty_ref"] = "must be a " + string(role) + " id"
		return
	}
	required := false
	switch d.Kind {
	case KindCustomerPayment, KindSupplierPayment, KindSalesReturn, KindPurchaseReturn:
		required = true
	case KindSaleRetail, KindSaleWholesale, KindGoodsReceipt:
		required = d.Header.PaymentStatus.Accrues()
	}
	if required && id == "" {
		details["counterparty_ref"] = "required for " + string(d.Kind)
	}
}
