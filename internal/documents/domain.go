package documents

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the business document type.
type Kind string

const (
	KindSaleRetail      Kind = "sale_retail"
	KindSaleWholesale   Kind = "sale_wholesale"
	KindPurchaseOrder   Kind = "purchase_order"
	KindGoodsReceipt    Kind = "goods_receipt"
	KindStockTransfer   Kind = "stock_transfer"
	KindStockAdjustment Kind = "stock_adjustment"
	KindSalesReturn     Kind = "sales_return"
	KindPurchaseReturn  Kind = "purchase_return"
	KindCustomerPayment Kind = "customer_payment"
	KindSupplierPayment Kind = "supplier_payment"
	KindBankEntry       Kind = "bank_entry"
	KindOpeningStock    Kind = "opening_stock"
)

// Status is the document lifecycle state.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusPosted Status = "posted"
	StatusVoided Status = "voided"
)

// PaymentStatus controls whether sales and receipts accrue a balance.
type PaymentStatus string

const (
	PaymentPaid   PaymentStatus = "paid"
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentCredit PaymentStatus = "credit"
)

// Accrues reports whether the document leaves an open balance.
func (p PaymentStatus) Accrues() bool {
	return p == PaymentUnpaid || p == PaymentCredit
}

// AdjustmentType is the reason on a stock adjustment.
type AdjustmentType string

const (
	AdjustmentIncrease  AdjustmentType = "increase"
	AdjustmentFound     AdjustmentType = "found"
	AdjustmentDecrease  AdjustmentType = "decrease"
	AdjustmentDamage    AdjustmentType = "damage"
	AdjustmentDamaged   AdjustmentType = "damaged"
	AdjustmentLoss      AdjustmentType = "loss"
	AdjustmentDeduction AdjustmentType = "deduction"
)

// Increases reports whether the adjustment adds stock. ok is false for
// unknown types.
func (a AdjustmentType) Increases() (increases, ok bool) {
	switch a {
	case AdjustmentIncrease, AdjustmentFound:
		return true, true
	case AdjustmentDecrease, AdjustmentDamage, AdjustmentDamaged, AdjustmentLoss, AdjustmentDeduction:
		return false, true
	}
	return false, false
}

// BankEntryType is the movement type of a bank entry.
type BankEntryType string

const (
	BankDeposit    BankEntryType = "deposit"
	BankInterest   BankEntryType = "interest"
	BankWithdrawal BankEntryType = "withdrawal"
	BankCharge     BankEntryType = "charge"
	BankTransfer   BankEntryType = "transfer"
)

// Role is the counterparty family a kind settles against.
type Role string

const (
	RoleNone     Role = ""
	RoleCustomer Role = "customer"
	RoleSupplier Role = "supplier"
)

type kindSpec struct {
	prefix     string
	itemLines  bool
	money      bool
	needsStore bool
	role       Role
}

var kindSpecs = map[Kind]kindSpec{
	KindSaleRetail:      {prefix: "ORD", itemLines: true, needsStore: true, role: RoleCustomer},
	KindSaleWholesale:   {prefix: "SW", itemLines: true, needsStore: true, role: RoleCustomer},
	KindPurchaseOrder:   {prefix: "PO", itemLines: true, role: RoleSupplier},
	KindGoodsReceipt:    {prefix: "GRN", itemLines: true, needsStore: true, role: RoleSupplier},
	KindStockTransfer:   {prefix: "ST", itemLines: true, needsStore: true},
	KindStockAdjustment: {prefix: "SA", itemLines: true, needsStore: true},
	KindSalesReturn:     {prefix: "SR", itemLines: true, needsStore: true, role: RoleCustomer},
	KindPurchaseReturn:  {prefix: "PR", itemLines: true, needsStore: true, role: RoleSupplier},
	KindCustomerPayment: {prefix: "CP", money: true, role: RoleCustomer},
	KindSupplierPayment: {prefix: "SP", money: true, role: RoleSupplier},
	KindBankEntry:       {prefix: "BE", money: true},
	KindOpeningStock:    {prefix: "OS", itemLines: true, needsStore: true},
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// Prefix returns the document number prefix for k.
func (k Kind) Prefix() string { return kindSpecs[k].prefix }

// HasItemLines reports whether documents of this kind carry item lines.
func (k Kind) HasItemLines() bool { return kindSpecs[k].itemLines }

// IsMoney reports whether the kind moves an amount rather than items.
func (k Kind) IsMoney() bool { return kindSpecs[k].money }

// Role returns the counterparty family of k.
func (k Kind) Role() Role { return kindSpecs[k].role }

// Kinds lists every known kind.
func Kinds() []Kind {
	return []Kind{
		KindSaleRetail, KindSaleWholesale, KindPurchaseOrder, KindGoodsReceipt,
		KindStockTransfer, KindStockAdjustment, KindSalesReturn, KindPurchaseReturn,
		KindCustomerPayment, KindSupplierPayment, KindBankEntry, KindOpeningStock,
	}
}

// FormatNumber renders a document number such as GRN-0042.
func FormatNumber(k Kind, seq int64) string {
	return fmt.Sprintf("%s-%04d", k.Prefix(), seq)
}

// Header holds the kind-specific header attributes.
type Header struct {
	StoreID                string          `json:"store_id,omitempty"`
	DestinationStoreID     string          `json:"destination_store_id,omitempty"`
	PaymentStatus          PaymentStatus   `json:"payment_status,omitempty"`
	AdjustmentType         AdjustmentType  `json:"adjustment_type,omitempty"`
	BankEntryType          BankEntryType   `json:"bank_entry_type,omitempty"`
	BankAccount            string          `json:"bank_account,omitempty"`
	DestinationBankAccount string          `json:"destination_bank_account,omitempty"`
	Amount                 decimal.Decimal `json:"amount"`
	ReferenceNo            string          `json:"reference_no,omitempty"`
	Notes                  string          `json:"notes,omitempty"`
}

// Line is one item line. TrackedEntityRef names the catalog item; the store
// comes from the header.
type Line struct {
	LineNo           int             `json:"line_no"`
	TrackedEntityRef string          `json:"tracked_entity_ref"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Discount         decimal.Decimal `json:"discount"`
	NetAmount        decimal.Decimal `json:"net_amount"`
}

// Document is a business document and its lines.
type Document struct {
	ID              string          `json:"id"`
	Number          string          `json:"document_number,omitempty"`
	Kind            Kind            `json:"kind"`
	Status          Status          `json:"status"`
	CounterpartyRef string          `json:"counterparty_ref,omitempty"`
	Header          Header          `json:"header"`
	Lines           []Line          `json:"lines"`
	OccurredAt      time.Time       `json:"occurred_at"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	PostedAt        *time.Time      `json:"posted_at,omitempty"`
	VoidedAt        *time.Time      `json:"voided_at,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	RequestHash     string          `json:"-"`
	ReversesID      string          `json:"reverses_id,omitempty"`
	ReversedByID    string          `json:"reversed_by_id,omitempty"`
}

// IsReversal reports whether d compensates another document.
func (d Document) IsReversal() bool { return d.ReversesID != "" }

// ListFilter narrows document listings.
type ListFilter struct {
	Kind    Kind
	Status  Status
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}
