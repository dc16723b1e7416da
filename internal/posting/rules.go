package posting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hardware-ledger/internal/catalog"
	"github.com/odyssey-erp/hardware-ledger/internal/documents"
	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// Derive returns the balance movements a document produces when posted.
// Only EntityRef and Delta are set; the engine fills in document metadata.
//
// Receivables and payables are positive when the counterparty owes us or we
// owe them. Purchase orders move nothing; their accrual happens on receipt.
func Derive(doc documents.Document) ([]ledger.Movement, error) {
	var out []ledger.Movement
	add := func(ref ledger.EntityRef, delta decimal.Decimal) {
		if !delta.IsZero() {
			out = append(out, ledger.Movement{EntityRef: ref, Delta: delta})
		}
	}
	h := doc.Header
	stock := func(storeID string, negative bool) {
		for _, l := range doc.Lines {
			qty := l.Quantity
			if negative {
				qty = qty.Neg()
			}
			add(ledger.StockRef(storeID, l.ItemID()), qty)
		}
	}
	party := doc.CounterpartyID()

	switch doc.Kind {
	case documents.KindGoodsReceipt:
		stock(h.StoreID, false)
		if h.PaymentStatus.Accrues() {
			add(ledger.SupplierRef(party), doc.TotalAmount)
		}
	case documents.KindSaleRetail, documents.KindSaleWholesale:
		stock(h.StoreID, true)
		if h.PaymentStatus.Accrues() {
			add(ledger.CustomerRef(party), doc.TotalAmount)
		}
	case documents.KindPurchaseReturn:
		stock(h.StoreID, true)
		add(ledger.SupplierRef(party), doc.TotalAmount.Neg())
	case documents.KindSalesReturn:
		stock(h.StoreID, false)
		add(ledger.CustomerRef(party), doc.TotalAmount.Neg())
	case documents.KindStockTransfer:
		for _, l := range doc.Lines {
			add(ledger.StockRef(h.StoreID, l.ItemID()), l.Quantity.Neg())
			add(ledger.StockRef(h.DestinationStoreID, l.ItemID()), l.Quantity)
		}
	case documents.KindStockAdjustment:
		increases, ok := h.AdjustmentType.Increases()
		if !ok {
			return nil, shared.NewValidationError("unknown adjustment type", map[string]string{"header.adjustment_type": string(h.AdjustmentType)})
		}
		stock(h.StoreID, !increases)
	case documents.KindOpeningStock:
		stock(h.StoreID, false)
	case documents.KindCustomerPayment:
		add(ledger.CustomerRef(party), h.Amount.Neg())
	case documents.KindSupplierPayment:
		add(ledger.SupplierRef(party), h.Amount.Neg())
	case documents.KindBankEntry:
		switch h.BankEntryType {
		case documents.BankDeposit, documents.BankInterest:
			add(ledger.BankAccountRef(h.BankAccount), h.Amount)
		case documents.BankWithdrawal, documents.BankCharge:
			add(ledger.BankAccountRef(h.BankAccount), h.Amount.Neg())
		case documents.BankTransfer:
			add(ledger.BankAccountRef(h.BankAccount), h.Amount.Neg())
			add(ledger.BankAccountRef(h.DestinationBankAccount), h.Amount)
		default:
			return nil, shared.NewValidationError("unknown bank entry type", map[string]string{"header.bank_entry_type": string(h.BankEntryType)})
		}
	case documents.KindPurchaseOrder:
	default:
		return nil, shared.NewValidationError(fmt.Sprintf("no posting rule for kind %q", doc.Kind), nil)
	}
	return out, nil
}

// ReferencedKeys lists the catalog entities a document names.
func ReferencedKeys(doc documents.Document) []catalog.Key {
	var keys []catalog.Key
	h := doc.Header
	if h.StoreID != "" {
		keys = append(keys, catalog.Key{Type: catalog.TypeStore, ID: h.StoreID})
	}
	if h.DestinationStoreID != "" {
		keys = append(keys, catalog.Key{Type: catalog.TypeStore, ID: h.DestinationStoreID})
	}
	for _, l := range doc.Lines {
		keys = append(keys, catalog.Key{Type: catalog.TypeItem, ID: l.ItemID()})
	}
	if party := doc.CounterpartyID(); party != "" {
		switch doc.Kind.Role() {
		case documents.RoleCustomer:
			keys = append(keys, catalog.Key{Type: catalog.TypeCustomer, ID: party})
		case documents.RoleSupplier:
			keys = append(keys, catalog.Key{Type: catalog.TypeSupplier, ID: party})
		}
	}
	if h.BankAccount != "" {
		keys = append(keys, catalog.Key{Type: catalog.TypeBankAccount, ID: h.BankAccount})
	}
	if h.DestinationBankAccount != "" {
		keys = append(keys, catalog.Key{Type: catalog.TypeBankAccount, ID: h.DestinationBankAccount})
	}
	return keys
}
