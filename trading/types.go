/*
Package trading contains the core domain model of the trading platform:
purchase invoices, expense items, payable receipts, cost history, stock
counters and raw inventory movements.

PURPOSE:
  This package is the shared vocabulary for the allocation engine, the
  payables outbox and the inventory reconstructor. It holds types and the
  persistence contract, but no business workflows — those live in the
  allocation, payables and inventory packages.

DESIGN PRINCIPLES:
  1. Precision: all money and quantity math uses decimal.Decimal.
     No float64 ever touches a monetary amount.
  2. Type safety: strong typing for identifiers prevents mixing a
     product id with a company id.
  3. Immutability where it matters: expense rows, receipts, cost history
     and movements are append-only records. Corrections are modelled as
     explicit retractions, not edits.

SEE ALSO:
  - invoice.go: the purchase invoice aggregate and its state machine
  - store.go: persistence contract (Store / TxStore)
  - errors.go: error taxonomy
*/
package trading

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID string
type SupplierID string
type ProductID string
type InvoiceID string
type ExpenseID string
type ReceiptID string

// =============================================================================
// CURRENCY & MONEY
// =============================================================================

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// Amounts travel as bare decimal.Decimal next to a Currency field.
// Amounts in different currencies are never added together; conversion
// happens explicitly via an exchange rate supplied by the caller
// (see NewExpenseItem).

// MustDecimal parses a decimal literal in tests and seed code.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
