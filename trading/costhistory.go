/*
costhistory.go - Immutable landed-cost history

PURPOSE:
  One CostHistoryEntry per (purchase, product) pair, written exactly once
  on the invoice's first approval. The entry pins the landed cost that
  existed at that moment: purchase price, allocated expense share per
  unit, and the quantity it covered. Supplemental approval rounds change
  invoice totals but never rewrite history.

WHY WRITE-ONCE?
  Downstream costing (COGS, margins) must not drift when someone attaches
  a late freight bill. The late bill is visible on the invoice totals and
  on the payables side; the unit cost that stock was received at stays
  what it was.

PROVENANCE:
  Policy records which allocation strategy produced the entry ("uniform"
  or "value-weighted"), so a cost can always be traced to its formula.
*/
package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

type CostHistoryEntry struct {
	ID         string
	ProductID  ProductID
	PurchaseID InvoiceID
	CompanyID  CompanyID

	PurchasePrice    decimal.Decimal // unit price on the purchase line
	ExpensePerUnit   decimal.Decimal // allocated expense share per unit
	TotalCostPerUnit decimal.Decimal // PurchasePrice + ExpensePerUnit
	Quantity         decimal.Decimal

	Policy    string // name of the allocation strategy that produced this entry
	CreatedAt time.Time
}
