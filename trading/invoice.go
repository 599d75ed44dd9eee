/*
invoice.go - The purchase invoice aggregate and its state machine

PURPOSE:
  A purchase invoice is created as a draft with immutable lines and no
  stock effect. A single first approval allocates expenses, writes cost
  history, increments stock and posts payables. Any number of supplemental
  approvals may follow, each attaching a further expense batch; those
  rounds grow the totals but never touch stock or cost history.

STATE MACHINE:
  StateDraft ──approve──> StateApproved
                             │
                             └─ supplemental rounds append ApprovalEvents

  The transition is monotonic: an approved invoice never reverts to draft.
  Each approval round (including the first) appends one ApprovalEvent, so
  the aggregate records *how* its totals were reached instead of mutating
  a lone boolean.

INVARIANT:
  FinalTotal == Total + TotalExpenses after every approval round,
  including supplemental ones and expense deletions.
*/
package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVOICE STATE
// =============================================================================

type InvoiceState string

const (
	StateDraft    InvoiceState = "draft"
	StateApproved InvoiceState = "approved"
)

// ApprovalEvent records one approval round: who triggered it, when, and
// the converted expense sum the round contributed to the invoice totals.
type ApprovalEvent struct {
	At            time.Time
	By            string
	ExpenseIDs    []ExpenseID
	ExpensesAdded decimal.Decimal // converted to the invoice currency
}

// =============================================================================
// PURCHASE LINE
// =============================================================================

// PurchaseLine is immutable once the invoice is created. Qty and UnitPrice
// are always expressed in stock units: when the product is sold by the box,
// the constructor unpacks the container so that allocation and stock math
// never see container quantities.
type PurchaseLine struct {
	ID        string
	ProductID ProductID
	Qty       decimal.Decimal // stock units
	UnitPrice decimal.Decimal // per stock unit, invoice currency
	SubTotal  decimal.Decimal // Qty x UnitPrice
}

// NewPurchaseLine builds a line from the quantity and price as entered,
// applying box-to-unit conversion when the product is containerized.
// The subtotal is identical either way: buying 3 boxes of 12 at 24/box
// costs the same as 36 units at 2/unit.
func NewPurchaseLine(id string, product *Product, qty, unitPrice decimal.Decimal) PurchaseLine {
	if product != nil && product.IsBoxed() {
		qty = qty.Mul(product.UnitsPerBox)
		unitPrice = unitPrice.Div(product.UnitsPerBox)
	}
	return PurchaseLine{
		ID:        id,
		ProductID: product.ID,
		Qty:       qty,
		UnitPrice: unitPrice,
		SubTotal:  qty.Mul(unitPrice),
	}
}

// =============================================================================
// PURCHASE INVOICE
// =============================================================================

type PurchaseInvoice struct {
	ID         InvoiceID
	CompanyID  CompanyID
	SupplierID SupplierID // empty when no supplier is attached

	// SourceCompanyID marks an inter-company purchase: stock bought from a
	// parent company's inventory rather than an external supplier.
	SourceCompanyID CompanyID

	Lines    []PurchaseLine // immutable once created
	Currency Currency

	Total         decimal.Decimal // sum of line subtotals, invoice currency
	TotalExpenses decimal.Decimal // cumulative converted expenses
	FinalTotal    decimal.Decimal // Total + TotalExpenses, maintained on every round

	State          InvoiceState
	ApprovalEvents []ApprovalEvent

	CreatedAt time.Time
}

func (inv *PurchaseInvoice) Approved() bool { return inv.State == StateApproved }

// TotalQty is the sum of line quantities in stock units. This is the
// denominator of the uniform expense allocation.
func (inv *PurchaseInvoice) TotalQty() decimal.Decimal {
	total := decimal.Zero
	for _, line := range inv.Lines {
		total = total.Add(line.Qty)
	}
	return total
}

// ApprovedAt returns the timestamp of the first approval round, zero if draft.
func (inv *PurchaseInvoice) ApprovedAt() time.Time {
	if len(inv.ApprovalEvents) == 0 {
		return time.Time{}
	}
	return inv.ApprovalEvents[0].At
}

// ApprovedBy returns the actor of the first approval round, empty if draft.
func (inv *PurchaseInvoice) ApprovedBy() string {
	if len(inv.ApprovalEvents) == 0 {
		return ""
	}
	return inv.ApprovalEvents[0].By
}

// ApplyApproval appends one approval round and folds its converted expense
// sum into the running totals. The first round flips the state; later
// rounds only grow the totals.
func (inv *PurchaseInvoice) ApplyApproval(ev ApprovalEvent) {
	inv.State = StateApproved
	inv.ApprovalEvents = append(inv.ApprovalEvents, ev)
	inv.TotalExpenses = inv.TotalExpenses.Add(ev.ExpensesAdded)
	inv.FinalTotal = inv.Total.Add(inv.TotalExpenses)
}

// ResetExpenseTotals recomputes TotalExpenses/FinalTotal from a surviving
// expense set, used after an expense row is deleted.
func (inv *PurchaseInvoice) ResetExpenseTotals(expenses []ExpenseItem) {
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(e.ConvertedAmount)
	}
	inv.TotalExpenses = total
	inv.FinalTotal = inv.Total.Add(total)
}
