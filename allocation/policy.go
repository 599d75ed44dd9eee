/*
Package allocation implements landed-cost allocation over purchase invoices.

PURPOSE:
  When an invoice is approved, its shared acquisition expenses (freight,
  customs, handling) are distributed across the line items to derive the
  true per-unit cost of the received stock.

TWO STRATEGIES, ON PURPOSE:
  The platform carries two allocation formulas that are NOT equivalent:

  uniform (approval time):
      expensePerUnit = totalExpenses / sum(line.qty)
      costPerUnit_i  = unitPrice_i + expensePerUnit

  value-weighted (reporting previews):
      share_i       = subTotal_i / invoiceTotal * totalExpenses
      costPerUnit_i = (subTotal_i + share_i) / qty_i

  With two lines of equal value but different quantities the results
  diverge. Whether that divergence is a feature (fast approval vs precise
  preview) or a defect is an open product question; this package keeps
  both behind one AllocationPolicy interface and records on every cost
  history entry which strategy produced it, so nothing is silently
  unified.

SEE ALSO:
  - engine.go: the approval workflow that consumes a policy
  - preview.go: the read-only value-weighted what-if computation
*/
package allocation

import (
	"github.com/shopspring/decimal"

	"github.com/warp/trade-core/trading"
)

// =============================================================================
// ALLOCATION POLICY
// =============================================================================

// LineCost is the allocated landed cost of one invoice line.
type LineCost struct {
	ProductID        trading.ProductID
	Qty              decimal.Decimal
	PurchasePrice    decimal.Decimal
	ExpensePerUnit   decimal.Decimal
	TotalCostPerUnit decimal.Decimal
}

// AllocationPolicy distributes a converted expense total across the lines
// of an invoice.
type AllocationPolicy interface {
	// Name identifies the strategy; it is persisted on every cost history
	// entry the strategy produces.
	Name() string

	Allocate(inv *trading.PurchaseInvoice, totalExpenses decimal.Decimal) ([]LineCost, error)
}

// =============================================================================
// UNIFORM - quantity-weighted, used at approval time
// =============================================================================

// Uniform spreads the expense total evenly over every received unit,
// regardless of line value. A cheap unit absorbs the same freight share
// as an expensive one.
type Uniform struct{}

func (Uniform) Name() string { return PolicyUniform }

func (Uniform) Allocate(inv *trading.PurchaseInvoice, totalExpenses decimal.Decimal) ([]LineCost, error) {
	totalQty := inv.TotalQty()
	if !totalQty.IsPositive() {
		return nil, &trading.ValidationError{Field: "lines", Message: "invoice has no quantity to allocate over"}
	}

	perUnit := totalExpenses.Div(totalQty)
	costs := make([]LineCost, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		costs = append(costs, LineCost{
			ProductID:        line.ProductID,
			Qty:              line.Qty,
			PurchasePrice:    line.UnitPrice,
			ExpensePerUnit:   perUnit,
			TotalCostPerUnit: line.UnitPrice.Add(perUnit),
		})
	}
	return costs, nil
}

// =============================================================================
// VALUE-WEIGHTED - value-proportional, used for reporting previews
// =============================================================================

// ValueWeighted distributes the expense total in proportion to each line's
// share of the invoice value. Expensive lines absorb more of the freight.
type ValueWeighted struct{}

func (ValueWeighted) Name() string { return PolicyValueWeighted }

func (ValueWeighted) Allocate(inv *trading.PurchaseInvoice, totalExpenses decimal.Decimal) ([]LineCost, error) {
	if !inv.Total.IsPositive() {
		return nil, &trading.ValidationError{Field: "total", Message: "invoice total must be positive for value-weighted allocation"}
	}

	costs := make([]LineCost, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		if !line.Qty.IsPositive() {
			return nil, &trading.ValidationError{Field: "lines", Message: "line quantity must be positive"}
		}
		share := line.SubTotal.Div(inv.Total).Mul(totalExpenses)
		perUnit := share.Div(line.Qty)
		costs = append(costs, LineCost{
			ProductID:        line.ProductID,
			Qty:              line.Qty,
			PurchasePrice:    line.UnitPrice,
			ExpensePerUnit:   perUnit,
			TotalCostPerUnit: line.SubTotal.Add(share).Div(line.Qty),
		})
	}
	return costs, nil
}
