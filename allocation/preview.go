/*
preview.go - Read-only value-weighted cost preview

PURPOSE:
  Reporting wants to answer "what would the unit cost look like if
  expenses were distributed by value instead of by quantity, possibly at
  a different exchange rate". The preview computes exactly that and
  persists nothing. If a user decides to adopt a previewed cost as the
  product's current cost, that is a separate, explicit commit action -
  decoupled from cost history, which keeps recording what the approval
  actually did.
*/
package allocation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-core/trading"
)

// =============================================================================
// PREVIEW
// =============================================================================

// LinePreview is the value-weighted what-if cost of one invoice line.
type LinePreview struct {
	ProductID    trading.ProductID
	Qty          decimal.Decimal
	ValueInBase  decimal.Decimal // line subtotal at the preview rate
	ValuePercent decimal.Decimal // share of invoice value, 0-100
	ExpenseShare decimal.Decimal
	CostPerUnit  decimal.Decimal
}

// Preview computes the value-weighted distribution of the invoice's
// current expense total. The override rate rescales line values for the
// what-if only; a zero rate means 1. Nothing is persisted.
func (e *Engine) Preview(ctx context.Context, invoiceID trading.InvoiceID, overrideRate decimal.Decimal) ([]LinePreview, error) {
	inv, err := e.Store.Invoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return PreviewInvoice(inv, overrideRate)
}

// PreviewInvoice is the pure computation behind Preview.
func PreviewInvoice(inv *trading.PurchaseInvoice, overrideRate decimal.Decimal) ([]LinePreview, error) {
	rate := overrideRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	if rate.IsNegative() {
		return nil, &trading.ValidationError{Field: "exchangeRate", Message: "override rate must not be negative"}
	}

	totalInBase := inv.Total.Mul(rate)
	if !totalInBase.IsPositive() {
		return nil, &trading.ValidationError{Field: "total", Message: "invoice total must be positive to preview"}
	}

	hundred := decimal.NewFromInt(100)
	previews := make([]LinePreview, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		if !line.Qty.IsPositive() {
			return nil, &trading.ValidationError{Field: "lines", Message: "line quantity must be positive"}
		}
		valueInBase := line.SubTotal.Mul(rate)
		percent := valueInBase.Div(totalInBase).Mul(hundred)
		share := percent.Div(hundred).Mul(inv.TotalExpenses)
		previews = append(previews, LinePreview{
			ProductID:    line.ProductID,
			Qty:          line.Qty,
			ValueInBase:  valueInBase,
			ValuePercent: percent,
			ExpenseShare: share,
			CostPerUnit:  valueInBase.Add(share).Div(line.Qty),
		})
	}
	return previews, nil
}

// CommitCost writes a unit cost to the product's current-cost field. This
// is the only write path for Product.Cost and is always an explicit user
// action, never a side effect of approval or preview.
func (e *Engine) CommitCost(ctx context.Context, productID trading.ProductID, cost decimal.Decimal) error {
	if cost.IsNegative() {
		return &trading.ValidationError{Field: "cost", Message: "cost must not be negative"}
	}
	if _, err := e.Store.Product(ctx, productID); err != nil {
		return err
	}
	if err := e.Store.UpdateProductCost(ctx, productID, cost); err != nil {
		return err
	}
	e.log.Info().Str("product", string(productID)).Str("cost", cost.String()).Msg("product cost committed")
	return nil
}
