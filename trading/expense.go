/*
expense.go - Expense rows attached to a purchase invoice

PURPOSE:
  An expense row is a shared acquisition cost (freight, customs, handling)
  attached to an invoice by an approval round. Rows are append-only: a
  round appends a batch, a delete retracts a whole row, nothing is edited.

ACTUAL vs VIRTUAL:
  IsActual distinguishes a real payable obligation (freight company must
  be paid) from an estimated cost used only to influence unit cost (e.g.
  anticipated customs duty). Virtual rows are folded into TotalExpenses
  and therefore into landed cost, but never produce a receipt or a
  supplier ledger posting.

CURRENCY:
  Each row carries its own exchange rate into the invoice currency,
  supplied by the caller and defaulting to 1. The converted amount is
  fixed at creation; rates are never fetched or re-applied later.
*/
package trading

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// EXPENSE ITEM
// =============================================================================

type ExpenseItem struct {
	ID         ExpenseID
	InvoiceID  InvoiceID
	CategoryID string
	SupplierID SupplierID // required only when IsActual

	Amount       decimal.Decimal // original currency
	Currency     Currency
	ExchangeRate decimal.Decimal // into the invoice currency
	// ConvertedAmount = Amount x ExchangeRate, fixed at creation.
	ConvertedAmount decimal.Decimal

	IsActual  bool
	CreatedAt time.Time
}

// ExpenseInput is the caller-supplied shape of one expense row in an
// approval request, before validation and conversion.
type ExpenseInput struct {
	CategoryID   string
	SupplierID   SupplierID
	Amount       decimal.Decimal
	Currency     Currency
	ExchangeRate decimal.Decimal // zero means 1.0
	IsActual     bool
}

// Validate rejects malformed rows before any mutation happens.
func (in ExpenseInput) Validate() error {
	if in.CategoryID == "" {
		return &ValidationError{Field: "categoryId", Message: "expense category is required"}
	}
	if !in.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "expense amount must be positive"}
	}
	if in.ExchangeRate.IsNegative() {
		return &ValidationError{Field: "exchangeRate", Message: "exchange rate must not be negative"}
	}
	if in.IsActual && in.SupplierID == "" {
		return &ValidationError{Field: "supplierId", Message: "actual expense requires a supplier"}
	}
	return nil
}

// NewExpenseItem materializes a validated input against an invoice,
// fixing the converted amount in the invoice currency.
func NewExpenseItem(invoiceID InvoiceID, invoiceCurrency Currency, in ExpenseInput, now time.Time) ExpenseItem {
	rate := in.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	currency := in.Currency
	if currency == "" {
		currency = invoiceCurrency
	}
	return ExpenseItem{
		ID:              ExpenseID(uuid.NewString()),
		InvoiceID:       invoiceID,
		CategoryID:      in.CategoryID,
		SupplierID:      in.SupplierID,
		Amount:          in.Amount,
		Currency:        currency,
		ExchangeRate:    rate,
		ConvertedAmount: in.Amount.Mul(rate),
		IsActual:        in.IsActual,
		CreatedAt:       now,
	}
}
