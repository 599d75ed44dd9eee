/*
receipt.go - Supplier payable receipts and outbox postings

PURPOSE:
  A PayableReceipt is the obligation this core creates toward a supplier:
  one MAIN_INVOICE receipt for the invoice's own total, plus one EXPENSE
  receipt per actual expense row with a supplier attached. Receipts start
  PENDING; every later status transition belongs to the external payment
  workflow.

REFERENTIAL GUARD:
  An invoice cannot be deleted while any of its receipts has left PENDING.
  Once money moved, the purchase is no longer reversible here.

OUTBOX:
  PendingPosting rows mirror receipts into the supplier payable ledger.
  They are written inside the approval transaction and drained by a retry
  worker, so a ledger outage can delay but never lose a posting.
*/
package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYABLE RECEIPT
// =============================================================================

type ReceiptKind string

const (
	ReceiptMainInvoice ReceiptKind = "main_invoice"
	ReceiptExpense     ReceiptKind = "expense"
)

type ReceiptStatus string

const (
	ReceiptPending ReceiptStatus = "pending"
	ReceiptPartial ReceiptStatus = "partial" // set by the external payment workflow
	ReceiptSettled ReceiptStatus = "settled" // set by the external payment workflow
)

type PayableReceipt struct {
	ID         ReceiptID
	InvoiceID  InvoiceID
	ExpenseID  ExpenseID // empty for MAIN_INVOICE receipts
	SupplierID SupplierID
	Amount     decimal.Decimal // original currency of the obligation
	Currency   Currency
	Kind       ReceiptKind
	Status     ReceiptStatus
	CreatedAt  time.Time
}

// =============================================================================
// OUTBOX POSTING
// =============================================================================

type PostingStatus string

const (
	PostingPending PostingStatus = "pending"
	PostingPosted  PostingStatus = "posted"
	PostingFailed  PostingStatus = "failed" // retry budget exhausted
)

// Reference types carried on ledger postings.
const (
	RefPurchaseInvoice = "purchase_invoice"
	RefPurchaseExpense = "purchase_expense"
)

// PendingPosting is one queued CREDIT posting to the supplier payable
// ledger. Written in the same transaction as the receipt it mirrors.
type PendingPosting struct {
	ID            string
	SupplierID    SupplierID
	Amount        decimal.Decimal
	Currency      Currency
	ReferenceType string // RefPurchaseInvoice | RefPurchaseExpense
	ReferenceID   string // invoice id or expense id
	Description   string
	Date          time.Time

	Attempts int
	Status   PostingStatus
}
