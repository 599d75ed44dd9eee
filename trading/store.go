/*
store.go - Persistence contract for the trading core

PURPOSE:
  Defines the interface between domain logic and the database. One facade
  covers all record families the approval transaction touches, so a single
  WithTx callback can mutate invoices, expenses, receipts, cost history,
  stock and the posting outbox atomically.

APPEND-ONLY FAMILIES:
  Expenses, receipts, cost history, movements and outbox rows have no
  update methods; expenses and pending receipts can be retracted whole
  (DeleteExpense / DeleteReceipt), which is the modelled correction path.

IMPLEMENTATIONS:
  - store/memory: in-memory, snapshot-rollback WithTx (tests, dev)
  - store/sqlite: SQLite with WAL and a real transaction per WithTx
*/
package trading

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Persistence facade
// =============================================================================

type Store interface {
	// --- products ---
	CreateProduct(ctx context.Context, p *Product) error
	Product(ctx context.Context, id ProductID) (*Product, error)
	// UpdateProductCost is the explicit commit of a previewed unit cost.
	UpdateProductCost(ctx context.Context, id ProductID, cost decimal.Decimal) error

	// --- invoices ---
	CreateInvoice(ctx context.Context, inv *PurchaseInvoice) error
	Invoice(ctx context.Context, id InvoiceID) (*PurchaseInvoice, error)
	UpdateInvoice(ctx context.Context, inv *PurchaseInvoice) error
	DeleteInvoice(ctx context.Context, id InvoiceID) error
	// ApprovedInvoices returns approved invoices containing the product for
	// the company, ordered by approval time. Feeds the purchases movement
	// source of the ledger reconstructor.
	ApprovedInvoices(ctx context.Context, productID ProductID, companyID CompanyID) ([]*PurchaseInvoice, error)

	// --- expenses (append-only, whole-row retraction) ---
	AppendExpenses(ctx context.Context, items []ExpenseItem) error
	Expenses(ctx context.Context, invoiceID InvoiceID) ([]ExpenseItem, error)
	Expense(ctx context.Context, id ExpenseID) (*ExpenseItem, error)
	DeleteExpense(ctx context.Context, id ExpenseID) error

	// --- receipts ---
	AppendReceipts(ctx context.Context, receipts []PayableReceipt) error
	Receipts(ctx context.Context, invoiceID InvoiceID) ([]PayableReceipt, error)
	ReceiptsForExpense(ctx context.Context, expenseID ExpenseID) ([]PayableReceipt, error)
	DeleteReceipt(ctx context.Context, id ReceiptID) error

	// --- cost history (write-once per purchase+product) ---
	AppendCostHistory(ctx context.Context, entries []CostHistoryEntry) error
	// CostHistory returns entries most recent first. Empty companyID means
	// all companies; limit <= 0 means the implementation's default cap.
	CostHistory(ctx context.Context, productID ProductID, companyID CompanyID, limit int) ([]CostHistoryEntry, error)
	DeleteCostHistory(ctx context.Context, purchaseID InvoiceID) error

	// --- stock counters ---
	Stock(ctx context.Context, companyID CompanyID, productID ProductID) (decimal.Decimal, error)
	AddStock(ctx context.Context, companyID CompanyID, productID ProductID, delta decimal.Decimal) error

	// --- movements ---
	RecordMovement(ctx context.Context, m *Movement) error
	// Movements returns approved movements of one kind for a product,
	// unscoped by company; company scoping rules live in the ledger
	// sources (parent fulfillment, branch ownership).
	Movements(ctx context.Context, productID ProductID, kind MovementKind) ([]Movement, error)

	// --- payable posting outbox ---
	EnqueuePostings(ctx context.Context, postings []PendingPosting) error
	PendingPostings(ctx context.Context, limit int) ([]PendingPosting, error)
	MarkPosted(ctx context.Context, id string) error
	MarkPostingFailed(ctx context.Context, id string, attempts int, terminal bool) error
	// DeletePostingsForReference retracts not-yet-posted rows when their
	// originating expense or invoice is deleted. Returns rows removed.
	DeletePostingsForReference(ctx context.Context, referenceType, referenceID string) (int, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support. The approval flow requires
// it: expense rows, invoice totals, cost history, stock increment, receipts
// and outbox rows commit atomically or not at all.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
