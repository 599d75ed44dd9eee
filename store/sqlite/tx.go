/*
tx.go - Database transactions

WithTx wraps one BEGIN/COMMIT. The txStore view routes every call to the
same statement helpers as the plain store, executed against *sql.Tx
instead of *sql.DB. Nested WithTx is not supported.
*/
package sqlite

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-core/trading"
)

// WithTx executes fn inside a single database transaction. Any error
// from fn rolls the transaction back and is returned unchanged.
func (s *Store) WithTx(ctx context.Context, fn func(trading.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore is the transactional trading.Store view.
type txStore struct {
	tx dbtx
}

func (t *txStore) CreateProduct(ctx context.Context, p *trading.Product) error {
	return createProduct(ctx, t.tx, p)
}

func (t *txStore) Product(ctx context.Context, id trading.ProductID) (*trading.Product, error) {
	return getProduct(ctx, t.tx, id)
}

func (t *txStore) UpdateProductCost(ctx context.Context, id trading.ProductID, cost decimal.Decimal) error {
	return updateProductCost(ctx, t.tx, id, cost)
}

func (t *txStore) CreateInvoice(ctx context.Context, inv *trading.PurchaseInvoice) error {
	return createInvoice(ctx, t.tx, inv)
}

func (t *txStore) Invoice(ctx context.Context, id trading.InvoiceID) (*trading.PurchaseInvoice, error) {
	return getInvoice(ctx, t.tx, id)
}

func (t *txStore) UpdateInvoice(ctx context.Context, inv *trading.PurchaseInvoice) error {
	return updateInvoice(ctx, t.tx, inv)
}

func (t *txStore) DeleteInvoice(ctx context.Context, id trading.InvoiceID) error {
	return deleteInvoice(ctx, t.tx, id)
}

func (t *txStore) ApprovedInvoices(ctx context.Context, productID trading.ProductID, companyID trading.CompanyID) ([]*trading.PurchaseInvoice, error) {
	return approvedInvoices(ctx, t.tx, productID, companyID)
}

func (t *txStore) AppendExpenses(ctx context.Context, items []trading.ExpenseItem) error {
	return appendExpenses(ctx, t.tx, items)
}

func (t *txStore) Expenses(ctx context.Context, invoiceID trading.InvoiceID) ([]trading.ExpenseItem, error) {
	return queryExpenses(ctx, t.tx, `WHERE invoice_id = ?`, invoiceID)
}

func (t *txStore) Expense(ctx context.Context, id trading.ExpenseID) (*trading.ExpenseItem, error) {
	items, err := queryExpenses(ctx, t.tx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, trading.ErrExpenseNotFound
	}
	return &items[0], nil
}

func (t *txStore) DeleteExpense(ctx context.Context, id trading.ExpenseID) error {
	return deleteExpense(ctx, t.tx, id)
}

func (t *txStore) AppendReceipts(ctx context.Context, receipts []trading.PayableReceipt) error {
	return appendReceipts(ctx, t.tx, receipts)
}

func (t *txStore) Receipts(ctx context.Context, invoiceID trading.InvoiceID) ([]trading.PayableReceipt, error) {
	return queryReceipts(ctx, t.tx, `WHERE invoice_id = ?`, invoiceID)
}

func (t *txStore) ReceiptsForExpense(ctx context.Context, expenseID trading.ExpenseID) ([]trading.PayableReceipt, error) {
	return queryReceipts(ctx, t.tx, `WHERE expense_id = ?`, expenseID)
}

func (t *txStore) DeleteReceipt(ctx context.Context, id trading.ReceiptID) error {
	return deleteReceipt(ctx, t.tx, id)
}

func (t *txStore) AppendCostHistory(ctx context.Context, entries []trading.CostHistoryEntry) error {
	return appendCostHistory(ctx, t.tx, entries)
}

func (t *txStore) CostHistory(ctx context.Context, productID trading.ProductID, companyID trading.CompanyID, limit int) ([]trading.CostHistoryEntry, error) {
	return costHistory(ctx, t.tx, productID, companyID, limit)
}

func (t *txStore) DeleteCostHistory(ctx context.Context, purchaseID trading.InvoiceID) error {
	return deleteCostHistory(ctx, t.tx, purchaseID)
}

func (t *txStore) Stock(ctx context.Context, companyID trading.CompanyID, productID trading.ProductID) (decimal.Decimal, error) {
	return getStock(ctx, t.tx, companyID, productID)
}

func (t *txStore) AddStock(ctx context.Context, companyID trading.CompanyID, productID trading.ProductID, delta decimal.Decimal) error {
	return addStock(ctx, t.tx, companyID, productID, delta)
}

func (t *txStore) RecordMovement(ctx context.Context, m *trading.Movement) error {
	return recordMovement(ctx, t.tx, m)
}

func (t *txStore) Movements(ctx context.Context, productID trading.ProductID, kind trading.MovementKind) ([]trading.Movement, error) {
	return queryMovements(ctx, t.tx, productID, kind)
}

func (t *txStore) EnqueuePostings(ctx context.Context, postings []trading.PendingPosting) error {
	return enqueuePostings(ctx, t.tx, postings)
}

func (t *txStore) PendingPostings(ctx context.Context, limit int) ([]trading.PendingPosting, error) {
	return pendingPostings(ctx, t.tx, limit)
}

func (t *txStore) MarkPosted(ctx context.Context, id string) error {
	return markPosted(ctx, t.tx, id)
}

func (t *txStore) MarkPostingFailed(ctx context.Context, id string, attempts int, terminal bool) error {
	return markPostingFailed(ctx, t.tx, id, attempts, terminal)
}

func (t *txStore) DeletePostingsForReference(ctx context.Context, referenceType, referenceID string) (int, error) {
	return deletePostingsForReference(ctx, t.tx, referenceType, referenceID)
}

var _ trading.Store = (*txStore)(nil)
var _ trading.TxStore = (*Store)(nil)
