/*
tx.go - Simulated transactions for the memory store

Mirrors a database transaction with a snapshot taken under the write
lock: the callback works on the live state through an unlocked view, and
a callback error restores the snapshot wholesale. Nested WithTx is not
supported (neither is it by the SQLite implementation).
*/
package memory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-core/trading"
)

// =============================================================================
// SNAPSHOT / RESTORE
// =============================================================================

type snapshot struct {
	products    map[trading.ProductID]trading.Product
	invoices    map[trading.InvoiceID]trading.PurchaseInvoice
	expenses    []trading.ExpenseItem
	receipts    []trading.PayableReceipt
	costHistory []trading.CostHistoryEntry
	stock       map[stockKey]decimal.Decimal
	movements   []trading.Movement
	postings    []trading.PendingPosting
}

func (m *Memory) snapshotLocked() snapshot {
	s := snapshot{
		products:    make(map[trading.ProductID]trading.Product, len(m.products)),
		invoices:    make(map[trading.InvoiceID]trading.PurchaseInvoice, len(m.invoices)),
		expenses:    append([]trading.ExpenseItem(nil), m.expenses...),
		receipts:    append([]trading.PayableReceipt(nil), m.receipts...),
		costHistory: append([]trading.CostHistoryEntry(nil), m.costHistory...),
		stock:       make(map[stockKey]decimal.Decimal, len(m.stock)),
		movements:   append([]trading.Movement(nil), m.movements...),
		postings:    append([]trading.PendingPosting(nil), m.postings...),
	}
	for k, v := range m.products {
		s.products[k] = v
	}
	for k, v := range m.invoices {
		s.invoices[k] = cloneInvoice(v)
	}
	for k, v := range m.stock {
		s.stock[k] = v
	}
	return s
}

func (m *Memory) restoreLocked(s snapshot) {
	m.products = s.products
	m.invoices = s.invoices
	m.expenses = s.expenses
	m.receipts = s.receipts
	m.costHistory = s.costHistory
	m.stock = s.stock
	m.movements = s.movements
	m.postings = s.postings
}

// WithTx executes fn against the live state under the write lock,
// rolling back to a snapshot if fn fails.
func (m *Memory) WithTx(_ context.Context, fn func(trading.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked()
	if err := fn(&txView{m: m}); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

// =============================================================================
// TX VIEW - Store methods without locking; the WithTx caller holds the lock
// =============================================================================

type txView struct {
	m *Memory
}

func (v *txView) CreateProduct(_ context.Context, p *trading.Product) error {
	v.m.products[p.ID] = *p
	return nil
}

func (v *txView) Product(_ context.Context, id trading.ProductID) (*trading.Product, error) {
	return v.m.productLocked(id)
}

func (v *txView) UpdateProductCost(_ context.Context, id trading.ProductID, cost decimal.Decimal) error {
	return v.m.updateProductCostLocked(id, cost)
}

func (v *txView) CreateInvoice(_ context.Context, inv *trading.PurchaseInvoice) error {
	v.m.invoices[inv.ID] = cloneInvoice(*inv)
	return nil
}

func (v *txView) Invoice(_ context.Context, id trading.InvoiceID) (*trading.PurchaseInvoice, error) {
	return v.m.invoiceLocked(id)
}

func (v *txView) UpdateInvoice(_ context.Context, inv *trading.PurchaseInvoice) error {
	return v.m.updateInvoiceLocked(inv)
}

func (v *txView) DeleteInvoice(_ context.Context, id trading.InvoiceID) error {
	return v.m.deleteInvoiceLocked(id)
}

func (v *txView) ApprovedInvoices(_ context.Context, productID trading.ProductID, companyID trading.CompanyID) ([]*trading.PurchaseInvoice, error) {
	return v.m.approvedInvoicesLocked(productID, companyID)
}

func (v *txView) AppendExpenses(_ context.Context, items []trading.ExpenseItem) error {
	v.m.expenses = append(v.m.expenses, items...)
	return nil
}

func (v *txView) Expenses(_ context.Context, invoiceID trading.InvoiceID) ([]trading.ExpenseItem, error) {
	return v.m.expensesLocked(invoiceID)
}

func (v *txView) Expense(_ context.Context, id trading.ExpenseID) (*trading.ExpenseItem, error) {
	return v.m.expenseLocked(id)
}

func (v *txView) DeleteExpense(_ context.Context, id trading.ExpenseID) error {
	return v.m.deleteExpenseLocked(id)
}

func (v *txView) AppendReceipts(_ context.Context, receipts []trading.PayableReceipt) error {
	v.m.receipts = append(v.m.receipts, receipts...)
	return nil
}

func (v *txView) Receipts(_ context.Context, invoiceID trading.InvoiceID) ([]trading.PayableReceipt, error) {
	return v.m.receiptsLocked(invoiceID)
}

func (v *txView) ReceiptsForExpense(_ context.Context, expenseID trading.ExpenseID) ([]trading.PayableReceipt, error) {
	return v.m.receiptsForExpenseLocked(expenseID)
}

func (v *txView) DeleteReceipt(_ context.Context, id trading.ReceiptID) error {
	return v.m.deleteReceiptLocked(id)
}

func (v *txView) AppendCostHistory(_ context.Context, entries []trading.CostHistoryEntry) error {
	v.m.costHistory = append(v.m.costHistory, entries...)
	return nil
}

func (v *txView) CostHistory(_ context.Context, productID trading.ProductID, companyID trading.CompanyID, limit int) ([]trading.CostHistoryEntry, error) {
	return v.m.costHistoryLocked(productID, companyID, limit)
}

func (v *txView) DeleteCostHistory(_ context.Context, purchaseID trading.InvoiceID) error {
	return v.m.deleteCostHistoryLocked(purchaseID)
}

func (v *txView) Stock(_ context.Context, companyID trading.CompanyID, productID trading.ProductID) (decimal.Decimal, error) {
	return v.m.stock[stockKey{Company: companyID, Product: productID}], nil
}

func (v *txView) AddStock(_ context.Context, companyID trading.CompanyID, productID trading.ProductID, delta decimal.Decimal) error {
	return v.m.addStockLocked(companyID, productID, delta)
}

func (v *txView) RecordMovement(_ context.Context, mv *trading.Movement) error {
	v.m.movements = append(v.m.movements, *mv)
	return nil
}

func (v *txView) Movements(_ context.Context, productID trading.ProductID, kind trading.MovementKind) ([]trading.Movement, error) {
	return v.m.movementsLocked(productID, kind)
}

func (v *txView) EnqueuePostings(_ context.Context, postings []trading.PendingPosting) error {
	v.m.postings = append(v.m.postings, postings...)
	return nil
}

func (v *txView) PendingPostings(_ context.Context, limit int) ([]trading.PendingPosting, error) {
	return v.m.pendingPostingsLocked(limit)
}

func (v *txView) MarkPosted(_ context.Context, id string) error {
	for i := range v.m.postings {
		if v.m.postings[i].ID == id {
			v.m.postings[i].Status = trading.PostingPosted
			return nil
		}
	}
	return nil
}

func (v *txView) MarkPostingFailed(_ context.Context, id string, attempts int, terminal bool) error {
	for i := range v.m.postings {
		if v.m.postings[i].ID == id {
			v.m.postings[i].Attempts = attempts
			if terminal {
				v.m.postings[i].Status = trading.PostingFailed
			}
			return nil
		}
	}
	return nil
}

func (v *txView) DeletePostingsForReference(_ context.Context, referenceType, referenceID string) (int, error) {
	return v.m.deletePostingsForReferenceLocked(referenceType, referenceID)
}

var _ trading.Store = (*txView)(nil)
var _ trading.TxStore = (*Memory)(nil)
