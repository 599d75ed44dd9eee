/*
Package memory provides an in-memory trading.TxStore.

PURPOSE:
  Backs tests and dev mode with the exact Store contract the SQLite
  implementation honors. WithTx is simulated with a full snapshot taken
  under the write lock and restored if the callback fails, so a failing
  approval leaves no partial state behind - same all-or-nothing semantics
  as a database transaction.

ORDERING:
  Append-only families (expenses, receipts, cost history, movements,
  outbox) are kept in slices so insertion order is preserved; queries
  that promise an order derive it from those slices instead of map
  iteration.
*/
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-core/trading"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type stockKey struct {
	Company trading.CompanyID
	Product trading.ProductID
}

type Memory struct {
	mu sync.RWMutex

	products    map[trading.ProductID]trading.Product
	invoices    map[trading.InvoiceID]trading.PurchaseInvoice
	expenses    []trading.ExpenseItem
	receipts    []trading.PayableReceipt
	costHistory []trading.CostHistoryEntry
	stock       map[stockKey]decimal.Decimal
	movements   []trading.Movement
	postings    []trading.PendingPosting
}

func New() *Memory {
	return &Memory{
		products: make(map[trading.ProductID]trading.Product),
		invoices: make(map[trading.InvoiceID]trading.PurchaseInvoice),
		stock:    make(map[stockKey]decimal.Decimal),
	}
}

// =============================================================================
// CLONING - Callers must never share memory with the store
// =============================================================================

func cloneInvoice(inv trading.PurchaseInvoice) trading.PurchaseInvoice {
	out := inv
	out.Lines = append([]trading.PurchaseLine(nil), inv.Lines...)
	out.ApprovalEvents = make([]trading.ApprovalEvent, len(inv.ApprovalEvents))
	for i, ev := range inv.ApprovalEvents {
		out.ApprovalEvents[i] = ev
		out.ApprovalEvents[i].ExpenseIDs = append([]trading.ExpenseID(nil), ev.ExpenseIDs...)
	}
	return out
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (m *Memory) CreateProduct(_ context.Context, p *trading.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = *p
	return nil
}

func (m *Memory) Product(_ context.Context, id trading.ProductID) (*trading.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.productLocked(id)
}

func (m *Memory) productLocked(id trading.ProductID) (*trading.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, trading.ErrProductNotFound
	}
	return &p, nil
}

func (m *Memory) UpdateProductCost(_ context.Context, id trading.ProductID, cost decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateProductCostLocked(id, cost)
}

func (m *Memory) updateProductCostLocked(id trading.ProductID, cost decimal.Decimal) error {
	p, ok := m.products[id]
	if !ok {
		return trading.ErrProductNotFound
	}
	p.Cost = cost
	m.products[id] = p
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (m *Memory) CreateInvoice(_ context.Context, inv *trading.PurchaseInvoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = cloneInvoice(*inv)
	return nil
}

func (m *Memory) Invoice(_ context.Context, id trading.InvoiceID) (*trading.PurchaseInvoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.invoiceLocked(id)
}

func (m *Memory) invoiceLocked(id trading.InvoiceID) (*trading.PurchaseInvoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, trading.ErrInvoiceNotFound
	}
	clone := cloneInvoice(inv)
	return &clone, nil
}

func (m *Memory) UpdateInvoice(_ context.Context, inv *trading.PurchaseInvoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateInvoiceLocked(inv)
}

func (m *Memory) updateInvoiceLocked(inv *trading.PurchaseInvoice) error {
	if _, ok := m.invoices[inv.ID]; !ok {
		return trading.ErrInvoiceNotFound
	}
	m.invoices[inv.ID] = cloneInvoice(*inv)
	return nil
}

func (m *Memory) DeleteInvoice(_ context.Context, id trading.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteInvoiceLocked(id)
}

func (m *Memory) deleteInvoiceLocked(id trading.InvoiceID) error {
	if _, ok := m.invoices[id]; !ok {
		return trading.ErrInvoiceNotFound
	}
	delete(m.invoices, id)
	return nil
}

func (m *Memory) ApprovedInvoices(_ context.Context, productID trading.ProductID, companyID trading.CompanyID) ([]*trading.PurchaseInvoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.approvedInvoicesLocked(productID, companyID)
}

func (m *Memory) approvedInvoicesLocked(productID trading.ProductID, companyID trading.CompanyID) ([]*trading.PurchaseInvoice, error) {
	var result []*trading.PurchaseInvoice
	for _, inv := range m.invoices {
		if !inv.Approved() || inv.CompanyID != companyID {
			continue
		}
		for _, line := range inv.Lines {
			if line.ProductID == productID {
				clone := cloneInvoice(inv)
				result = append(result, &clone)
				break
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ApprovedAt().Before(result[j].ApprovedAt())
	})
	return result, nil
}

// =============================================================================
// EXPENSES
// =============================================================================

func (m *Memory) AppendExpenses(_ context.Context, items []trading.ExpenseItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses = append(m.expenses, items...)
	return nil
}

func (m *Memory) Expenses(_ context.Context, invoiceID trading.InvoiceID) ([]trading.ExpenseItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expensesLocked(invoiceID)
}

func (m *Memory) expensesLocked(invoiceID trading.InvoiceID) ([]trading.ExpenseItem, error) {
	var result []trading.ExpenseItem
	for _, e := range m.expenses {
		if e.InvoiceID == invoiceID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) Expense(_ context.Context, id trading.ExpenseID) (*trading.ExpenseItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expenseLocked(id)
}

func (m *Memory) expenseLocked(id trading.ExpenseID) (*trading.ExpenseItem, error) {
	for _, e := range m.expenses {
		if e.ID == id {
			clone := e
			return &clone, nil
		}
	}
	return nil, trading.ErrExpenseNotFound
}

func (m *Memory) DeleteExpense(_ context.Context, id trading.ExpenseID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteExpenseLocked(id)
}

func (m *Memory) deleteExpenseLocked(id trading.ExpenseID) error {
	for i, e := range m.expenses {
		if e.ID == id {
			m.expenses = append(m.expenses[:i], m.expenses[i+1:]...)
			return nil
		}
	}
	return trading.ErrExpenseNotFound
}

// =============================================================================
// RECEIPTS
// =============================================================================

func (m *Memory) AppendReceipts(_ context.Context, receipts []trading.PayableReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts = append(m.receipts, receipts...)
	return nil
}

func (m *Memory) Receipts(_ context.Context, invoiceID trading.InvoiceID) ([]trading.PayableReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.receiptsLocked(invoiceID)
}

func (m *Memory) receiptsLocked(invoiceID trading.InvoiceID) ([]trading.PayableReceipt, error) {
	var result []trading.PayableReceipt
	for _, r := range m.receipts {
		if r.InvoiceID == invoiceID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *Memory) ReceiptsForExpense(_ context.Context, expenseID trading.ExpenseID) ([]trading.PayableReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.receiptsForExpenseLocked(expenseID)
}

func (m *Memory) receiptsForExpenseLocked(expenseID trading.ExpenseID) ([]trading.PayableReceipt, error) {
	var result []trading.PayableReceipt
	for _, r := range m.receipts {
		if r.ExpenseID == expenseID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *Memory) DeleteReceipt(_ context.Context, id trading.ReceiptID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteReceiptLocked(id)
}

func (m *Memory) deleteReceiptLocked(id trading.ReceiptID) error {
	for i, r := range m.receipts {
		if r.ID == id {
			m.receipts = append(m.receipts[:i], m.receipts[i+1:]...)
			return nil
		}
	}
	return nil
}

// SetReceiptStatus simulates the external payment workflow in tests.
func (m *Memory) SetReceiptStatus(id trading.ReceiptID, status trading.ReceiptStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.receipts {
		if m.receipts[i].ID == id {
			m.receipts[i].Status = status
			return
		}
	}
}

// =============================================================================
// COST HISTORY
// =============================================================================

func (m *Memory) AppendCostHistory(_ context.Context, entries []trading.CostHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costHistory = append(m.costHistory, entries...)
	return nil
}

func (m *Memory) CostHistory(_ context.Context, productID trading.ProductID, companyID trading.CompanyID, limit int) ([]trading.CostHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.costHistoryLocked(productID, companyID, limit)
}

func (m *Memory) costHistoryLocked(productID trading.ProductID, companyID trading.CompanyID, limit int) ([]trading.CostHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	// Appends are chronological, so reverse iteration yields newest first.
	var result []trading.CostHistoryEntry
	for i := len(m.costHistory) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.costHistory[i]
		if e.ProductID != productID {
			continue
		}
		if companyID != "" && e.CompanyID != companyID {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (m *Memory) DeleteCostHistory(_ context.Context, purchaseID trading.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCostHistoryLocked(purchaseID)
}

func (m *Memory) deleteCostHistoryLocked(purchaseID trading.InvoiceID) error {
	kept := m.costHistory[:0]
	for _, e := range m.costHistory {
		if e.PurchaseID != purchaseID {
			kept = append(kept, e)
		}
	}
	m.costHistory = kept
	return nil
}

// =============================================================================
// STOCK COUNTERS
// =============================================================================

func (m *Memory) Stock(_ context.Context, companyID trading.CompanyID, productID trading.ProductID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stock[stockKey{Company: companyID, Product: productID}], nil
}

func (m *Memory) AddStock(_ context.Context, companyID trading.CompanyID, productID trading.ProductID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addStockLocked(companyID, productID, delta)
}

func (m *Memory) addStockLocked(companyID trading.CompanyID, productID trading.ProductID, delta decimal.Decimal) error {
	k := stockKey{Company: companyID, Product: productID}
	m.stock[k] = m.stock[k].Add(delta)
	return nil
}

// SetStock seeds a counter directly, for tests and dev scenarios.
func (m *Memory) SetStock(companyID trading.CompanyID, productID trading.ProductID, qty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[stockKey{Company: companyID, Product: productID}] = qty
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func (m *Memory) RecordMovement(_ context.Context, mv *trading.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements = append(m.movements, *mv)
	return nil
}

func (m *Memory) Movements(_ context.Context, productID trading.ProductID, kind trading.MovementKind) ([]trading.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.movementsLocked(productID, kind)
}

func (m *Memory) movementsLocked(productID trading.ProductID, kind trading.MovementKind) ([]trading.Movement, error) {
	var result []trading.Movement
	for _, mv := range m.movements {
		if mv.ProductID == productID && mv.Kind == kind && mv.Approved {
			result = append(result, mv)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].At.Before(result[j].At) })
	return result, nil
}

// =============================================================================
// OUTBOX
// =============================================================================

func (m *Memory) EnqueuePostings(_ context.Context, postings []trading.PendingPosting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postings = append(m.postings, postings...)
	return nil
}

func (m *Memory) PendingPostings(_ context.Context, limit int) ([]trading.PendingPosting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingPostingsLocked(limit)
}

func (m *Memory) pendingPostingsLocked(limit int) ([]trading.PendingPosting, error) {
	if limit <= 0 {
		limit = 50
	}
	var result []trading.PendingPosting
	for _, p := range m.postings {
		if p.Status != trading.PostingPending {
			continue
		}
		result = append(result, p)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) MarkPosted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.postings {
		if m.postings[i].ID == id {
			m.postings[i].Status = trading.PostingPosted
			return nil
		}
	}
	return nil
}

func (m *Memory) MarkPostingFailed(_ context.Context, id string, attempts int, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.postings {
		if m.postings[i].ID == id {
			m.postings[i].Attempts = attempts
			if terminal {
				m.postings[i].Status = trading.PostingFailed
			}
			return nil
		}
	}
	return nil
}

func (m *Memory) DeletePostingsForReference(_ context.Context, referenceType, referenceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePostingsForReferenceLocked(referenceType, referenceID)
}

func (m *Memory) deletePostingsForReferenceLocked(referenceType, referenceID string) (int, error) {
	removed := 0
	kept := m.postings[:0]
	for _, p := range m.postings {
		if p.Status == trading.PostingPending && p.ReferenceType == referenceType && p.ReferenceID == referenceID {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	m.postings = kept
	return removed, nil
}
