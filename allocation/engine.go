/*
engine.go - The expense allocation engine

PURPOSE:
  Owns the approval workflow of a purchase invoice:

  First approval:
    1. Convert every expense to the invoice currency (caller-supplied
       rate, default 1).
    2. Fold the converted sum into TotalExpenses / FinalTotal.
    3. Allocate landed cost per line via the configured policy.
    4. Write one immutable cost history entry per line.
    5. Increment the stock counter per line - the only path in the whole
       system that increases stock from a purchase.
    6. Flip the invoice to approved, stamping actor and time.
    7. Post one MAIN_INVOICE receipt (if a supplier is set) plus one
       EXPENSE receipt per actual expense with a supplier.
    8. Enqueue one outbox CREDIT posting per receipt.

  Supplemental approval (invoice already approved):
    Append the new expense batch, grow the totals, post receipts and
    outbox rows for the new actual items only. Stock and cost history
    are not touched. An empty supplemental batch is rejected.

ATOMICITY & SERIALIZATION:
  Each approval runs inside one store transaction; partial application
  (stock moved but history missing) cannot happen. Concurrent approvals
  of the SAME invoice are serialized with a per-invoice mutex so stock is
  never incremented twice; different invoices proceed in parallel.

LEDGER POSTING:
  Postings to the supplier payable ledger are not made inline. Outbox
  rows commit with the approval and are drained with retry by
  payables.Drainer, so approval success and posting delivery remain two
  separate guarantees without losing payables.
*/
package allocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/trade-core/trading"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store  trading.TxStore
	Policy AllocationPolicy

	log   zerolog.Logger
	locks sync.Map // trading.InvoiceID -> *sync.Mutex
}

func NewEngine(store trading.TxStore, policy AllocationPolicy, log zerolog.Logger) *Engine {
	if policy == nil {
		policy = Uniform{}
	}
	return &Engine{
		Store:  store,
		Policy: policy,
		log:    log.With().Str("component", "allocation-engine").Logger(),
	}
}

func (e *Engine) invoiceLock(id trading.InvoiceID) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// =============================================================================
// APPROVE
// =============================================================================

// ApprovalResult is the outcome of one approval round.
type ApprovalResult struct {
	InvoiceID     trading.InvoiceID
	FirstApproval bool
	TotalExpenses decimal.Decimal
	FinalTotal    decimal.Decimal
	Receipts      []trading.PayableReceipt
}

// Approve runs one approval round. On a draft invoice the expense batch
// may be empty; on an approved invoice it must not be.
func (e *Engine) Approve(ctx context.Context, invoiceID trading.InvoiceID, inputs []trading.ExpenseInput, approvedBy string) (*ApprovalResult, error) {
	// Validation happens before any mutation.
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, err
		}
	}

	mu := e.invoiceLock(invoiceID)
	mu.Lock()
	defer mu.Unlock()

	var result *ApprovalResult
	err := e.Store.WithTx(ctx, func(s trading.Store) error {
		inv, err := s.Invoice(ctx, invoiceID)
		if err != nil {
			return err
		}

		if inv.Approved() && len(inputs) == 0 {
			return trading.ErrAlreadyApprovedNoOp
		}

		now := time.Now().UTC()
		first := !inv.Approved()

		// Materialize and persist the expense batch.
		items := make([]trading.ExpenseItem, 0, len(inputs))
		batchSum := decimal.Zero
		expenseIDs := make([]trading.ExpenseID, 0, len(inputs))
		for _, in := range inputs {
			item := trading.NewExpenseItem(inv.ID, inv.Currency, in, now)
			items = append(items, item)
			batchSum = batchSum.Add(item.ConvertedAmount)
			expenseIDs = append(expenseIDs, item.ID)
		}
		if len(items) > 0 {
			if err := s.AppendExpenses(ctx, items); err != nil {
				return err
			}
		}

		var receipts []trading.PayableReceipt

		if first {
			// Landed cost is computed over the full expense total known at
			// first approval.
			totalExpenses := inv.TotalExpenses.Add(batchSum)
			costs, err := e.Policy.Allocate(inv, totalExpenses)
			if err != nil {
				return err
			}

			entries := make([]trading.CostHistoryEntry, 0, len(costs))
			for _, c := range costs {
				entries = append(entries, trading.CostHistoryEntry{
					ID:               uuid.NewString(),
					ProductID:        c.ProductID,
					PurchaseID:       inv.ID,
					CompanyID:        inv.CompanyID,
					PurchasePrice:    c.PurchasePrice,
					ExpensePerUnit:   c.ExpensePerUnit,
					TotalCostPerUnit: c.TotalCostPerUnit,
					Quantity:         c.Qty,
					Policy:           e.Policy.Name(),
					CreatedAt:        now,
				})
			}
			if err := s.AppendCostHistory(ctx, entries); err != nil {
				return err
			}

			for _, line := range inv.Lines {
				if err := s.AddStock(ctx, inv.CompanyID, line.ProductID, line.Qty); err != nil {
					return err
				}
			}

			if inv.SupplierID != "" {
				receipts = append(receipts, trading.PayableReceipt{
					ID:         trading.ReceiptID(uuid.NewString()),
					InvoiceID:  inv.ID,
					SupplierID: inv.SupplierID,
					Amount:     inv.Total,
					Currency:   inv.Currency,
					Kind:       trading.ReceiptMainInvoice,
					Status:     trading.ReceiptPending,
					CreatedAt:  now,
				})
			}
		}

		// Actual expense items with a supplier produce receipts on every
		// round; virtual items never do, even though their amount is part
		// of TotalExpenses and therefore of unit cost.
		for _, item := range items {
			if !item.IsActual || item.SupplierID == "" {
				continue
			}
			receipts = append(receipts, trading.PayableReceipt{
				ID:         trading.ReceiptID(uuid.NewString()),
				InvoiceID:  inv.ID,
				ExpenseID:  item.ID,
				SupplierID: item.SupplierID,
				Amount:     item.Amount,
				Currency:   item.Currency,
				Kind:       trading.ReceiptExpense,
				Status:     trading.ReceiptPending,
				CreatedAt:  now,
			})
		}

		if len(receipts) > 0 {
			if err := s.AppendReceipts(ctx, receipts); err != nil {
				return err
			}
			if err := s.EnqueuePostings(ctx, postingsFor(inv, receipts, now)); err != nil {
				return err
			}
		}

		inv.ApplyApproval(trading.ApprovalEvent{
			At:            now,
			By:            approvedBy,
			ExpenseIDs:    expenseIDs,
			ExpensesAdded: batchSum,
		})
		if err := s.UpdateInvoice(ctx, inv); err != nil {
			return err
		}

		result = &ApprovalResult{
			InvoiceID:     inv.ID,
			FirstApproval: first,
			TotalExpenses: inv.TotalExpenses,
			FinalTotal:    inv.FinalTotal,
			Receipts:      receipts,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("invoice", string(invoiceID)).
		Bool("first", result.FirstApproval).
		Int("expenses", len(inputs)).
		Int("receipts", len(result.Receipts)).
		Msg("invoice approved")
	return result, nil
}

// postingsFor mirrors a receipt batch into outbox CREDIT postings.
func postingsFor(inv *trading.PurchaseInvoice, receipts []trading.PayableReceipt, now time.Time) []trading.PendingPosting {
	postings := make([]trading.PendingPosting, 0, len(receipts))
	for _, r := range receipts {
		p := trading.PendingPosting{
			ID:         uuid.NewString(),
			SupplierID: r.SupplierID,
			Amount:     r.Amount,
			Currency:   r.Currency,
			Date:       now,
			Status:     trading.PostingPending,
		}
		switch r.Kind {
		case trading.ReceiptMainInvoice:
			p.ReferenceType = trading.RefPurchaseInvoice
			p.ReferenceID = string(inv.ID)
			p.Description = fmt.Sprintf("purchase invoice %s", inv.ID)
		case trading.ReceiptExpense:
			p.ReferenceType = trading.RefPurchaseExpense
			p.ReferenceID = string(r.ExpenseID)
			p.Description = fmt.Sprintf("expense on purchase invoice %s", inv.ID)
		}
		postings = append(postings, p)
	}
	return postings
}

// =============================================================================
// EXPENSE LISTING & DELETION
// =============================================================================

// ListExpenses returns every expense row attached to an invoice.
func (e *Engine) ListExpenses(ctx context.Context, invoiceID trading.InvoiceID) ([]trading.ExpenseItem, error) {
	if _, err := e.Store.Invoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return e.Store.Expenses(ctx, invoiceID)
}

type DeleteExpenseResult struct {
	InvoiceID              trading.InvoiceID
	RemainingTotalExpenses decimal.Decimal
	FinalTotal             decimal.Decimal
	RetractedReceiptCount  int
}

// DeleteExpense retracts a still-pending expense row: its receipts are
// removed, its queued outbox postings are withdrawn, and the invoice
// totals are recomputed from the surviving rows. A row whose receipt has
// entered the payment workflow can no longer be retracted.
func (e *Engine) DeleteExpense(ctx context.Context, expenseID trading.ExpenseID) (*DeleteExpenseResult, error) {
	// Resolve the owning invoice first so its lock is taken outside the
	// transaction, same ordering as Approve.
	owner, err := e.Store.Expense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	mu := e.invoiceLock(owner.InvoiceID)
	mu.Lock()
	defer mu.Unlock()

	var result *DeleteExpenseResult
	err = e.Store.WithTx(ctx, func(s trading.Store) error {
		exp, err := s.Expense(ctx, expenseID)
		if err != nil {
			return err
		}

		receipts, err := s.ReceiptsForExpense(ctx, expenseID)
		if err != nil {
			return err
		}
		for _, r := range receipts {
			if r.Status != trading.ReceiptPending {
				return &trading.IntegrityError{
					Reason: fmt.Sprintf("receipt %s is %s; expense can no longer be retracted", r.ID, r.Status),
				}
			}
		}
		for _, r := range receipts {
			if err := s.DeleteReceipt(ctx, r.ID); err != nil {
				return err
			}
		}
		if _, err := s.DeletePostingsForReference(ctx, trading.RefPurchaseExpense, string(expenseID)); err != nil {
			return err
		}
		if err := s.DeleteExpense(ctx, expenseID); err != nil {
			return err
		}

		inv, err := s.Invoice(ctx, exp.InvoiceID)
		if err != nil {
			return err
		}
		remaining, err := s.Expenses(ctx, exp.InvoiceID)
		if err != nil {
			return err
		}
		inv.ResetExpenseTotals(remaining)
		if err := s.UpdateInvoice(ctx, inv); err != nil {
			return err
		}

		result = &DeleteExpenseResult{
			InvoiceID:              inv.ID,
			RemainingTotalExpenses: inv.TotalExpenses,
			FinalTotal:             inv.FinalTotal,
			RetractedReceiptCount:  len(receipts),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("expense", string(expenseID)).
		Str("invoice", string(result.InvoiceID)).
		Int("retracted_receipts", result.RetractedReceiptCount).
		Msg("expense deleted")
	return result, nil
}

// =============================================================================
// INVOICE DELETION
// =============================================================================

// DeleteInvoice removes an invoice while it is still fully reversible:
// a draft always is; an approved invoice only while every receipt is
// still pending, in which case the stock increment and cost history of
// the first approval are reversed along with it.
func (e *Engine) DeleteInvoice(ctx context.Context, invoiceID trading.InvoiceID) error {
	mu := e.invoiceLock(invoiceID)
	mu.Lock()
	defer mu.Unlock()

	err := e.Store.WithTx(ctx, func(s trading.Store) error {
		inv, err := s.Invoice(ctx, invoiceID)
		if err != nil {
			return err
		}

		receipts, err := s.Receipts(ctx, invoiceID)
		if err != nil {
			return err
		}
		for _, r := range receipts {
			if r.Status != trading.ReceiptPending {
				return &trading.IntegrityError{
					Reason: fmt.Sprintf("receipt %s is %s; invoice is no longer reversible", r.ID, r.Status),
				}
			}
		}

		if inv.Approved() {
			for _, line := range inv.Lines {
				if err := s.AddStock(ctx, inv.CompanyID, line.ProductID, line.Qty.Neg()); err != nil {
					return err
				}
			}
			if err := s.DeleteCostHistory(ctx, inv.ID); err != nil {
				return err
			}
		}

		for _, r := range receipts {
			if err := s.DeleteReceipt(ctx, r.ID); err != nil {
				return err
			}
		}
		if _, err := s.DeletePostingsForReference(ctx, trading.RefPurchaseInvoice, string(invoiceID)); err != nil {
			return err
		}

		expenses, err := s.Expenses(ctx, invoiceID)
		if err != nil {
			return err
		}
		for _, exp := range expenses {
			if _, err := s.DeletePostingsForReference(ctx, trading.RefPurchaseExpense, string(exp.ID)); err != nil {
				return err
			}
			if err := s.DeleteExpense(ctx, exp.ID); err != nil {
				return err
			}
		}

		return s.DeleteInvoice(ctx, invoiceID)
	})
	if err != nil {
		return err
	}

	e.log.Info().Str("invoice", string(invoiceID)).Msg("invoice deleted")
	return nil
}

// =============================================================================
// COST HISTORY
// =============================================================================

const defaultCostHistoryCap = 50

// CostHistory returns landed-cost entries for a product, most recent
// first, capped.
func (e *Engine) CostHistory(ctx context.Context, productID trading.ProductID, companyID trading.CompanyID, limit int) ([]trading.CostHistoryEntry, error) {
	if limit <= 0 || limit > defaultCostHistoryCap {
		limit = defaultCostHistoryCap
	}
	return e.Store.CostHistory(ctx, productID, companyID, limit)
}
