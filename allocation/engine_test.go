package allocation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trade-core/allocation"
	"github.com/warp/trade-core/store/memory"
	"github.com/warp/trade-core/trading"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*allocation.Engine, *memory.Memory) {
	t.Helper()
	store := memory.New()
	engine := allocation.NewEngine(store, allocation.Uniform{}, zerolog.Nop())
	return engine, store
}

// seedInvoice creates a draft two-line invoice (total 100.00, 30 units)
// with a supplier attached.
func seedInvoice(t *testing.T, store *memory.Memory, id trading.InvoiceID) *trading.PurchaseInvoice {
	t.Helper()
	inv := &trading.PurchaseInvoice{
		ID:         id,
		CompanyID:  "co-1",
		SupplierID: "sup-main",
		Currency:   trading.CurrencyUSD,
		Lines: []trading.PurchaseLine{
			{ID: "l1", ProductID: "prod-a", Qty: dec("10"), UnitPrice: dec("5"), SubTotal: dec("50")},
			{ID: "l2", ProductID: "prod-b", Qty: dec("20"), UnitPrice: dec("2.5"), SubTotal: dec("50")},
		},
		Total:      dec("100"),
		FinalTotal: dec("100"),
		State:      trading.StateDraft,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateInvoice(context.Background(), inv))
	return inv
}

func freight(amount string) trading.ExpenseInput {
	return trading.ExpenseInput{
		CategoryID: "freight",
		SupplierID: "sup-freight",
		Amount:     dec(amount),
		IsActual:   true,
	}
}

// =============================================================================
// FIRST APPROVAL
// =============================================================================

func TestApprove_FirstApproval_FullEffect(t *testing.T) {
	// GIVEN: A draft invoice (100.00, 30 units) and a 20.00 freight bill
	// WHEN: Approving
	// THEN: Totals fold, cost history is written per line, stock moves,
	//       and receipts exist for the invoice and the freight supplier

	engine, store := newTestEngine(t)
	seedInvoice(t, store, "inv-1")
	ctx := context.Background()

	result, err := engine.Approve(ctx, "inv-1", []trading.ExpenseInput{freight("20")}, "alice")
	require.NoError(t, err)
	assert.True(t, result.FirstApproval)
	assert.True(t, result.TotalExpenses.Equal(dec("20")))
	assert.True(t, result.FinalTotal.Equal(dec("120")))

	inv, err := store.Invoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Approved())
	assert.Equal(t, "alice", inv.ApprovedBy())
	assert.True(t, inv.FinalTotal.Equal(inv.Total.Add(inv.TotalExpenses)),
		"final total must always equal total + expenses")

	// One cost history entry per line, tagged with the strategy name.
	historyA, err := store.CostHistory(ctx, "prod-a", "co-1", 0)
	require.NoError(t, err)
	require.Len(t, historyA, 1)
	assert.Equal(t, allocation.PolicyUniform, historyA[0].Policy)
	assertApprox(t, "5.6667", historyA[0].TotalCostPerUnit, "prod-a landed cost")

	historyB, err := store.CostHistory(ctx, "prod-b", "co-1", 0)
	require.NoError(t, err)
	require.Len(t, historyB, 1)
	assertApprox(t, "3.1667", historyB[0].TotalCostPerUnit, "prod-b landed cost")

	// Covered quantity equals the received quantity, line by line.
	assert.True(t, historyA[0].Quantity.Add(historyB[0].Quantity).Equal(inv.TotalQty()))

	// Stock moved once, per line.
	stockA, _ := store.Stock(ctx, "co-1", "prod-a")
	stockB, _ := store.Stock(ctx, "co-1", "prod-b")
	assert.True(t, stockA.Equal(dec("10")))
	assert.True(t, stockB.Equal(dec("20")))

	// Main invoice receipt + freight expense receipt, both pending.
	receipts, err := store.Receipts(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	kinds := map[trading.ReceiptKind]trading.SupplierID{}
	for _, r := range receipts {
		assert.Equal(t, trading.ReceiptPending, r.Status)
		kinds[r.Kind] = r.SupplierID
	}
	assert.Equal(t, trading.SupplierID("sup-main"), kinds[trading.ReceiptMainInvoice])
	assert.Equal(t, trading.SupplierID("sup-freight"), kinds[trading.ReceiptExpense])

	// One outbox posting per receipt.
	postings, err := store.PendingPostings(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, postings, 2)
}

func TestApprove_NoSupplier_NoMainReceipt(t *testing.T) {
	// GIVEN: A draft invoice without a supplier
	// WHEN: Approving with one actual expense
	// THEN: Only the expense receipt is created

	engine, store := newTestEngine(t)
	inv := &trading.PurchaseInvoice{
		ID:        "inv-1",
		CompanyID: "co-1",
		Currency:  trading.CurrencyUSD,
		Lines: []trading.PurchaseLine{
			{ID: "l1", ProductID: "prod-a", Qty: dec("10"), UnitPrice: dec("5"), SubTotal: dec("50")},
		},
		Total:      dec("50"),
		FinalTotal: dec("50"),
		State:      trading.StateDraft,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateInvoice(context.Background(), inv))

	_, err := engine.Approve(context.Background(), "inv-1", []trading.ExpenseInput{freight("20")}, "alice")
	require.NoError(t, err)

	receipts, err := store.Receipts(context.Background(), "inv-1")
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, trading.ReceiptExpense, receipts[0].Kind)
}

func TestApprove_VirtualExpense_NoReceipt(t *testing.T) {
	// GIVEN: A virtual (estimated) expense with no supplier obligation
	// WHEN: Approving
	// THEN: The amount shapes the landed cost but produces no receipt
	//       beyond the main invoice one

	engine, store := newTestEngine(t)
	seedInvoice(t, store, "inv-1")
	ctx := context.Background()

	virtual := trading.ExpenseInput{CategoryID: "est-customs", Amount: dec("30"), IsActual: false}
	result, err := engine.Approve(ctx, "inv-1", []trading.ExpenseInput{virtual}, "alice")
	require.NoError(t, err)
	assert.True(t, result.TotalExpenses.Equal(dec("30")))

	receipts, err := store.Receipts(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, receipts, 1, "only the main invoice receipt")
	assert.Equal(t, trading.ReceiptMainInvoice, receipts[0].Kind)

	history, err := store.CostHistory(ctx, "prod-a", "co-1", 0)
	require.NoError(t, err)
	assertApprox(t, "6", history[0].TotalCostPerUnit, "virtual expense still lands in cost")
}

func TestApprove_ExpenseCurrencyConversion(t *testing.T) {
	// GIVEN: A 10.00 EUR expense at rate 1.1 into a USD invoice
	// WHEN: Approving
	// THEN: TotalExpenses grows by 11.00 (converted) while the receipt
	//       keeps the original 10.00 EUR obligation

	engine, store := newTestEngine(t)
	seedInvoice(t, store, "inv-1")
	ctx := context.Background()

	in := trading.ExpenseInput{
		CategoryID:   "freight",
		SupplierID:   "sup-eu",
		Amount:       dec("10"),
		Currency:     trading.CurrencyEUR,
		ExchangeRate: dec("1.1"),
		IsActual:     true,
	}
	result, err := engine.Approve(ctx, "inv-1", []trading.ExpenseInput{in}, "alice")
	require.NoError(t, err)
	assert.True(t, result.TotalExpenses.Equal(dec("11")))

	receipts, err := store.Receipts(ctx, "inv-1")
	require.NoError(t, err)
	for _, r := range receipts {
		if r.Kind == trading.ReceiptExpense {
			assert.True(t, r.Amount.Equal(dec("10")), "receipt keeps the original amount")
			assert.Equal(t, trading.CurrencyEUR, r.Currency)
		}
	}
}

// =============================================================================
// SUPPLEMENTAL APPROVAL
// =============================================================================

func TestApprove_Supplemental_GrowsTotalsOnly(t *testing.T) {
	// GIVEN: An approved invoice with stock moved and history written
	// WHEN: A second approval attaches a late customs bill
	// THEN: Totals grow; stock and cost history stay exactly as they were

	engine, store := newTestEngine(t)
	seedInvoice(t, store, "inv-1")
	ctx := context.Background()

	_, err := engine.Approve(ctx, "inv-1", []trading.ExpenseInput{freight("20")}, "alice")
	require.NoError(t, err)

	historyBefore, err := store.CostHistory(ctx, "prod-a", "co-1", 0)
	require.NoError(t, err)

	result, err := engine.Approve(ctx, "inv-1", []trading.ExpenseInput{
		{CategoryID: "customs", SupplierID: "sup-customs", Amount: dec("15"), IsActual: true},
	}, "bob")
	require.NoError(t, err)
	assert.False(t, result.FirstApproval)
	assert.True(t, result.TotalExpenses.Equal(dec("35")))
	assert.True(t, result.FinalTotal.Equal(dec("135")))

	// Stock was NOT incremented again.
	stockA, _ := store.Stock(ctx, "co-1", "prod-a")
	assert.True(t, stockA.Equal(dec("10")), "supplemental round must not touch stock")

	// Cost history untouched, byte for byte.
	historyAfter, err := store.CostHistory(ctx, "prod-a", "co-1", 0)
	require.NoError(t, err)
	require.Len(t, historyAfter, 1)
	assert.Equal(t, historyBefore[0].ID, historyAfter[0].ID)
	assert.True(t, historyBefore[0].TotalCostPerUnit.Equal(historyAfter[0].TotalCostPerUnit),
		"late expenses never rewrite the landed cost")

	// The new round produced its own receipt.
	receipts, err := store.Receipts(ctx, "inv-1")
	require.NoError(t, err)
	assert.Len(t, receipts, 3)
}

func TestApprove_Supplemental_EmptyBatch_NoOp(t *testing.T) {
	// GIVEN: An already approved invoice
	// WHEN: Re-approving with no expenses
	// THEN: ErrAlreadyApprovedNoOp, nothing changes

	engine, store := newTestEngine(t)
	seedInvoice(t, store, "inv-1")
	ctx := context.Background()

	_, err := engine.Approve(ctx, "inv-1", nil, "alice")
	require.NoError(t, err)

	_, err = engine.Approve(ctx, "inv-1", nil, "bob")
	assert.ErrorIs(t, err, trading.ErrAlreadyApprovedNoOp)

	inv, _ := store.Invoice(ctx, "inv-1")
	assert.Len(t, inv.ApprovalEvents, 1)
}

func TestApprove_ValidationBeforeMutation(t *testing.T) {
	// GIVEN: A batch where the second row is malformed
	// WHEN: Approving
	// THEN: The whole call fails and nothing was persisted

	engine, store := newTestEngine(t)
	seedInvoice(t, store, "inv-1")
	ctx := context.Background()

	_, err := engine.Approve(ctx, "inv-1", []trading.ExpenseInput{
		freight("20"),
		{CategoryID: "", Amount: dec("5")},
	}, "alice")
	assert.ErrorIs(t, err, trading.ErrValidation)

	inv, _ := store.Invoice(ctx, "inv-1")
	assert.False(t, inv.Approved())
	expenses, _ := store.Expenses(ctx, "inv-1")
	assert.Empty(t, expenses)
	stockA, _ := store.Stock(ctx, "co-1", "prod-a")
	assert.True(t, stockA.IsZero())
}

func TestApprove_UnknownInvoice(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.Approve(context.Background(), "nope", nil, "alice")
	assert.ErrorIs(t, err, trading.ErrInvoiceNotFound)
}

func TestApprove_ConcurrentApprovals_StockMovesOnce(t *testing.T) {
	// GIVEN: Two goroutines approving the same draft invoice
	// WHEN: Both run
	// THEN: Exactly one is the first approval, the other is rejected as a
	//       no-op, and stock is incremented exactly once

	engine, store := newTestEngine(t)
	seedInvoice(t, store, "inv-1")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Approve(ctx, "inv-1", nil, "racer")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, trading.ErrAlreadyApprovedNoOp)
		}
	}
	assert.Equal(t, 1, succeeded)

	stockA, _ := store.Stock(ctx, "co-1", "prod-a")
	assert.True(t, stockA.Equal(dec("10")), "stock must move exactly once")
}

// =============================================================================
// EXPENSE DELETION
// =============================================================================

func TestDeleteExpense_RetractsReceiptsAndTotals(t *testing.T) {
	// GIVEN: An approved invoice with a 20.00 freight expense
	// WHEN: Deleting the expense while its receipt is pending
	// THEN: Receipt and queued posting vanish, totals are recomputed

	engine, store := newTestEngine(t)
	seedInvoice(t, store, "inv-1")
	ctx := context.Background()

	_, err := engine.Approve(ctx, "inv-1", []trading.ExpenseInput{freight("20")}, "alice")
	require.NoError(t, err)

	expenses, err := store.Expenses(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, expenses, 1)

	result, err := engine.DeleteExpense(ctx, expenses[0].ID)
	require.NoError(t, err)
	assert.True(t, result.RemainingTotalExpenses.IsZero())
	assert.True(t, result.FinalTotal.Equal(dec("100")))
	assert.Equal(t, 1, result.RetractedReceiptCount)

	receipts, _ := store.Receipts(ctx, "inv-1")
	require.Len(t, receipts, 1, "the main invoice receipt survives")
	assert.Equal(t, trading.ReceiptMainInvoice, receipts[0].Kind)

	postings, _ := store.PendingPostings(ctx, 10)
	require.Len(t, postings, 1)
	assert.Equal(t, trading.RefPurchaseInvoice, postings[0].ReferenceType)

	// Cost history is untouched by expense deletion.
	history, _ := store.CostHistory(ctx, "prod-a", "co-1", 0)
	assert.Len(t, history, 1)
}

func TestDeleteExpense_BlockedOncePaymentStarted(t *testing.T) {
	// GIVEN: An expense whose receipt is already partially paid
	// WHEN: Deleting it
	// THEN: Integrity violation, nothing removed

	engine, store := newTestEngine(t)
	seedInvoice(t, store, "inv-1")
	ctx := context.Background()

	_, err := engine.Approve(ctx, "inv-1", []trading.ExpenseInput{freight("20")}, "alice")
	require.NoError(t, err)

	expenses, _ := store.Expenses(ctx, "inv-1")
	receipts, _ := store.ReceiptsForExpense(ctx, expenses[0].ID)
	require.Len(t, receipts, 1)
	store.SetReceiptStatus(receipts[0].ID, trading.ReceiptPartial)

	_, err = engine.DeleteExpense(ctx, expenses[0].ID)
	assert.ErrorIs(t, err, trading.ErrIntegrityViolation)

	still, _ := store.Expenses(ctx, "inv-1")
	assert.Len(t, still, 1, "expense must survive the refused delete")
}

func TestDeleteExpense_Unknown(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.DeleteExpense(context.Background(), "nope")
	assert.ErrorIs(t, err, trading.ErrExpenseNotFound)
}

// =============================================================================
// INVOICE DELETION
// =============================================================================

func TestDeleteInvoice_ReversesFirstApproval(t *testing.T) {
	// GIVEN: An approved invoice, all receipts pending
	// WHEN: Deleting it
	// THEN: Stock and cost history are rolled back, everything is removed

	engine, store := newTestEngine(t)
	seedInvoice(t, store, "inv-1")
	ctx := context.Background()

	_, err := engine.Approve(ctx, "inv-1", []trading.ExpenseInput{freight("20")}, "alice")
	require.NoError(t, err)

	require.NoError(t, engine.DeleteInvoice(ctx, "inv-1"))

	_, err = store.Invoice(ctx, "inv-1")
	assert.ErrorIs(t, err, trading.ErrInvoiceNotFound)

	stockA, _ := store.Stock(ctx, "co-1", "prod-a")
	assert.True(t, stockA.IsZero(), "stock increment must be reversed")

	history, _ := store.CostHistory(ctx, "prod-a", "co-1", 0)
	assert.Empty(t, history)

	postings, _ := store.PendingPostings(ctx, 10)
	assert.Empty(t, postings)
}

func TestDeleteInvoice_BlockedOncePaymentStarted(t *testing.T) {
	engine, store := newTestEngine(t)
	seedInvoice(t, store, "inv-1")
	ctx := context.Background()

	_, err := engine.Approve(ctx, "inv-1", nil, "alice")
	require.NoError(t, err)

	receipts, _ := store.Receipts(ctx, "inv-1")
	require.Len(t, receipts, 1)
	store.SetReceiptStatus(receipts[0].ID, trading.ReceiptSettled)

	err = engine.DeleteInvoice(ctx, "inv-1")
	assert.ErrorIs(t, err, trading.ErrIntegrityViolation)

	inv, err := store.Invoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Approved())
}

// =============================================================================
// COST HISTORY QUERY
// =============================================================================

func TestCostHistory_NewestFirstAndCapped(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	entries := make([]trading.CostHistoryEntry, 0, 3)
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		entries = append(entries, trading.CostHistoryEntry{
			ID:         string(rune('a' + i)),
			ProductID:  "prod-a",
			PurchaseID: trading.InvoiceID(string(rune('x' + i))),
			CompanyID:  "co-1",
			Quantity:   decimal.NewFromInt(int64(i + 1)),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, store.AppendCostHistory(ctx, entries))

	got, err := engine.CostHistory(ctx, "prod-a", "co-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID, "newest entry first")
	assert.Equal(t, "b", got[1].ID)
}
