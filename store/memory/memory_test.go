package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trade-core/store/memory"
	"github.com/warp/trade-core/trading"
)

func dec(s string) decimal.Decimal { return trading.MustDecimal(s) }

func draftInvoice(id trading.InvoiceID) *trading.PurchaseInvoice {
	return &trading.PurchaseInvoice{
		ID:        id,
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
}

// =============================================================================
// TRANSACTION SEMANTICS
// =============================================================================

func TestWithTx_RollsBackEverythingOnError(t *testing.T) {
	// GIVEN: A store with one draft invoice
	// WHEN: A transaction mutates several families and then fails
	// THEN: Every mutation is rolled back, not just the last one

	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.CreateInvoice(ctx, draftInvoice("inv-1")))

	boom := errors.New("allocation failed")
	err := store.WithTx(ctx, func(tx trading.Store) error {
		inv, err := tx.Invoice(ctx, "inv-1")
		require.NoError(t, err)
		inv.ApplyApproval(trading.ApprovalEvent{At: time.Now().UTC(), By: "alice"})
		require.NoError(t, tx.UpdateInvoice(ctx, inv))
		require.NoError(t, tx.AddStock(ctx, "co-1", "prod-a", dec("10")))
		require.NoError(t, tx.AppendCostHistory(ctx, []trading.CostHistoryEntry{
			{ID: "ch1", ProductID: "prod-a", PurchaseID: "inv-1", CompanyID: "co-1", Quantity: dec("10")},
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	inv, err := store.Invoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.False(t, inv.Approved())

	stock, err := store.Stock(ctx, "co-1", "prod-a")
	require.NoError(t, err)
	assert.True(t, stock.IsZero())

	history, err := store.CostHistory(ctx, "prod-a", "co-1", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx trading.Store) error {
		if err := tx.CreateInvoice(ctx, draftInvoice("inv-1")); err != nil {
			return err
		}
		return tx.AddStock(ctx, "co-1", "prod-a", dec("10"))
	})
	require.NoError(t, err)

	_, err = store.Invoice(ctx, "inv-1")
	assert.NoError(t, err)
	stock, _ := store.Stock(ctx, "co-1", "prod-a")
	assert.True(t, stock.Equal(dec("10")))
}

// =============================================================================
// ISOLATION
// =============================================================================

func TestInvoice_ReturnsIndependentCopies(t *testing.T) {
	// GIVEN: A stored invoice
	// WHEN: A caller mutates the value it read
	// THEN: The store is unaffected until UpdateInvoice

	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.CreateInvoice(ctx, draftInvoice("inv-1")))

	read, err := store.Invoice(ctx, "inv-1")
	require.NoError(t, err)
	read.Total = dec("999")
	read.Lines[0].Qty = dec("999")

	again, err := store.Invoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, again.Total.Equal(dec("50")))
	assert.True(t, again.Lines[0].Qty.Equal(dec("10")))
}

// =============================================================================
// QUERY ORDERING
// =============================================================================

func TestCostHistory_NewestFirstWithCompanyFilter(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.AppendCostHistory(ctx, []trading.CostHistoryEntry{
		{ID: "e1", ProductID: "prod-a", PurchaseID: "p1", CompanyID: "co-1"},
		{ID: "e2", ProductID: "prod-a", PurchaseID: "p2", CompanyID: "co-2"},
		{ID: "e3", ProductID: "prod-a", PurchaseID: "p3", CompanyID: "co-1"},
	}))

	entries, err := store.CostHistory(ctx, "prod-a", "co-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e3", entries[0].ID)
	assert.Equal(t, "e1", entries[1].ID)

	all, err := store.CostHistory(ctx, "prod-a", "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2, "limit applies after filtering")
	assert.Equal(t, "e3", all[0].ID)
}

func TestPendingPostings_SkipsNonPending(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.EnqueuePostings(ctx, []trading.PendingPosting{
		{ID: "p1", SupplierID: "sup-1", Status: trading.PostingPending},
		{ID: "p2", SupplierID: "sup-1", Status: trading.PostingPending},
	}))
	require.NoError(t, store.MarkPosted(ctx, "p1"))

	pending, err := store.PendingPostings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "p2", pending[0].ID)
}

func TestDeletePostingsForReference_PendingOnly(t *testing.T) {
	// GIVEN: Two postings for one expense, one already delivered
	// WHEN: The expense is retracted
	// THEN: Only the undelivered posting disappears; the posted row is
	//       history and stays

	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.EnqueuePostings(ctx, []trading.PendingPosting{
		{ID: "p1", ReferenceType: trading.RefPurchaseExpense, ReferenceID: "exp-1", Status: trading.PostingPending},
		{ID: "p2", ReferenceType: trading.RefPurchaseExpense, ReferenceID: "exp-1", Status: trading.PostingPending},
	}))
	require.NoError(t, store.MarkPosted(ctx, "p1"))

	removed, err := store.DeletePostingsForReference(ctx, trading.RefPurchaseExpense, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
