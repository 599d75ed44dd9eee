package payables_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trade-core/payables"
	"github.com/warp/trade-core/store/memory"
	"github.com/warp/trade-core/trading"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(s string) decimal.Decimal { return trading.MustDecimal(s) }

// flakyLedger fails the first failures calls to Post, then delegates.
type flakyLedger struct {
	inner    *payables.Memory
	failures int
	calls    int
}

func (f *flakyLedger) Post(ctx context.Context, entry payables.Entry) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("ledger unavailable")
	}
	return f.inner.Post(ctx, entry)
}

func posting(id string, supplier trading.SupplierID, amount string, currency trading.Currency) trading.PendingPosting {
	return trading.PendingPosting{
		ID:            id,
		SupplierID:    supplier,
		Amount:        dec(amount),
		Currency:      currency,
		ReferenceType: trading.RefPurchaseInvoice,
		ReferenceID:   "inv-1",
		Description:   "purchase invoice inv-1",
		Date:          time.Now().UTC(),
		Status:        trading.PostingPending,
	}
}

func newDrainer(store *memory.Memory, ledger payables.Ledger) *payables.Drainer {
	d := payables.NewDrainer(store, ledger, zerolog.Nop())
	d.MaxAttempts = 3
	return d
}

// =============================================================================
// DELIVERY
// =============================================================================

func TestDrainOnce_PostsCreditAndMarks(t *testing.T) {
	// GIVEN: Two queued postings for the same supplier
	// WHEN: Draining once
	// THEN: Both land as CREDIT entries and the queue is empty

	store := memory.New()
	ledger := payables.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.EnqueuePostings(ctx, []trading.PendingPosting{
		posting("p1", "sup-1", "100", trading.CurrencyUSD),
		posting("p2", "sup-1", "20", trading.CurrencyUSD),
	}))

	posted := newDrainer(store, ledger).DrainOnce(ctx)
	assert.Equal(t, 2, posted)

	assert.True(t, ledger.Balance("sup-1", trading.CurrencyUSD).Equal(dec("120")))

	pending, err := store.PendingPostings(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainOnce_BalancesStayPerCurrency(t *testing.T) {
	// GIVEN: Postings in two currencies for one supplier
	// WHEN: Draining
	// THEN: The supplier carries two separate balances, never a mixed sum

	store := memory.New()
	ledger := payables.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.EnqueuePostings(ctx, []trading.PendingPosting{
		posting("p1", "sup-1", "100", trading.CurrencyUSD),
		posting("p2", "sup-1", "50", trading.CurrencyEUR),
	}))

	newDrainer(store, ledger).DrainOnce(ctx)

	balances := ledger.Balances("sup-1")
	require.Len(t, balances, 2)
	assert.True(t, balances[trading.CurrencyUSD].Equal(dec("100")))
	assert.True(t, balances[trading.CurrencyEUR].Equal(dec("50")))
}

// =============================================================================
// RETRY & PARKING
// =============================================================================

func TestDrainOnce_RetriesAcrossPasses(t *testing.T) {
	// GIVEN: A ledger that fails twice before recovering
	// WHEN: Draining repeatedly
	// THEN: The posting survives the outage and is delivered exactly once

	store := memory.New()
	ledger := &flakyLedger{inner: payables.NewMemory(), failures: 2}
	ctx := context.Background()
	require.NoError(t, store.EnqueuePostings(ctx, []trading.PendingPosting{
		posting("p1", "sup-1", "100", trading.CurrencyUSD),
	}))
	drainer := newDrainer(store, ledger)

	assert.Equal(t, 0, drainer.DrainOnce(ctx))
	assert.Equal(t, 0, drainer.DrainOnce(ctx))
	assert.Equal(t, 1, drainer.DrainOnce(ctx))

	assert.True(t, ledger.inner.Balance("sup-1", trading.CurrencyUSD).Equal(dec("100")))
	assert.Len(t, ledger.inner.Entries("sup-1"), 1)
}

func TestDrainOnce_ParksAfterMaxAttempts(t *testing.T) {
	// GIVEN: A ledger that never recovers
	// WHEN: Draining past the retry budget
	// THEN: The posting is parked as failed and no longer retried

	store := memory.New()
	ledger := &flakyLedger{inner: payables.NewMemory(), failures: 100}
	ctx := context.Background()
	require.NoError(t, store.EnqueuePostings(ctx, []trading.PendingPosting{
		posting("p1", "sup-1", "100", trading.CurrencyUSD),
	}))
	drainer := newDrainer(store, ledger)

	for i := 0; i < drainer.MaxAttempts; i++ {
		drainer.DrainOnce(ctx)
	}

	pending, err := store.PendingPostings(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "parked posting must leave the pending queue")

	callsBefore := ledger.calls
	drainer.DrainOnce(ctx)
	assert.Equal(t, callsBefore, ledger.calls, "parked posting is not retried")
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestDrainer_StartStopDrainsQueuedWork(t *testing.T) {
	// GIVEN: A queued posting and a running drainer with a short tick
	// WHEN: Waiting one interval
	// THEN: The posting is delivered by the background loop

	store := memory.New()
	ledger := payables.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.EnqueuePostings(ctx, []trading.PendingPosting{
		posting("p1", "sup-1", "100", trading.CurrencyUSD),
	}))

	drainer := newDrainer(store, ledger)
	drainer.Interval = 10 * time.Millisecond
	drainer.Start()
	defer drainer.Stop()

	require.Eventually(t, func() bool {
		return ledger.Balance("sup-1", trading.CurrencyUSD).Equal(dec("100"))
	}, time.Second, 5*time.Millisecond)
}

// =============================================================================
// MEMORY LEDGER
// =============================================================================

func TestMemoryLedger_DebitsReduceBalance(t *testing.T) {
	// GIVEN: A 100.00 credit posted by the core
	// WHEN: The external payment workflow posts a 40.00 debit
	// THEN: The balance is 60.00

	ledger := payables.NewMemory()
	ctx := context.Background()
	require.NoError(t, ledger.Post(ctx, payables.Entry{
		Type: payables.EntryCredit, SupplierID: "sup-1",
		Amount: dec("100"), Currency: trading.CurrencyUSD,
	}))
	require.NoError(t, ledger.Post(ctx, payables.Entry{
		Type: payables.EntryDebit, SupplierID: "sup-1",
		Amount: dec("40"), Currency: trading.CurrencyUSD,
	}))

	assert.True(t, ledger.Balance("sup-1", trading.CurrencyUSD).Equal(dec("60")))
}
