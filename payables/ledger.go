/*
Package payables holds the supplier payable ledger boundary.

PURPOSE:
  The trading core CREATES payables: it posts CREDIT entries when an
  approval produces receipts. It never reads balances back and never
  posts DEBITs — payments are an external workflow. The Ledger interface
  is therefore deliberately a single Post method.

BALANCE SEMANTICS (owned by the external ledger, mirrored by Memory):
  balance(supplier, currency) = sum(CREDIT) - sum(DEBIT)
  Currencies are never mixed in one balance. A supplier owed 100 USD and
  50 EUR has two balances, not one.

DELIVERY:
  Postings are not sent inline from the approval transaction. The engine
  enqueues outbox rows; the Drainer in outbox.go delivers them with
  retry. See outbox.go.
*/
package payables

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-core/trading"
)

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type EntryType string

const (
	EntryCredit EntryType = "credit" // posted by this core: a payable was created
	EntryDebit  EntryType = "debit"  // posted by the external payment workflow
)

type Entry struct {
	Type          EntryType
	SupplierID    trading.SupplierID
	Amount        decimal.Decimal
	Currency      trading.Currency
	ReferenceType string
	ReferenceID   string
	Description   string
	Date          time.Time
}

// Ledger is the consumed interface of the supplier payable ledger.
type Ledger interface {
	Post(ctx context.Context, entry Entry) error
}

// =============================================================================
// MEMORY LEDGER - In-process implementation for tests and dev mode
// =============================================================================

type balanceKey struct {
	Supplier trading.SupplierID
	Currency trading.Currency
}

type Memory struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Post(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Balance returns sum(CREDIT) - sum(DEBIT) for one supplier in one currency.
func (m *Memory) Balance(supplierID trading.SupplierID, currency trading.Currency) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance := decimal.Zero
	for _, e := range m.entries {
		if e.SupplierID != supplierID || e.Currency != currency {
			continue
		}
		switch e.Type {
		case EntryCredit:
			balance = balance.Add(e.Amount)
		case EntryDebit:
			balance = balance.Sub(e.Amount)
		}
	}
	return balance
}

// Entries returns a copy of all entries for a supplier, in posting order.
func (m *Memory) Entries(supplierID trading.SupplierID) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Entry
	for _, e := range m.entries {
		if e.SupplierID == supplierID {
			result = append(result, e)
		}
	}
	return result
}

// Balances returns every non-zero per-currency balance for a supplier.
func (m *Memory) Balances(supplierID trading.SupplierID) map[trading.Currency]decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := make(map[balanceKey]decimal.Decimal)
	for _, e := range m.entries {
		if e.SupplierID != supplierID {
			continue
		}
		k := balanceKey{Supplier: e.SupplierID, Currency: e.Currency}
		switch e.Type {
		case EntryCredit:
			totals[k] = totals[k].Add(e.Amount)
		case EntryDebit:
			totals[k] = totals[k].Sub(e.Amount)
		}
	}

	result := make(map[trading.Currency]decimal.Decimal, len(totals))
	for k, v := range totals {
		if !v.IsZero() {
			result[k.Currency] = v
		}
	}
	return result
}
