/*
reconstruct.go - Backward/forward ledger-balance reconstruction

ALGORITHM:
  1. Read currentStock from the stock counter - ground truth as of now.
  2. Gather every historical movement, unbounded in time, from the four
     sources; merge and sort ascending once.
  3. initialQty = currentStock - (totalIn - totalOut): the balance that
     existed before the first ever recorded movement.
  4. Replay forward from initialQty, stamping each movement with its
     post-movement running balance.
  5. openingBalance(window) = initialQty + sum of deltas strictly before
     the window start.
  6. Return a synthetic opening row plus the in-window movements,
     presented reverse-chronologically.

INVARIANT:
  Replaying the entire unrestricted history from initialQty lands exactly
  on currentStock. For any window, openingBalance + in-window deltas
  equals the balance of the window's last movement. With zero movements
  the report is just the opening row carrying currentStock.
*/
package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-core/trading"
)

// =============================================================================
// RECONSTRUCTOR
// =============================================================================

// Window bounds a reconstruction report. Nil endpoints mean unbounded.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// Report is a windowed view over a product's reconstructed stock ledger.
type Report struct {
	ProductID trading.ProductID
	CompanyID trading.CompanyID

	CurrentStock   decimal.Decimal // counter value the report was built from
	InitialQty     decimal.Decimal // balance before the first ever movement
	OpeningBalance decimal.Decimal // balance at the window start

	// Rows is the windowed ledger, newest first; the final row is the
	// synthetic opening row (Source == SourceOpening, Balance == opening).
	Rows []LedgerEvent
}

// ClosingBalance is the running balance after the window's last movement,
// or the opening balance when the window holds no movements.
func (r *Report) ClosingBalance() decimal.Decimal {
	if len(r.Rows) == 0 {
		return r.OpeningBalance
	}
	return r.Rows[0].Balance
}

type Reconstructor struct {
	Store   trading.Store
	Sources []MovementSource
}

// NewReconstructor wires the four standard movement streams.
func NewReconstructor(store trading.Store) *Reconstructor {
	return &Reconstructor{
		Store: store,
		Sources: []MovementSource{
			SalesSource{Store: store},
			PurchasesSource{Store: store},
			ReturnsSource{Store: store},
			DamageSource{Store: store},
		},
	}
}

// Reconstruct rebuilds the stock ledger of a product/company pair. The
// stock counter is authoritative; the report never contradicts it.
func (r *Reconstructor) Reconstruct(ctx context.Context, productID trading.ProductID, companyID trading.CompanyID, window Window) (*Report, error) {
	currentStock, err := r.Store.Stock(ctx, companyID, productID)
	if err != nil {
		return nil, err
	}

	// Full, unbounded history across all sources.
	var events []LedgerEvent
	for _, source := range r.Sources {
		sourceEvents, err := source.Events(ctx, productID, companyID)
		if err != nil {
			return nil, err
		}
		events = append(events, sourceEvents...)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].At.Before(events[j].At)
	})

	totalIn, totalOut := decimal.Zero, decimal.Zero
	for _, e := range events {
		totalIn = totalIn.Add(e.QtyIn)
		totalOut = totalOut.Add(e.QtyOut)
	}
	initialQty := currentStock.Sub(totalIn.Sub(totalOut))

	// Forward replay stamps every movement with its running balance.
	balance := initialQty
	for i := range events {
		balance = balance.Add(events[i].Delta())
		events[i].Balance = balance
	}

	// Opening balance: initial quantity plus everything strictly before
	// the window start.
	opening := initialQty
	if window.Start != nil {
		for _, e := range events {
			if e.At.Before(*window.Start) {
				opening = opening.Add(e.Delta())
			}
		}
	}

	var inWindow []LedgerEvent
	for _, e := range events {
		if window.Start != nil && e.At.Before(*window.Start) {
			continue
		}
		if window.End != nil && e.At.After(*window.End) {
			continue
		}
		inWindow = append(inWindow, e)
	}

	openingAt := time.Time{}
	if window.Start != nil {
		openingAt = *window.Start
	} else if len(events) > 0 {
		openingAt = events[0].At
	}
	rows := make([]LedgerEvent, 0, len(inWindow)+1)
	for i := len(inWindow) - 1; i >= 0; i-- {
		rows = append(rows, inWindow[i])
	}
	rows = append(rows, LedgerEvent{
		At:          openingAt,
		Description: "opening balance",
		Source:      SourceOpening,
		Balance:     opening,
	})

	return &Report{
		ProductID:      productID,
		CompanyID:      companyID,
		CurrentStock:   currentStock,
		InitialQty:     initialQty,
		OpeningBalance: opening,
		Rows:           rows,
	}, nil
}
