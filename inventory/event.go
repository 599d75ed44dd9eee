/*
Package inventory reconstructs historical stock balances.

PURPOSE:
  The platform stores no running-balance table. The single ground truth
  is the current stock counter; history lives in raw documents spread
  over heterogeneous streams (sales, approved purchases, sale returns,
  damage write-offs). This package unifies those streams behind one
  LedgerEvent shape, back-solves the balance that existed before the
  first recorded movement, and replays forward to stamp every movement
  with its running balance.

READ-ONLY:
  Nothing here mutates anything. The reconstructor may run concurrently
  with approvals and can be stale by one in-flight approval, which is
  acceptable for reporting.
*/
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-core/trading"
)

// =============================================================================
// LEDGER EVENT
// =============================================================================

type SourceKind string

const (
	SourceOpening  SourceKind = "opening" // synthetic row, not a movement
	SourceSale     SourceKind = "sale"
	SourcePurchase SourceKind = "purchase"
	SourceReturn   SourceKind = "sale_return"
	SourceDamage   SourceKind = "damage"
)

// LedgerEvent is one stock movement normalized out of its source stream.
// Exactly one of QtyIn/QtyOut is positive for real movements; the
// synthetic opening row has both at zero and carries the opening balance.
type LedgerEvent struct {
	At          time.Time
	QtyIn       decimal.Decimal
	QtyOut      decimal.Decimal
	Description string
	Source      SourceKind

	// Balance is the post-movement running balance, stamped during replay.
	Balance decimal.Decimal
}

// Delta is the signed stock effect of the event.
func (e LedgerEvent) Delta() decimal.Decimal {
	return e.QtyIn.Sub(e.QtyOut)
}

// MovementSource adapts one raw document stream into ledger events for a
// product/company pair. Implementations own the stream's scoping rules
// (approval status, branch fulfillment, inter-company purchases).
type MovementSource interface {
	Kind() SourceKind
	Events(ctx context.Context, productID trading.ProductID, companyID trading.CompanyID) ([]LedgerEvent, error)
}
