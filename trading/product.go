package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PRODUCT - Minimal catalog record needed by purchasing and reporting
// =============================================================================

type SellingUnit string

const (
	UnitPiece SellingUnit = "piece"
	UnitBox   SellingUnit = "box"
)

// Product carries the two facts purchasing needs: how the product is sold
// (single units or a container of units) and its current unit cost. The
// current cost is only ever written by the explicit commit-preview action;
// approval-time landed costs go to the cost history instead.
type Product struct {
	ID          ProductID
	Name        string
	SellingUnit SellingUnit
	UnitsPerBox decimal.Decimal // only meaningful when SellingUnit == UnitBox
	Cost        decimal.Decimal // current unit cost, explicit writes only
	CreatedAt   time.Time
}

// IsBoxed reports whether quantities on purchase lines arrive in containers
// and must be converted to stock units.
func (p *Product) IsBoxed() bool {
	return p.SellingUnit == UnitBox && p.UnitsPerBox.IsPositive()
}
