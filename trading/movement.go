/*
movement.go - Raw inventory movement documents

PURPOSE:
  Sales, sale returns and damage write-offs are recorded as raw rows with
  a timestamp, a positive quantity and company scoping. There is no stored
  running-balance ledger; the inventory reconstructor derives balances by
  replaying these rows together with approved purchases.

PARENT FULFILLMENT:
  A sale row may carry FulfilledBy: the parent company whose stock
  actually shipped the goods on behalf of a branch. Such a sale appears
  in the parent's ledger (its stock moved) and not in the branch's.
*/
package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

type MovementKind string

const (
	MovementSale   MovementKind = "sale"
	MovementReturn MovementKind = "sale_return"
	MovementDamage MovementKind = "damage"
)

type Movement struct {
	ID        string
	Kind      MovementKind
	CompanyID CompanyID
	ProductID ProductID
	Qty       decimal.Decimal // always positive; kind determines direction

	// FulfilledBy is set on sales shipped from another company's stock
	// (parent fulfilling a branch order). Empty for local fulfillment.
	FulfilledBy CompanyID

	Approved  bool
	Reference string // document number shown in ledger descriptions
	At        time.Time
}
