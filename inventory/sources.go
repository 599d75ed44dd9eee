/*
sources.go - The four raw movement streams

SCOPING RULES:
  Sales:     qtyOut. A company sees sales it fulfilled from its own
             stock: its local sales, plus branch sales it shipped on
             their behalf (FulfilledBy). A branch whose sale was shipped
             by the parent does NOT see that sale - its stock never moved.
  Purchases: qtyIn. Approved invoices of the company, whether bought
             from an external supplier or inter-company from a parent.
  Returns:   qtyIn. Approved sale returns owned by the company.
  Damage:    qtyOut. Approved damage write-offs owned by the company.
*/
package inventory

import (
	"context"
	"fmt"

	"github.com/warp/trade-core/trading"
)

// =============================================================================
// SALES
// =============================================================================

type SalesSource struct {
	Store trading.Store
}

func (SalesSource) Kind() SourceKind { return SourceSale }

func (s SalesSource) Events(ctx context.Context, productID trading.ProductID, companyID trading.CompanyID) ([]LedgerEvent, error) {
	movements, err := s.Store.Movements(ctx, productID, trading.MovementSale)
	if err != nil {
		return nil, err
	}

	var events []LedgerEvent
	for _, m := range movements {
		local := m.CompanyID == companyID && m.FulfilledBy == ""
		fulfilled := m.FulfilledBy == companyID
		if !local && !fulfilled {
			continue
		}
		desc := fmt.Sprintf("sale %s", m.Reference)
		if fulfilled && m.CompanyID != companyID {
			desc = fmt.Sprintf("sale %s (fulfilled for %s)", m.Reference, m.CompanyID)
		}
		events = append(events, LedgerEvent{
			At:          m.At,
			QtyOut:      m.Qty,
			Description: desc,
			Source:      SourceSale,
		})
	}
	return events, nil
}

// =============================================================================
// PURCHASES
// =============================================================================

type PurchasesSource struct {
	Store trading.Store
}

func (PurchasesSource) Kind() SourceKind { return SourcePurchase }

func (s PurchasesSource) Events(ctx context.Context, productID trading.ProductID, companyID trading.CompanyID) ([]LedgerEvent, error) {
	invoices, err := s.Store.ApprovedInvoices(ctx, productID, companyID)
	if err != nil {
		return nil, err
	}

	var events []LedgerEvent
	for _, inv := range invoices {
		for _, line := range inv.Lines {
			if line.ProductID != productID {
				continue
			}
			desc := fmt.Sprintf("purchase %s", inv.ID)
			if inv.SourceCompanyID != "" {
				desc = fmt.Sprintf("inter-company purchase %s from %s", inv.ID, inv.SourceCompanyID)
			}
			events = append(events, LedgerEvent{
				At:          inv.ApprovedAt(),
				QtyIn:       line.Qty,
				Description: desc,
				Source:      SourcePurchase,
			})
		}
	}
	return events, nil
}

// =============================================================================
// SALE RETURNS
// =============================================================================

type ReturnsSource struct {
	Store trading.Store
}

func (ReturnsSource) Kind() SourceKind { return SourceReturn }

func (s ReturnsSource) Events(ctx context.Context, productID trading.ProductID, companyID trading.CompanyID) ([]LedgerEvent, error) {
	movements, err := s.Store.Movements(ctx, productID, trading.MovementReturn)
	if err != nil {
		return nil, err
	}

	var events []LedgerEvent
	for _, m := range movements {
		if m.CompanyID != companyID {
			continue
		}
		events = append(events, LedgerEvent{
			At:          m.At,
			QtyIn:       m.Qty,
			Description: fmt.Sprintf("sale return %s", m.Reference),
			Source:      SourceReturn,
		})
	}
	return events, nil
}

// =============================================================================
// DAMAGE WRITE-OFFS
// =============================================================================

type DamageSource struct {
	Store trading.Store
}

func (DamageSource) Kind() SourceKind { return SourceDamage }

func (s DamageSource) Events(ctx context.Context, productID trading.ProductID, companyID trading.CompanyID) ([]LedgerEvent, error) {
	movements, err := s.Store.Movements(ctx, productID, trading.MovementDamage)
	if err != nil {
		return nil, err
	}

	var events []LedgerEvent
	for _, m := range movements {
		if m.CompanyID != companyID {
			continue
		}
		events = append(events, LedgerEvent{
			At:          m.At,
			QtyOut:      m.Qty,
			Description: fmt.Sprintf("damage write-off %s", m.Reference),
			Source:      SourceDamage,
		})
	}
	return events, nil
}
