/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients

MONEY & QUANTITIES:
  decimal.Decimal marshals as a quoted string ("12.50"), which is exactly
  what we want: clients must never parse money as a float.

VALIDATION:
  Structural validation (required fields, parseability) happens in the
  handlers; domain validation lives in the trading package.

SEE ALSO:
  - handlers.go: Uses these types
  - trading/: Domain model these map onto
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-core/trading"
)

// =============================================================================
// PRODUCTS
// =============================================================================

type CreateProductRequest struct {
	Name        string          `json:"name"`
	SellingUnit string          `json:"sellingUnit"` // "piece" or "box"
	UnitsPerBox decimal.Decimal `json:"unitsPerBox,omitempty"`
}

type ProductDTO struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	SellingUnit string          `json:"sellingUnit"`
	UnitsPerBox decimal.Decimal `json:"unitsPerBox"`
	Cost        decimal.Decimal `json:"cost"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func toProductDTO(p *trading.Product) ProductDTO {
	return ProductDTO{
		ID:          string(p.ID),
		Name:        p.Name,
		SellingUnit: string(p.SellingUnit),
		UnitsPerBox: p.UnitsPerBox,
		Cost:        p.Cost,
		CreatedAt:   p.CreatedAt,
	}
}

type CommitCostRequest struct {
	Cost decimal.Decimal `json:"cost"`
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceLineRequest struct {
	ProductID string          `json:"productId"`
	Qty       decimal.Decimal `json:"qty"`       // as entered: boxes for boxed products
	UnitPrice decimal.Decimal `json:"unitPrice"` // as entered: per box for boxed products
}

type CreateInvoiceRequest struct {
	CompanyID       string               `json:"companyId"`
	SupplierID      string               `json:"supplierId,omitempty"`
	SourceCompanyID string               `json:"sourceCompanyId,omitempty"`
	Currency        string               `json:"currency"`
	Lines           []InvoiceLineRequest `json:"lines"`
}

type InvoiceLineDTO struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Qty       decimal.Decimal `json:"qty"` // stock units after box conversion
	UnitPrice decimal.Decimal `json:"unitPrice"`
	SubTotal  decimal.Decimal `json:"subTotal"`
}

type InvoiceDTO struct {
	ID              string           `json:"id"`
	CompanyID       string           `json:"companyId"`
	SupplierID      string           `json:"supplierId,omitempty"`
	SourceCompanyID string           `json:"sourceCompanyId,omitempty"`
	Currency        string           `json:"currency"`
	Lines           []InvoiceLineDTO `json:"lines"`
	Total           decimal.Decimal  `json:"total"`
	TotalExpenses   decimal.Decimal  `json:"totalExpenses"`
	FinalTotal      decimal.Decimal  `json:"finalTotal"`
	State           string           `json:"state"`
	ApprovedAt      *time.Time       `json:"approvedAt,omitempty"`
	ApprovedBy      string           `json:"approvedBy,omitempty"`
	ApprovalRounds  int              `json:"approvalRounds"`
	CreatedAt       time.Time        `json:"createdAt"`
}

func toInvoiceDTO(inv *trading.PurchaseInvoice) InvoiceDTO {
	lines := make([]InvoiceLineDTO, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, InvoiceLineDTO{
			ID:        l.ID,
			ProductID: string(l.ProductID),
			Qty:       l.Qty,
			UnitPrice: l.UnitPrice,
			SubTotal:  l.SubTotal,
		})
	}
	dto := InvoiceDTO{
		ID:              string(inv.ID),
		CompanyID:       string(inv.CompanyID),
		SupplierID:      string(inv.SupplierID),
		SourceCompanyID: string(inv.SourceCompanyID),
		Currency:        string(inv.Currency),
		Lines:           lines,
		Total:           inv.Total,
		TotalExpenses:   inv.TotalExpenses,
		FinalTotal:      inv.FinalTotal,
		State:           string(inv.State),
		ApprovedBy:      inv.ApprovedBy(),
		ApprovalRounds:  len(inv.ApprovalEvents),
		CreatedAt:       inv.CreatedAt,
	}
	if at := inv.ApprovedAt(); !at.IsZero() {
		dto.ApprovedAt = &at
	}
	return dto
}

// =============================================================================
// APPROVAL
// =============================================================================

type ExpenseRequest struct {
	CategoryID   string          `json:"categoryId"`
	SupplierID   string          `json:"supplierId,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	ExchangeRate decimal.Decimal `json:"exchangeRate,omitempty"` // omitted means 1.0
	IsActual     bool            `json:"isActual"`
}

func (r ExpenseRequest) toInput() trading.ExpenseInput {
	return trading.ExpenseInput{
		CategoryID:   r.CategoryID,
		SupplierID:   trading.SupplierID(r.SupplierID),
		Amount:       r.Amount,
		Currency:     trading.Currency(r.Currency),
		ExchangeRate: r.ExchangeRate,
		IsActual:     r.IsActual,
	}
}

type ApproveRequest struct {
	ApprovedBy string           `json:"approvedBy"`
	Expenses   []ExpenseRequest `json:"expenses"`
}

type ApprovalResultDTO struct {
	InvoiceID     string          `json:"invoiceId"`
	FirstApproval bool            `json:"firstApproval"`
	TotalExpenses decimal.Decimal `json:"totalExpenses"`
	FinalTotal    decimal.Decimal `json:"finalTotal"`
	ReceiptCount  int             `json:"receiptCount"`
}

// =============================================================================
// EXPENSES & RECEIPTS
// =============================================================================

type ExpenseDTO struct {
	ID              string          `json:"id"`
	InvoiceID       string          `json:"invoiceId"`
	CategoryID      string          `json:"categoryId"`
	SupplierID      string          `json:"supplierId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	ExchangeRate    decimal.Decimal `json:"exchangeRate"`
	ConvertedAmount decimal.Decimal `json:"convertedAmount"`
	IsActual        bool            `json:"isActual"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func toExpenseDTO(e trading.ExpenseItem) ExpenseDTO {
	return ExpenseDTO{
		ID:              string(e.ID),
		InvoiceID:       string(e.InvoiceID),
		CategoryID:      e.CategoryID,
		SupplierID:      string(e.SupplierID),
		Amount:          e.Amount,
		Currency:        string(e.Currency),
		ExchangeRate:    e.ExchangeRate,
		ConvertedAmount: e.ConvertedAmount,
		IsActual:        e.IsActual,
		CreatedAt:       e.CreatedAt,
	}
}

type DeleteExpenseResultDTO struct {
	InvoiceID              string          `json:"invoiceId"`
	RemainingTotalExpenses decimal.Decimal `json:"remainingTotalExpenses"`
	FinalTotal             decimal.Decimal `json:"finalTotal"`
	RetractedReceipts      int             `json:"retractedReceipts"`
}

type ReceiptDTO struct {
	ID         string          `json:"id"`
	InvoiceID  string          `json:"invoiceId"`
	ExpenseID  string          `json:"expenseId,omitempty"`
	SupplierID string          `json:"supplierId"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func toReceiptDTO(r trading.PayableReceipt) ReceiptDTO {
	return ReceiptDTO{
		ID:         string(r.ID),
		InvoiceID:  string(r.InvoiceID),
		ExpenseID:  string(r.ExpenseID),
		SupplierID: string(r.SupplierID),
		Amount:     r.Amount,
		Currency:   string(r.Currency),
		Kind:       string(r.Kind),
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt,
	}
}

// =============================================================================
// COST HISTORY & PREVIEW
// =============================================================================

type CostHistoryEntryDTO struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"productId"`
	PurchaseID       string          `json:"purchaseId"`
	CompanyID        string          `json:"companyId"`
	PurchasePrice    decimal.Decimal `json:"purchasePrice"`
	ExpensePerUnit   decimal.Decimal `json:"expensePerUnit"`
	TotalCostPerUnit decimal.Decimal `json:"totalCostPerUnit"`
	Quantity         decimal.Decimal `json:"quantity"`
	Policy           string          `json:"policy"`
	CreatedAt        time.Time       `json:"createdAt"`
}

func toCostHistoryDTO(e trading.CostHistoryEntry) CostHistoryEntryDTO {
	return CostHistoryEntryDTO{
		ID:               e.ID,
		ProductID:        string(e.ProductID),
		PurchaseID:       string(e.PurchaseID),
		CompanyID:        string(e.CompanyID),
		PurchasePrice:    e.PurchasePrice,
		ExpensePerUnit:   e.ExpensePerUnit,
		TotalCostPerUnit: e.TotalCostPerUnit,
		Quantity:         e.Quantity,
		Policy:           e.Policy,
		CreatedAt:        e.CreatedAt,
	}
}

type CostPreviewRequest struct {
	ExchangeRate decimal.Decimal `json:"exchangeRate,omitempty"` // omitted means 1.0
}

type LinePreviewDTO struct {
	ProductID    string          `json:"productId"`
	Qty          decimal.Decimal `json:"qty"`
	ValueInBase  decimal.Decimal `json:"valueInBase"`
	ValuePercent decimal.Decimal `json:"valuePercent"`
	ExpenseShare decimal.Decimal `json:"expenseShare"`
	CostPerUnit  decimal.Decimal `json:"costPerUnit"`
}

// =============================================================================
// MOVEMENTS & LEDGER
// =============================================================================

type RecordMovementRequest struct {
	Kind        string          `json:"kind"` // sale | sale_return | damage
	CompanyID   string          `json:"companyId"`
	ProductID   string          `json:"productId"`
	Qty         decimal.Decimal `json:"qty"`
	FulfilledBy string          `json:"fulfilledBy,omitempty"`
	Approved    bool            `json:"approved"`
	Reference   string          `json:"reference,omitempty"`
	At          time.Time       `json:"at"`
}

type LedgerRowDTO struct {
	At          time.Time       `json:"at"`
	QtyIn       decimal.Decimal `json:"qtyIn"`
	QtyOut      decimal.Decimal `json:"qtyOut"`
	Description string          `json:"description"`
	Source      string          `json:"source"`
	Balance     decimal.Decimal `json:"balance"`
}

type LedgerReportDTO struct {
	ProductID      string          `json:"productId"`
	CompanyID      string          `json:"companyId"`
	CurrentStock   decimal.Decimal `json:"currentStock"`
	InitialQty     decimal.Decimal `json:"initialQty"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	ClosingBalance decimal.Decimal `json:"closingBalance"`
	Rows           []LedgerRowDTO  `json:"rows"`
}

// =============================================================================
// PAYABLES
// =============================================================================

type SupplierBalanceDTO struct {
	SupplierID string                     `json:"supplierId"`
	Balances   map[string]decimal.Decimal `json:"balances"` // currency -> amount owed
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
