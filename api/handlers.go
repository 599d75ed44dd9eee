/*
handlers.go - HTTP API handlers for the trading core

PURPOSE:
  Exposes the trading core via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Products:
    POST   /api/products                     Create product
    GET    /api/products/{id}                Get product
    POST   /api/products/{id}/cost           Commit previewed unit cost
    GET    /api/products/{id}/cost-history   Landed-cost history
    GET    /api/products/{id}/ledger         Reconstructed stock ledger

  Invoices:
    POST   /api/invoices                     Create draft invoice
    GET    /api/invoices/{id}                Get invoice
    DELETE /api/invoices/{id}                Delete while reversible
    POST   /api/invoices/{id}/approve        Approval round (expenses attached)
    POST   /api/invoices/{id}/cost-preview   Value-weighted what-if
    GET    /api/invoices/{id}/expenses       List expense rows
    GET    /api/invoices/{id}/receipts       List payable receipts

  Expenses:
    DELETE /api/expenses/{id}                Retract a pending expense row

  Movements & payables:
    POST   /api/movements                    Record sale/return/damage row
    GET    /api/payables/{supplierId}/balance  Per-currency supplier balance

ERROR HANDLING:
  The trading error taxonomy maps onto HTTP status codes:
  - 400: validation errors
  - 404: missing invoice / expense / product
  - 409: no-op re-approval, integrity violations
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/trade-core/allocation"
	"github.com/warp/trade-core/inventory"
	"github.com/warp/trade-core/payables"
	"github.com/warp/trade-core/trading"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         trading.TxStore
	Engine        *allocation.Engine
	Reconstructor *inventory.Reconstructor
	Ledger        *payables.Memory

	log zerolog.Logger
}

func NewHandler(store trading.TxStore, engine *allocation.Engine, recon *inventory.Reconstructor, ledger *payables.Memory, log zerolog.Logger) *Handler {
	return &Handler{
		Store:         store,
		Engine:        engine,
		Reconstructor: recon,
		Ledger:        ledger,
		log:           log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// PRODUCT ENDPOINTS
// =============================================================================

// CreateProduct creates a catalog record.
// POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Product name is required", nil)
		return
	}
	unit := trading.SellingUnit(req.SellingUnit)
	if unit == "" {
		unit = trading.UnitPiece
	}
	if unit != trading.UnitPiece && unit != trading.UnitBox {
		writeError(w, http.StatusBadRequest, "Selling unit must be piece or box", nil)
		return
	}
	if unit == trading.UnitBox && !req.UnitsPerBox.IsPositive() {
		writeError(w, http.StatusBadRequest, "Boxed products need a positive unitsPerBox", nil)
		return
	}

	product := &trading.Product{
		ID:          trading.ProductID(uuid.NewString()),
		Name:        req.Name,
		SellingUnit: unit,
		UnitsPerBox: req.UnitsPerBox,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.Store.CreateProduct(r.Context(), product); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(product))
}

// GetProduct returns a single product.
// GET /api/products/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := trading.ProductID(chi.URLParam(r, "id"))

	product, err := h.Store.Product(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(product))
}

// CommitCost writes a previewed unit cost onto the product record. This
// is the single write path for Product.Cost.
// POST /api/products/{id}/cost
func (h *Handler) CommitCost(w http.ResponseWriter, r *http.Request) {
	id := trading.ProductID(chi.URLParam(r, "id"))

	var req CommitCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Engine.CommitCost(r.Context(), id, req.Cost); err != nil {
		writeDomainError(w, err)
		return
	}
	product, err := h.Store.Product(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(product))
}

// GetCostHistory returns landed-cost entries, most recent first.
// GET /api/products/{id}/cost-history?company=&limit=
func (h *Handler) GetCostHistory(w http.ResponseWriter, r *http.Request) {
	id := trading.ProductID(chi.URLParam(r, "id"))
	companyID := trading.CompanyID(r.URL.Query().Get("company"))
	limit := intQuery(r, "limit", 0)

	entries, err := h.Engine.CostHistory(r.Context(), id, companyID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CostHistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toCostHistoryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLedger reconstructs the stock ledger for a product/company pair.
// GET /api/products/{id}/ledger?company=&from=&to=
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := trading.ProductID(chi.URLParam(r, "id"))
	companyID := trading.CompanyID(r.URL.Query().Get("company"))
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "Query parameter company is required", nil)
		return
	}

	var window inventory.Window
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from timestamp", err)
			return
		}
		window.Start = &t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to timestamp", err)
			return
		}
		window.End = &t
	}

	report, err := h.Reconstructor.Reconstruct(r.Context(), id, companyID, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rows := make([]LedgerRowDTO, len(report.Rows))
	for i, row := range report.Rows {
		rows[i] = LedgerRowDTO{
			At:          row.At,
			QtyIn:       row.QtyIn,
			QtyOut:      row.QtyOut,
			Description: row.Description,
			Source:      string(row.Source),
			Balance:     row.Balance,
		}
	}
	writeJSON(w, http.StatusOK, LedgerReportDTO{
		ProductID:      string(report.ProductID),
		CompanyID:      string(report.CompanyID),
		CurrentStock:   report.CurrentStock,
		InitialQty:     report.InitialQty,
		OpeningBalance: report.OpeningBalance,
		ClosingBalance: report.ClosingBalance(),
		Rows:           rows,
	})
}

// =============================================================================
// INVOICE ENDPOINTS
// =============================================================================

// CreateInvoice creates a draft purchase invoice. Quantities and prices
// arrive as entered (boxes for boxed products) and are converted to stock
// units line by line.
// POST /api/invoices
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "Company is required", nil)
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "Invoice needs at least one line", nil)
		return
	}
	currency := trading.Currency(req.Currency)
	if currency == "" {
		currency = trading.CurrencyUSD
	}

	inv := &trading.PurchaseInvoice{
		ID:              trading.InvoiceID(uuid.NewString()),
		CompanyID:       trading.CompanyID(req.CompanyID),
		SupplierID:      trading.SupplierID(req.SupplierID),
		SourceCompanyID: trading.CompanyID(req.SourceCompanyID),
		Currency:        currency,
		State:           trading.StateDraft,
		CreatedAt:       time.Now().UTC(),
	}
	for _, lr := range req.Lines {
		if !lr.Qty.IsPositive() || !lr.UnitPrice.IsPositive() {
			writeError(w, http.StatusBadRequest, "Line quantity and unit price must be positive", nil)
			return
		}
		product, err := h.Store.Product(r.Context(), trading.ProductID(lr.ProductID))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		line := trading.NewPurchaseLine(uuid.NewString(), product, lr.Qty, lr.UnitPrice)
		inv.Lines = append(inv.Lines, line)
		inv.Total = inv.Total.Add(line.SubTotal)
	}
	inv.FinalTotal = inv.Total

	if err := h.Store.CreateInvoice(r.Context(), inv); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

// GetInvoice returns a single invoice with its lines.
// GET /api/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := trading.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Store.Invoice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// DeleteInvoice removes an invoice while it is still fully reversible.
// DELETE /api/invoices/{id}
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id := trading.InvoiceID(chi.URLParam(r, "id"))

	if err := h.Engine.DeleteInvoice(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApproveInvoice runs one approval round with an optional expense batch.
// POST /api/invoices/{id}/approve
func (h *Handler) ApproveInvoice(w http.ResponseWriter, r *http.Request) {
	id := trading.InvoiceID(chi.URLParam(r, "id"))

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	inputs := make([]trading.ExpenseInput, len(req.Expenses))
	for i, er := range req.Expenses {
		inputs[i] = er.toInput()
	}

	result, err := h.Engine.Approve(r.Context(), id, inputs, req.ApprovedBy)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ApprovalResultDTO{
		InvoiceID:     string(result.InvoiceID),
		FirstApproval: result.FirstApproval,
		TotalExpenses: result.TotalExpenses,
		FinalTotal:    result.FinalTotal,
		ReceiptCount:  len(result.Receipts),
	})
}

// CostPreview computes the value-weighted what-if distribution. Nothing
// is persisted.
// POST /api/invoices/{id}/cost-preview
func (h *Handler) CostPreview(w http.ResponseWriter, r *http.Request) {
	id := trading.InvoiceID(chi.URLParam(r, "id"))

	var req CostPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	previews, err := h.Engine.Preview(r.Context(), id, req.ExchangeRate)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]LinePreviewDTO, len(previews))
	for i, p := range previews {
		dtos[i] = LinePreviewDTO{
			ProductID:    string(p.ProductID),
			Qty:          p.Qty,
			ValueInBase:  p.ValueInBase,
			ValuePercent: p.ValuePercent,
			ExpenseShare: p.ExpenseShare,
			CostPerUnit:  p.CostPerUnit,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListExpenses returns every expense row attached to an invoice.
// GET /api/invoices/{id}/expenses
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	id := trading.InvoiceID(chi.URLParam(r, "id"))

	expenses, err := h.Engine.ListExpenses(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]ExpenseDTO, len(expenses))
	for i, e := range expenses {
		dtos[i] = toExpenseDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListReceipts returns the payable receipts of an invoice.
// GET /api/invoices/{id}/receipts
func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	id := trading.InvoiceID(chi.URLParam(r, "id"))

	if _, err := h.Store.Invoice(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	receipts, err := h.Store.Receipts(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list receipts", err)
		return
	}
	dtos := make([]ReceiptDTO, len(receipts))
	for i, rc := range receipts {
		dtos[i] = toReceiptDTO(rc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EXPENSE ENDPOINTS
// =============================================================================

// DeleteExpense retracts a pending expense row and its receipts.
// DELETE /api/expenses/{id}
func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := trading.ExpenseID(chi.URLParam(r, "id"))

	result, err := h.Engine.DeleteExpense(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteExpenseResultDTO{
		InvoiceID:              string(result.InvoiceID),
		RemainingTotalExpenses: result.RemainingTotalExpenses,
		FinalTotal:             result.FinalTotal,
		RetractedReceipts:      result.RetractedReceiptCount,
	})
}

// =============================================================================
// MOVEMENT & PAYABLE ENDPOINTS
// =============================================================================

// RecordMovement stores a raw sale / return / damage document for ledger
// reconstruction. Recording a movement does not change the stock counter;
// the upstream document workflow owns that.
// POST /api/movements
func (h *Handler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var req RecordMovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	kind := trading.MovementKind(req.Kind)
	switch kind {
	case trading.MovementSale, trading.MovementReturn, trading.MovementDamage:
	default:
		writeError(w, http.StatusBadRequest, "Movement kind must be sale, sale_return or damage", nil)
		return
	}
	if req.CompanyID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "Company and product are required", nil)
		return
	}
	if !req.Qty.IsPositive() {
		writeError(w, http.StatusBadRequest, "Quantity must be positive", nil)
		return
	}
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	movement := &trading.Movement{
		ID:          uuid.NewString(),
		Kind:        kind,
		CompanyID:   trading.CompanyID(req.CompanyID),
		ProductID:   trading.ProductID(req.ProductID),
		Qty:         req.Qty,
		FulfilledBy: trading.CompanyID(req.FulfilledBy),
		Approved:    req.Approved,
		Reference:   req.Reference,
		At:          at,
	}
	if err := h.Store.RecordMovement(r.Context(), movement); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record movement", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// SupplierBalance exposes the memory payable ledger for dev and tests.
// GET /api/payables/{supplierId}/balance
func (h *Handler) SupplierBalance(w http.ResponseWriter, r *http.Request) {
	supplierID := trading.SupplierID(chi.URLParam(r, "supplierId"))

	balances := h.Ledger.Balances(supplierID)
	dto := SupplierBalanceDTO{
		SupplierID: string(supplierID),
		Balances:   make(map[string]decimal.Decimal, len(balances)),
	}
	for currency, amount := range balances {
		dto.Balances[string(currency)] = amount
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the trading error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case trading.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, trading.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, trading.ErrAlreadyApprovedNoOp),
		errors.Is(err, trading.ErrIntegrityViolation):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}
