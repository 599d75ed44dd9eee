package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trade-core/allocation"
	"github.com/warp/trade-core/api"
	"github.com/warp/trade-core/inventory"
	"github.com/warp/trade-core/payables"
	"github.com/warp/trade-core/store/memory"
	"github.com/warp/trade-core/trading"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router http.Handler
	store  *memory.Memory
	ledger *payables.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	engine := allocation.NewEngine(store, allocation.Uniform{}, zerolog.Nop())
	recon := inventory.NewReconstructor(store)
	ledger := payables.NewMemory()
	handler := api.NewHandler(store, engine, recon, ledger, zerolog.Nop())
	return &testServer{router: api.NewRouter(handler), store: store, ledger: ledger}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func (s *testServer) createProduct(t *testing.T, body map[string]any) api.ProductDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/products", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var dto api.ProductDTO
	decodeInto(t, rec, &dto)
	return dto
}

func (s *testServer) createInvoice(t *testing.T, body map[string]any) api.InvoiceDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/invoices", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var dto api.InvoiceDTO
	decodeInto(t, rec, &dto)
	return dto
}

// =============================================================================
// PRODUCTS
// =============================================================================

func TestAPI_ProductLifecycle(t *testing.T) {
	s := newTestServer(t)

	created := s.createProduct(t, map[string]any{"name": "Widget", "sellingUnit": "piece"})
	assert.NotEmpty(t, created.ID)

	rec := s.do(t, http.MethodGet, "/api/products/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/products/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CreateProduct_Validation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/products", map[string]any{"sellingUnit": "piece"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "name required")

	rec = s.do(t, http.MethodPost, "/api/products", map[string]any{"name": "Crate", "sellingUnit": "box"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "boxed product needs unitsPerBox")
}

// =============================================================================
// INVOICES
// =============================================================================

func TestAPI_CreateInvoice_BoxConversion(t *testing.T) {
	// GIVEN: A product sold in boxes of 12
	// WHEN: Buying 3 boxes at 24.00/box
	// THEN: The stored line is 36 units at 2.00/unit, subtotal 72.00

	s := newTestServer(t)
	product := s.createProduct(t, map[string]any{
		"name": "Bottles", "sellingUnit": "box", "unitsPerBox": "12",
	})

	inv := s.createInvoice(t, map[string]any{
		"companyId": "co-1",
		"currency":  "USD",
		"lines": []map[string]any{
			{"productId": product.ID, "qty": "3", "unitPrice": "24"},
		},
	})

	require.Len(t, inv.Lines, 1)
	assert.True(t, inv.Lines[0].Qty.Equal(trading.MustDecimal("36")))
	assert.True(t, inv.Lines[0].UnitPrice.Equal(trading.MustDecimal("2")))
	assert.True(t, inv.Total.Equal(trading.MustDecimal("72")))
	assert.Equal(t, "draft", inv.State)
}

func TestAPI_ApproveFlow(t *testing.T) {
	s := newTestServer(t)
	product := s.createProduct(t, map[string]any{"name": "Widget", "sellingUnit": "piece"})

	inv := s.createInvoice(t, map[string]any{
		"companyId":  "co-1",
		"supplierId": "sup-main",
		"currency":   "USD",
		"lines": []map[string]any{
			{"productId": product.ID, "qty": "30", "unitPrice": "2"},
		},
	})

	// Approve with a freight expense.
	rec := s.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/approve", map[string]any{
		"approvedBy": "alice",
		"expenses": []map[string]any{
			{"categoryId": "freight", "supplierId": "sup-freight", "amount": "15", "isActual": true},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result api.ApprovalResultDTO
	decodeInto(t, rec, &result)
	assert.True(t, result.FirstApproval)
	assert.True(t, result.FinalTotal.Equal(trading.MustDecimal("75")))
	assert.Equal(t, 2, result.ReceiptCount)

	// Empty re-approval conflicts.
	rec = s.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/approve", map[string]any{"approvedBy": "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Expenses and receipts are listable.
	rec = s.do(t, http.MethodGet, "/api/invoices/"+inv.ID+"/expenses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var expenses []api.ExpenseDTO
	decodeInto(t, rec, &expenses)
	require.Len(t, expenses, 1)

	rec = s.do(t, http.MethodGet, "/api/invoices/"+inv.ID+"/receipts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var receipts []api.ReceiptDTO
	decodeInto(t, rec, &receipts)
	assert.Len(t, receipts, 2)

	// Cost history is exposed per product.
	rec = s.do(t, http.MethodGet, "/api/products/"+product.ID+"/cost-history?company=co-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []api.CostHistoryEntryDTO
	decodeInto(t, rec, &history)
	require.Len(t, history, 1)
	assert.Equal(t, "uniform", history[0].Policy)
	assert.True(t, history[0].TotalCostPerUnit.Equal(trading.MustDecimal("2.5")), "2 + 15/30")

	// Delete the expense; totals shrink back.
	rec = s.do(t, http.MethodDelete, "/api/expenses/"+expenses[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deleted api.DeleteExpenseResultDTO
	decodeInto(t, rec, &deleted)
	assert.True(t, deleted.FinalTotal.Equal(trading.MustDecimal("60")))
	assert.Equal(t, 1, deleted.RetractedReceipts)
}

func TestAPI_CostPreview(t *testing.T) {
	s := newTestServer(t)
	product := s.createProduct(t, map[string]any{"name": "Widget", "sellingUnit": "piece"})

	inv := s.createInvoice(t, map[string]any{
		"companyId": "co-1",
		"currency":  "USD",
		"lines": []map[string]any{
			{"productId": product.ID, "qty": "10", "unitPrice": "5"},
		},
	})
	rec := s.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/approve", map[string]any{
		"approvedBy": "alice",
		"expenses": []map[string]any{
			{"categoryId": "freight", "amount": "20"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/cost-preview", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var previews []api.LinePreviewDTO
	decodeInto(t, rec, &previews)
	require.Len(t, previews, 1)
	assert.True(t, previews[0].CostPerUnit.Equal(trading.MustDecimal("7")), "(50+20)/10")

	// Committing the previewed cost is a separate explicit call.
	rec = s.do(t, http.MethodPost, "/api/products/"+product.ID+"/cost",
		map[string]any{"cost": "7"})
	require.Equal(t, http.StatusOK, rec.Code)
	var dto api.ProductDTO
	decodeInto(t, rec, &dto)
	assert.True(t, dto.Cost.Equal(trading.MustDecimal("7")))
}

func TestAPI_DeleteInvoice(t *testing.T) {
	s := newTestServer(t)
	product := s.createProduct(t, map[string]any{"name": "Widget", "sellingUnit": "piece"})
	inv := s.createInvoice(t, map[string]any{
		"companyId": "co-1",
		"currency":  "USD",
		"lines":     []map[string]any{{"productId": product.ID, "qty": "5", "unitPrice": "2"}},
	})

	rec := s.do(t, http.MethodDelete, "/api/invoices/"+inv.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/invoices/"+inv.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// MOVEMENTS & LEDGER
// =============================================================================

func TestAPI_MovementsAndLedger(t *testing.T) {
	s := newTestServer(t)
	product := s.createProduct(t, map[string]any{"name": "Widget", "sellingUnit": "piece"})

	// Receive 30 units via an approved purchase.
	inv := s.createInvoice(t, map[string]any{
		"companyId": "co-1",
		"currency":  "USD",
		"lines":     []map[string]any{{"productId": product.ID, "qty": "30", "unitPrice": "2"}},
	})
	rec := s.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/approve",
		map[string]any{"approvedBy": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Sell 10.
	rec = s.do(t, http.MethodPost, "/api/movements", map[string]any{
		"kind": "sale", "companyId": "co-1", "productId": product.ID,
		"qty": "10", "approved": true, "reference": "SO-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	// The sale document does not move the counter here; mirror the stock
	// effect the upstream workflow would apply.
	s.store.SetStock("co-1", trading.ProductID(product.ID), trading.MustDecimal("20"))

	rec = s.do(t, http.MethodGet,
		fmt.Sprintf("/api/products/%s/ledger?company=co-1", product.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report api.LedgerReportDTO
	decodeInto(t, rec, &report)

	assert.True(t, report.CurrentStock.Equal(trading.MustDecimal("20")))
	assert.True(t, report.InitialQty.IsZero())
	assert.True(t, report.ClosingBalance.Equal(trading.MustDecimal("20")))
	require.Len(t, report.Rows, 3, "sale, purchase, opening")
	assert.Equal(t, "opening", report.Rows[2].Source)
}

func TestAPI_Ledger_RequiresCompany(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/products/p1/ledger", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_MovementValidation(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/movements", map[string]any{
		"kind": "teleport", "companyId": "co-1", "productId": "p1", "qty": "1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PAYABLES
// =============================================================================

func TestAPI_SupplierBalance(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.ledger.Post(context.Background(), payables.Entry{
		Type: payables.EntryCredit, SupplierID: "sup-1",
		Amount: trading.MustDecimal("120"), Currency: trading.CurrencyUSD,
	}))

	rec := s.do(t, http.MethodGet, "/api/payables/sup-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dto api.SupplierBalanceDTO
	decodeInto(t, rec, &dto)
	assert.True(t, dto.Balances["USD"].Equal(trading.MustDecimal("120")))
}
