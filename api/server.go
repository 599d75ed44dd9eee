/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/products/*   Catalog, cost commit, cost history, stock ledger
  /api/invoices/*   Purchase invoice lifecycle and approval
  /api/expenses/*   Expense retraction
  /api/movements    Raw movement intake
  /api/payables/*   Supplier balance visibility (dev/test)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Post("/", h.CreateProduct)
			r.Get("/{id}", h.GetProduct)
			r.Post("/{id}/cost", h.CommitCost)
			r.Get("/{id}/cost-history", h.GetCostHistory)
			r.Get("/{id}/ledger", h.GetLedger)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Delete("/{id}", h.DeleteInvoice)
			r.Post("/{id}/approve", h.ApproveInvoice)
			r.Post("/{id}/cost-preview", h.CostPreview)
			r.Get("/{id}/expenses", h.ListExpenses)
			r.Get("/{id}/receipts", h.ListReceipts)
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Delete("/{id}", h.DeleteExpense)
		})

		r.Post("/movements", h.RecordMovement)

		r.Route("/payables", func(r chi.Router) {
			r.Get("/{supplierId}/balance", h.SupplierBalance)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
