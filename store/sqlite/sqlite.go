/*
Package sqlite provides the SQLite-backed trading.TxStore.

PURPOSE:
  Production persistence for the trading core. The same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  products        catalog records (selling unit, current cost)
  invoices        purchase invoices; approval rounds as a JSON event list
  invoice_lines   immutable lines in stock units
  expenses        append-only expense rows per invoice
  receipts        payable receipts (status owned by the payment workflow)
  cost_history    write-once landed costs; UNIQUE(purchase_id, product_id)
  stock           the ground-truth quantity counter per company+product
  movements       raw sale / return / damage documents
  postings        payable-ledger posting outbox

MONEY & QUANTITY COLUMNS:
  Stored as TEXT holding decimal.Decimal.String() - lossless, unlike
  REAL. Parsed back with decimal.NewFromString.

WAL MODE:
  Opened with WAL so the read-only ledger reconstructor never blocks
  invoice approvals.

CONCURRENCY:
  A sync.Mutex serializes writers in-process on top of SQLite's single
  writer. WithTx wraps one database transaction; every statement helper
  is written against the dbtx interface so the transactional view and
  the plain store share the same code.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - trading/store.go: Interface definitions
  - store/memory: In-memory implementation used by tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/trade-core/trading"
)

// dbtx is the subset of *sql.DB and *sql.Tx the statement helpers need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		selling_unit TEXT NOT NULL,
		units_per_box TEXT NOT NULL,
		cost TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		supplier_id TEXT,
		source_company_id TEXT,
		currency TEXT NOT NULL,
		total TEXT NOT NULL,
		total_expenses TEXT NOT NULL,
		final_total TEXT NOT NULL,
		state TEXT NOT NULL,
		approval_events_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_company_state
		ON invoices(company_id, state);

	CREATE TABLE IF NOT EXISTS invoice_lines (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		qty TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		sub_total TEXT NOT NULL,
		seq INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_lines_invoice ON invoice_lines(invoice_id);
	CREATE INDEX IF NOT EXISTS idx_lines_product ON invoice_lines(product_id);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		supplier_id TEXT,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		exchange_rate TEXT NOT NULL,
		converted_amount TEXT NOT NULL,
		is_actual INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_expenses_invoice ON expenses(invoice_id);

	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		expense_id TEXT,
		supplier_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_receipts_invoice ON receipts(invoice_id);
	CREATE INDEX IF NOT EXISTS idx_receipts_expense ON receipts(expense_id);

	CREATE TABLE IF NOT EXISTS cost_history (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		purchase_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		purchase_price TEXT NOT NULL,
		expense_per_unit TEXT NOT NULL,
		total_cost_per_unit TEXT NOT NULL,
		quantity TEXT NOT NULL,
		policy TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_cost_history_once
		ON cost_history(purchase_id, product_id);
	CREATE INDEX IF NOT EXISTS idx_cost_history_product
		ON cost_history(product_id, company_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS stock (
		company_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		qty TEXT NOT NULL,
		PRIMARY KEY (company_id, product_id)
	);

	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		company_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		qty TEXT NOT NULL,
		fulfilled_by TEXT,
		approved INTEGER NOT NULL,
		reference TEXT,
		at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_movements_product_kind
		ON movements(product_id, kind, at);

	CREATE TABLE IF NOT EXISTS postings (
		id TEXT PRIMARY KEY,
		supplier_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		description TEXT,
		date TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		seq INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_postings_status ON postings(status);
	CREATE INDEX IF NOT EXISTS idx_postings_reference
		ON postings(reference_type, reference_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// COLUMN CODECS
// =============================================================================

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// approvalEventJSON is the stored shape of one approval round.
type approvalEventJSON struct {
	At            time.Time `json:"at"`
	By            string    `json:"by"`
	ExpenseIDs    []string  `json:"expense_ids,omitempty"`
	ExpensesAdded string    `json:"expenses_added"`
}

func marshalEvents(events []trading.ApprovalEvent) string {
	out := make([]approvalEventJSON, 0, len(events))
	for _, ev := range events {
		ids := make([]string, 0, len(ev.ExpenseIDs))
		for _, id := range ev.ExpenseIDs {
			ids = append(ids, string(id))
		}
		out = append(out, approvalEventJSON{
			At:            ev.At,
			By:            ev.By,
			ExpenseIDs:    ids,
			ExpensesAdded: ev.ExpensesAdded.String(),
		})
	}
	data, _ := json.Marshal(out)
	return string(data)
}

func unmarshalEvents(data string) []trading.ApprovalEvent {
	if data == "" || data == "[]" {
		return nil
	}
	var raw []approvalEventJSON
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil
	}
	events := make([]trading.ApprovalEvent, 0, len(raw))
	for _, r := range raw {
		added, _ := parseDecimal(r.ExpensesAdded)
		ids := make([]trading.ExpenseID, 0, len(r.ExpenseIDs))
		for _, id := range r.ExpenseIDs {
			ids = append(ids, trading.ExpenseID(id))
		}
		events = append(events, trading.ApprovalEvent{
			At:            r.At,
			By:            r.By,
			ExpenseIDs:    ids,
			ExpensesAdded: added,
		})
	}
	return events
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (s *Store) CreateProduct(ctx context.Context, p *trading.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createProduct(ctx, s.db, p)
}

func createProduct(ctx context.Context, db dbtx, p *trading.Product) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO products (id, name, selling_unit, units_per_box, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.SellingUnit, p.UnitsPerBox.String(), p.Cost.String(),
		formatTime(p.CreatedAt))
	return err
}

func (s *Store) Product(ctx context.Context, id trading.ProductID) (*trading.Product, error) {
	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, db dbtx, id trading.ProductID) (*trading.Product, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, name, selling_unit, units_per_box, cost, created_at
		FROM products WHERE id = ?`, id)

	var p trading.Product
	var unitsPerBox, cost, createdAt string
	err := row.Scan(&p.ID, &p.Name, &p.SellingUnit, &unitsPerBox, &cost, &createdAt)
	if err == sql.ErrNoRows {
		return nil, trading.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.UnitsPerBox, err = parseDecimal(unitsPerBox); err != nil {
		return nil, err
	}
	if p.Cost, err = parseDecimal(cost); err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (s *Store) UpdateProductCost(ctx context.Context, id trading.ProductID, cost decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateProductCost(ctx, s.db, id, cost)
}

func updateProductCost(ctx context.Context, db dbtx, id trading.ProductID, cost decimal.Decimal) error {
	res, err := db.ExecContext(ctx, `UPDATE products SET cost = ? WHERE id = ?`, cost.String(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trading.ErrProductNotFound
	}
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (s *Store) CreateInvoice(ctx context.Context, inv *trading.PurchaseInvoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createInvoice(ctx, s.db, inv)
}

func createInvoice(ctx context.Context, db dbtx, inv *trading.PurchaseInvoice) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO invoices
		(id, company_id, supplier_id, source_company_id, currency,
		 total, total_expenses, final_total, state, approval_events_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.CompanyID, inv.SupplierID, inv.SourceCompanyID, inv.Currency,
		inv.Total.String(), inv.TotalExpenses.String(), inv.FinalTotal.String(),
		inv.State, marshalEvents(inv.ApprovalEvents), formatTime(inv.CreatedAt))
	if err != nil {
		return err
	}
	for i, line := range inv.Lines {
		_, err := db.ExecContext(ctx, `
			INSERT INTO invoice_lines (id, invoice_id, product_id, qty, unit_price, sub_total, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			line.ID, inv.ID, line.ProductID,
			line.Qty.String(), line.UnitPrice.String(), line.SubTotal.String(), i)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Invoice(ctx context.Context, id trading.InvoiceID) (*trading.PurchaseInvoice, error) {
	return getInvoice(ctx, s.db, id)
}

func getInvoice(ctx context.Context, db dbtx, id trading.InvoiceID) (*trading.PurchaseInvoice, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, company_id, supplier_id, source_company_id, currency,
		       total, total_expenses, final_total, state, approval_events_json, created_at
		FROM invoices WHERE id = ?`, id)

	var inv trading.PurchaseInvoice
	var total, totalExpenses, finalTotal, events, createdAt string
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.SupplierID, &inv.SourceCompanyID,
		&inv.Currency, &total, &totalExpenses, &finalTotal, &inv.State, &events, &createdAt)
	if err == sql.ErrNoRows {
		return nil, trading.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	if inv.Total, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if inv.TotalExpenses, err = parseDecimal(totalExpenses); err != nil {
		return nil, err
	}
	if inv.FinalTotal, err = parseDecimal(finalTotal); err != nil {
		return nil, err
	}
	inv.ApprovalEvents = unmarshalEvents(events)
	inv.CreatedAt = parseTime(createdAt)

	if inv.Lines, err = getLines(ctx, db, id); err != nil {
		return nil, err
	}
	return &inv, nil
}

func getLines(ctx context.Context, db dbtx, invoiceID trading.InvoiceID) ([]trading.PurchaseLine, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, product_id, qty, unit_price, sub_total
		FROM invoice_lines WHERE invoice_id = ? ORDER BY seq`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []trading.PurchaseLine
	for rows.Next() {
		var line trading.PurchaseLine
		var qty, unitPrice, subTotal string
		if err := rows.Scan(&line.ID, &line.ProductID, &qty, &unitPrice, &subTotal); err != nil {
			return nil, err
		}
		if line.Qty, err = parseDecimal(qty); err != nil {
			return nil, err
		}
		if line.UnitPrice, err = parseDecimal(unitPrice); err != nil {
			return nil, err
		}
		if line.SubTotal, err = parseDecimal(subTotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *trading.PurchaseInvoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateInvoice(ctx, s.db, inv)
}

// updateInvoice never touches the line rows: lines are immutable after
// creation, only the expense totals and approval state evolve.
func updateInvoice(ctx context.Context, db dbtx, inv *trading.PurchaseInvoice) error {
	res, err := db.ExecContext(ctx, `
		UPDATE invoices SET
			total_expenses = ?, final_total = ?, state = ?, approval_events_json = ?
		WHERE id = ?`,
		inv.TotalExpenses.String(), inv.FinalTotal.String(), inv.State,
		marshalEvents(inv.ApprovalEvents), inv.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trading.ErrInvoiceNotFound
	}
	return nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id trading.InvoiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteInvoice(ctx, s.db, id)
}

func deleteInvoice(ctx context.Context, db dbtx, id trading.InvoiceID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trading.ErrInvoiceNotFound
	}
	_, err = db.ExecContext(ctx, `DELETE FROM invoice_lines WHERE invoice_id = ?`, id)
	return err
}

func (s *Store) ApprovedInvoices(ctx context.Context, productID trading.ProductID, companyID trading.CompanyID) ([]*trading.PurchaseInvoice, error) {
	return approvedInvoices(ctx, s.db, productID, companyID)
}

func approvedInvoices(ctx context.Context, db dbtx, productID trading.ProductID, companyID trading.CompanyID) ([]*trading.PurchaseInvoice, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT i.id
		FROM invoices i
		JOIN invoice_lines l ON l.invoice_id = i.id
		WHERE i.state = ? AND i.company_id = ? AND l.product_id = ?`,
		trading.StateApproved, companyID, productID)
	if err != nil {
		return nil, err
	}
	var ids []trading.InvoiceID
	for rows.Next() {
		var id trading.InvoiceID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	invoices := make([]*trading.PurchaseInvoice, 0, len(ids))
	for _, id := range ids {
		inv, err := getInvoice(ctx, db, id)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	// Chronological by first approval, the order ledger reconstruction
	// consumes them in. Approval time lives in the JSON event list, so
	// sorting happens here rather than in SQL.
	for i := 1; i < len(invoices); i++ {
		for j := i; j > 0 && invoices[j].ApprovedAt().Before(invoices[j-1].ApprovedAt()); j-- {
			invoices[j], invoices[j-1] = invoices[j-1], invoices[j]
		}
	}
	return invoices, nil
}

// =============================================================================
// EXPENSES
// =============================================================================

func (s *Store) AppendExpenses(ctx context.Context, items []trading.ExpenseItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendExpenses(ctx, s.db, items)
}

func appendExpenses(ctx context.Context, db dbtx, items []trading.ExpenseItem) error {
	for _, e := range items {
		_, err := db.ExecContext(ctx, `
			INSERT INTO expenses
			(id, invoice_id, category_id, supplier_id, amount, currency,
			 exchange_rate, converted_amount, is_actual, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.InvoiceID, e.CategoryID, e.SupplierID,
			e.Amount.String(), e.Currency, e.ExchangeRate.String(),
			e.ConvertedAmount.String(), boolToInt(e.IsActual),
			formatTime(e.CreatedAt))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Expenses(ctx context.Context, invoiceID trading.InvoiceID) ([]trading.ExpenseItem, error) {
	return queryExpenses(ctx, s.db, `WHERE invoice_id = ?`, invoiceID)
}

func (s *Store) Expense(ctx context.Context, id trading.ExpenseID) (*trading.ExpenseItem, error) {
	items, err := queryExpenses(ctx, s.db, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, trading.ErrExpenseNotFound
	}
	return &items[0], nil
}

func queryExpenses(ctx context.Context, db dbtx, where string, args ...any) ([]trading.ExpenseItem, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, invoice_id, category_id, supplier_id, amount, currency,
		       exchange_rate, converted_amount, is_actual, created_at
		FROM expenses `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []trading.ExpenseItem
	for rows.Next() {
		var e trading.ExpenseItem
		var amount, rate, converted, createdAt string
		var isActual int
		if err := rows.Scan(&e.ID, &e.InvoiceID, &e.CategoryID, &e.SupplierID,
			&amount, &e.Currency, &rate, &converted, &isActual, &createdAt); err != nil {
			return nil, err
		}
		if e.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		if e.ExchangeRate, err = parseDecimal(rate); err != nil {
			return nil, err
		}
		if e.ConvertedAmount, err = parseDecimal(converted); err != nil {
			return nil, err
		}
		e.IsActual = isActual != 0
		e.CreatedAt = parseTime(createdAt)
		items = append(items, e)
	}
	return items, rows.Err()
}

func (s *Store) DeleteExpense(ctx context.Context, id trading.ExpenseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteExpense(ctx, s.db, id)
}

func deleteExpense(ctx context.Context, db dbtx, id trading.ExpenseID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trading.ErrExpenseNotFound
	}
	return nil
}

// =============================================================================
// RECEIPTS
// =============================================================================

func (s *Store) AppendReceipts(ctx context.Context, receipts []trading.PayableReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendReceipts(ctx, s.db, receipts)
}

func appendReceipts(ctx context.Context, db dbtx, receipts []trading.PayableReceipt) error {
	for _, r := range receipts {
		_, err := db.ExecContext(ctx, `
			INSERT INTO receipts
			(id, invoice_id, expense_id, supplier_id, amount, currency, kind, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.InvoiceID, r.ExpenseID, r.SupplierID,
			r.Amount.String(), r.Currency, r.Kind, r.Status,
			formatTime(r.CreatedAt))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Receipts(ctx context.Context, invoiceID trading.InvoiceID) ([]trading.PayableReceipt, error) {
	return queryReceipts(ctx, s.db, `WHERE invoice_id = ?`, invoiceID)
}

func (s *Store) ReceiptsForExpense(ctx context.Context, expenseID trading.ExpenseID) ([]trading.PayableReceipt, error) {
	return queryReceipts(ctx, s.db, `WHERE expense_id = ?`, expenseID)
}

func queryReceipts(ctx context.Context, db dbtx, where string, args ...any) ([]trading.PayableReceipt, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, invoice_id, expense_id, supplier_id, amount, currency, kind, status, created_at
		FROM receipts `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []trading.PayableReceipt
	for rows.Next() {
		var r trading.PayableReceipt
		var amount, createdAt string
		if err := rows.Scan(&r.ID, &r.InvoiceID, &r.ExpenseID, &r.SupplierID,
			&amount, &r.Currency, &r.Kind, &r.Status, &createdAt); err != nil {
			return nil, err
		}
		if r.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(createdAt)
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

func (s *Store) DeleteReceipt(ctx context.Context, id trading.ReceiptID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteReceipt(ctx, s.db, id)
}

func deleteReceipt(ctx context.Context, db dbtx, id trading.ReceiptID) error {
	_, err := db.ExecContext(ctx, `DELETE FROM receipts WHERE id = ?`, id)
	return err
}

// SetReceiptStatus stands in for the external payment workflow; tests use
// it to mark receipts partially paid or settled.
func (s *Store) SetReceiptStatus(ctx context.Context, id trading.ReceiptID, status trading.ReceiptStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE receipts SET status = ? WHERE id = ?`, status, id)
	return err
}

// =============================================================================
// COST HISTORY
// =============================================================================

func (s *Store) AppendCostHistory(ctx context.Context, entries []trading.CostHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendCostHistory(ctx, s.db, entries)
}

func appendCostHistory(ctx context.Context, db dbtx, entries []trading.CostHistoryEntry) error {
	for _, e := range entries {
		_, err := db.ExecContext(ctx, `
			INSERT INTO cost_history
			(id, product_id, purchase_id, company_id, purchase_price,
			 expense_per_unit, total_cost_per_unit, quantity, policy, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.ProductID, e.PurchaseID, e.CompanyID,
			e.PurchasePrice.String(), e.ExpensePerUnit.String(),
			e.TotalCostPerUnit.String(), e.Quantity.String(), e.Policy,
			formatTime(e.CreatedAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return &trading.IntegrityError{
					Reason: fmt.Sprintf("cost history already written for purchase %s product %s", e.PurchaseID, e.ProductID),
				}
			}
			return err
		}
	}
	return nil
}

func (s *Store) CostHistory(ctx context.Context, productID trading.ProductID, companyID trading.CompanyID, limit int) ([]trading.CostHistoryEntry, error) {
	return costHistory(ctx, s.db, productID, companyID, limit)
}

func costHistory(ctx context.Context, db dbtx, productID trading.ProductID, companyID trading.CompanyID, limit int) ([]trading.CostHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, product_id, purchase_id, company_id, purchase_price,
		       expense_per_unit, total_cost_per_unit, quantity, policy, created_at
		FROM cost_history WHERE product_id = ?`
	args := []any{productID}
	if companyID != "" {
		query += ` AND company_id = ?`
		args = append(args, companyID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []trading.CostHistoryEntry
	for rows.Next() {
		var e trading.CostHistoryEntry
		var price, perUnit, total, qty, createdAt string
		if err := rows.Scan(&e.ID, &e.ProductID, &e.PurchaseID, &e.CompanyID,
			&price, &perUnit, &total, &qty, &e.Policy, &createdAt); err != nil {
			return nil, err
		}
		if e.PurchasePrice, err = parseDecimal(price); err != nil {
			return nil, err
		}
		if e.ExpensePerUnit, err = parseDecimal(perUnit); err != nil {
			return nil, err
		}
		if e.TotalCostPerUnit, err = parseDecimal(total); err != nil {
			return nil, err
		}
		if e.Quantity, err = parseDecimal(qty); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) DeleteCostHistory(ctx context.Context, purchaseID trading.InvoiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteCostHistory(ctx, s.db, purchaseID)
}

func deleteCostHistory(ctx context.Context, db dbtx, purchaseID trading.InvoiceID) error {
	_, err := db.ExecContext(ctx, `DELETE FROM cost_history WHERE purchase_id = ?`, purchaseID)
	return err
}

// =============================================================================
// STOCK
// =============================================================================

func (s *Store) Stock(ctx context.Context, companyID trading.CompanyID, productID trading.ProductID) (decimal.Decimal, error) {
	return getStock(ctx, s.db, companyID, productID)
}

func getStock(ctx context.Context, db dbtx, companyID trading.CompanyID, productID trading.ProductID) (decimal.Decimal, error) {
	row := db.QueryRowContext(ctx,
		`SELECT qty FROM stock WHERE company_id = ? AND product_id = ?`, companyID, productID)
	var qty string
	err := row.Scan(&qty)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return parseDecimal(qty)
}

func (s *Store) AddStock(ctx context.Context, companyID trading.CompanyID, productID trading.ProductID, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addStock(ctx, s.db, companyID, productID, delta)
}

func addStock(ctx context.Context, db dbtx, companyID trading.CompanyID, productID trading.ProductID, delta decimal.Decimal) error {
	current, err := getStock(ctx, db, companyID, productID)
	if err != nil {
		return err
	}
	next := current.Add(delta).String()
	_, err = db.ExecContext(ctx, `
		INSERT INTO stock (company_id, product_id, qty) VALUES (?, ?, ?)
		ON CONFLICT(company_id, product_id) DO UPDATE SET qty = ?`,
		companyID, productID, next, next)
	return err
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func (s *Store) RecordMovement(ctx context.Context, m *trading.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recordMovement(ctx, s.db, m)
}

func recordMovement(ctx context.Context, db dbtx, m *trading.Movement) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO movements
		(id, kind, company_id, product_id, qty, fulfilled_by, approved, reference, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Kind, m.CompanyID, m.ProductID, m.Qty.String(),
		m.FulfilledBy, boolToInt(m.Approved), m.Reference, formatTime(m.At))
	return err
}

func (s *Store) Movements(ctx context.Context, productID trading.ProductID, kind trading.MovementKind) ([]trading.Movement, error) {
	return queryMovements(ctx, s.db, productID, kind)
}

func queryMovements(ctx context.Context, db dbtx, productID trading.ProductID, kind trading.MovementKind) ([]trading.Movement, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, company_id, product_id, qty, fulfilled_by, approved, reference, at
		FROM movements
		WHERE product_id = ? AND kind = ? AND approved = 1
		ORDER BY at, id`, productID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []trading.Movement
	for rows.Next() {
		var m trading.Movement
		var qty, at string
		var approved int
		if err := rows.Scan(&m.ID, &m.Kind, &m.CompanyID, &m.ProductID,
			&qty, &m.FulfilledBy, &approved, &m.Reference, &at); err != nil {
			return nil, err
		}
		if m.Qty, err = parseDecimal(qty); err != nil {
			return nil, err
		}
		m.Approved = approved != 0
		m.At = parseTime(at)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// =============================================================================
// POSTING OUTBOX
// =============================================================================

func (s *Store) EnqueuePostings(ctx context.Context, postings []trading.PendingPosting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return enqueuePostings(ctx, s.db, postings)
}

func enqueuePostings(ctx context.Context, db dbtx, postings []trading.PendingPosting) error {
	for _, p := range postings {
		_, err := db.ExecContext(ctx, `
			INSERT INTO postings
			(id, supplier_id, amount, currency, reference_type, reference_id,
			 description, date, attempts, status, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			        (SELECT COALESCE(MAX(seq), 0) + 1 FROM postings))`,
			p.ID, p.SupplierID, p.Amount.String(), p.Currency,
			p.ReferenceType, p.ReferenceID, p.Description,
			formatTime(p.Date), p.Attempts, p.Status)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) PendingPostings(ctx context.Context, limit int) ([]trading.PendingPosting, error) {
	return pendingPostings(ctx, s.db, limit)
}

func pendingPostings(ctx context.Context, db dbtx, limit int) ([]trading.PendingPosting, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, supplier_id, amount, currency, reference_type, reference_id,
		       description, date, attempts, status
		FROM postings WHERE status = ? ORDER BY seq LIMIT ?`,
		trading.PostingPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var postings []trading.PendingPosting
	for rows.Next() {
		var p trading.PendingPosting
		var amount, date string
		if err := rows.Scan(&p.ID, &p.SupplierID, &amount, &p.Currency,
			&p.ReferenceType, &p.ReferenceID, &p.Description, &date,
			&p.Attempts, &p.Status); err != nil {
			return nil, err
		}
		if p.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		p.Date = parseTime(date)
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

func (s *Store) MarkPosted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markPosted(ctx, s.db, id)
}

func markPosted(ctx context.Context, db dbtx, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE postings SET status = ? WHERE id = ?`, trading.PostingPosted, id)
	return err
}

func (s *Store) MarkPostingFailed(ctx context.Context, id string, attempts int, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markPostingFailed(ctx, s.db, id, attempts, terminal)
}

func markPostingFailed(ctx context.Context, db dbtx, id string, attempts int, terminal bool) error {
	status := trading.PostingPending
	if terminal {
		status = trading.PostingFailed
	}
	_, err := db.ExecContext(ctx,
		`UPDATE postings SET attempts = ?, status = ? WHERE id = ?`, attempts, status, id)
	return err
}

func (s *Store) DeletePostingsForReference(ctx context.Context, referenceType, referenceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePostingsForReference(ctx, s.db, referenceType, referenceID)
}

func deletePostingsForReference(ctx context.Context, db dbtx, referenceType, referenceID string) (int, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM postings
		WHERE reference_type = ? AND reference_id = ? AND status = ?`,
		referenceType, referenceID, trading.PostingPending)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
