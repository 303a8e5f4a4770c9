package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harlowe/fundbooks/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
// Decimal amounts are stored as TEXT so no precision is lost; every
// composite method runs inside one database transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		active INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS funds (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		active INTEGER NOT NULL,
		restriction TEXT NOT NULL DEFAULT '',
		restriction_start DATETIME,
		restriction_end DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		date DATETIME NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		counterparty_id TEXT,
		invoice_number TEXT NOT NULL DEFAULT '',
		due_date DATETIME,
		amount_due TEXT NOT NULL DEFAULT '0',
		amount_paid TEXT NOT NULL DEFAULT '0',
		reverses_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		fund_id TEXT NOT NULL,
		debit TEXT NOT NULL DEFAULT '0',
		credit TEXT NOT NULL DEFAULT '0',
		memo TEXT NOT NULL DEFAULT '',
		FOREIGN KEY(transaction_id) REFERENCES transactions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_transaction ON entries(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_entries_account ON entries(account_id);
	CREATE INDEX IF NOT EXISTS idx_entries_fund ON entries(fund_id);
	CREATE TABLE IF NOT EXISTS recurring_templates (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		counterparty_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		debit_account_id TEXT NOT NULL,
		credit_account_id TEXT NOT NULL,
		fund_id TEXT NOT NULL,
		frequency TEXT NOT NULL,
		day_of_month INTEGER NOT NULL DEFAULT 0,
		custom_days INTEGER NOT NULL DEFAULT 0,
		due_days INTEGER NOT NULL DEFAULT 0,
		next_generation_date DATETIME NOT NULL,
		last_generated_date DATETIME,
		active INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tuition_credits (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		period_start DATETIME NOT NULL,
		period_end DATETIME NOT NULL,
		credit_amount TEXT NOT NULL,
		dpp_portion TEXT NOT NULL,
		family_portion TEXT NOT NULL,
		status TEXT NOT NULL,
		is_adjustment INTEGER NOT NULL DEFAULT 0,
		original_credit_id TEXT,
		batch_id TEXT,
		payment_id TEXT,
		rejection_reason TEXT NOT NULL DEFAULT '',
		created_by_id TEXT NOT NULL,
		approved_by_id TEXT,
		rejected_by_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tuition_credit_batches (
		id TEXT PRIMARY KEY,
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_by_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS provider_payments (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS bank_reconciliations (
		id TEXT PRIMARY KEY,
		bank_account_id TEXT NOT NULL,
		statement_balance TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_active_reconciliation
		ON bank_reconciliations(bank_account_id) WHERE status = 'IN_PROGRESS';
	CREATE TABLE IF NOT EXISTS bank_transactions (
		id TEXT PRIMARY KEY,
		reconciliation_id TEXT NOT NULL,
		date DATETIME NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		match_status TEXT NOT NULL,
		matched_transaction_id TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(reconciliation_id) REFERENCES bank_reconciliations(id)
	);
	CREATE INDEX IF NOT EXISTS idx_bank_transactions_reconciliation
		ON bank_transactions(reconciliation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// nullableID converts an optional uuid to a nullable column value.
func nullableID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

// scanID parses a nullable uuid column.
func scanID(ns sql.NullString) (*uuid.UUID, error) {
	if !ns.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func scanTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// --- accounts ---

// CreateAccount inserts a new account into the chart of accounts.
func (s *SQLiteStore) CreateAccount(a *models.Account) error {
	_, err := s.db.Exec(
		`INSERT INTO accounts (id, number, name, type, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.Number, a.Name, a.Type, a.Active, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by its ID.
func (s *SQLiteStore) GetAccount(id uuid.UUID) (*models.Account, error) {
	row := s.db.QueryRow(`SELECT id, number, name, type, active, created_at, updated_at FROM accounts WHERE id = ?`, id.String())
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Entity: "account", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// UpdateAccount updates an existing account.
func (s *SQLiteStore) UpdateAccount(a *models.Account) error {
	result, err := s.db.Exec(
		`UPDATE accounts SET number = ?, name = ?, type = ?, active = ?, updated_at = ? WHERE id = ?`,
		a.Number, a.Name, a.Type, a.Active, a.UpdatedAt, a.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return checkFound(result, "account", a.ID)
}

// ListAccounts retrieves the full chart of accounts.
func (s *SQLiteStore) ListAccounts() ([]*models.Account, error) {
	rows, err := s.db.Query(`SELECT id, number, name, type, active, created_at, updated_at FROM accounts ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	var idStr string
	if err := row.Scan(&idStr, &a.Number, &a.Name, &a.Type, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ID = uuid.MustParse(idStr)
	return &a, nil
}

func checkFound(result sql.Result, entity string, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

// --- funds ---

// CreateFund inserts a new fund.
func (s *SQLiteStore) CreateFund(f *models.Fund) error {
	_, err := s.db.Exec(
		`INSERT INTO funds (id, name, type, active, restriction, restriction_start, restriction_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID.String(), f.Name, f.Type, f.Active, f.Restriction,
		nullableTime(f.RestrictionStart), nullableTime(f.RestrictionEnd), f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create fund: %w", err)
	}
	return nil
}

// GetFund retrieves a fund by its ID.
func (s *SQLiteStore) GetFund(id uuid.UUID) (*models.Fund, error) {
	row := s.db.QueryRow(`SELECT id, name, type, active, restriction, restriction_start, restriction_end, created_at, updated_at FROM funds WHERE id = ?`, id.String())
	f, err := scanFund(row)
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Entity: "fund", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fund: %w", err)
	}
	return f, nil
}

// UpdateFund updates an existing fund.
func (s *SQLiteStore) UpdateFund(f *models.Fund) error {
	result, err := s.db.Exec(
		`UPDATE funds SET name = ?, type = ?, active = ?, restriction = ?, restriction_start = ?, restriction_end = ?, updated_at = ? WHERE id = ?`,
		f.Name, f.Type, f.Active, f.Restriction, nullableTime(f.RestrictionStart), nullableTime(f.RestrictionEnd), f.UpdatedAt, f.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update fund: %w", err)
	}
	return checkFound(result, "fund", f.ID)
}

// ListFunds retrieves all funds.
func (s *SQLiteStore) ListFunds() ([]*models.Fund, error) {
	rows, err := s.db.Query(`SELECT id, name, type, active, restriction, restriction_start, restriction_end, created_at, updated_at FROM funds ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}
	defer rows.Close()

	var funds []*models.Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund row: %w", err)
		}
		funds = append(funds, f)
	}
	return funds, rows.Err()
}

func scanFund(row rowScanner) (*models.Fund, error) {
	var f models.Fund
	var idStr string
	var start, end sql.NullTime
	if err := row.Scan(&idStr, &f.Name, &f.Type, &f.Active, &f.Restriction, &start, &end, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.ID = uuid.MustParse(idStr)
	f.RestrictionStart = scanTime(start)
	f.RestrictionEnd = scanTime(end)
	return &f, nil
}

// --- transactions ---

const txColumns = `id, date, reference, description, kind, status, counterparty_id, invoice_number, due_date, amount_due, amount_paid, reverses_id, created_at, updated_at`

// CreateTransaction inserts the transaction and all its entries atomically.
func (s *SQLiteStore) CreateTransaction(t *models.Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertTransactionTx(tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTransactionTx(tx *sql.Tx, t *models.Transaction) error {
	_, err := tx.Exec(
		`INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.Date, t.Reference, t.Description, t.Kind, t.Status,
		nullableID(t.CounterpartyID), t.InvoiceNumber, nullableTime(t.DueDate),
		t.AmountDue, t.AmountPaid, nullableID(t.ReversesID), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	for _, e := range t.Entries {
		_, err := tx.Exec(
			`INSERT INTO entries (id, transaction_id, account_id, fund_id, debit, credit, memo)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID.String(), e.TransactionID.String(), e.AccountID.String(), e.FundID.String(),
			e.Debit, e.Credit, e.Memo,
		)
		if err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}
	return nil
}

// GetTransaction retrieves a transaction and its entries.
func (s *SQLiteStore) GetTransaction(id uuid.UUID) (*models.Transaction, error) {
	row := s.db.QueryRow(`SELECT `+txColumns+` FROM transactions WHERE id = ?`, id.String())
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Entity: "transaction", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if err := s.loadEntries(t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransactions retrieves all transactions with their entries.
func (s *SQLiteStore) ListTransactions() ([]*models.Transaction, error) {
	rows, err := s.db.Query(`SELECT ` + txColumns + ` FROM transactions ORDER BY date, created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()
	return s.scanTransactionsWithEntries(rows)
}

// TransactionsByAccount retrieves posted, unvoided transactions with at
// least one entry against the account, dated within [from, to].
func (s *SQLiteStore) TransactionsByAccount(accountID uuid.UUID, from, to time.Time) ([]*models.Transaction, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT t.`+joinColumns("t")+`
		FROM transactions t JOIN entries e ON e.transaction_id = t.id
		WHERE e.account_id = ? AND t.date >= ? AND t.date <= ?
		  AND t.status IN ('POSTED', 'PARTIALLY_PAID', 'PAID')
		ORDER BY t.date`,
		accountID.String(), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions by account: %w", err)
	}
	defer rows.Close()
	return s.scanTransactionsWithEntries(rows)
}

func joinColumns(alias string) string {
	return `id, ` + alias + `.date, ` + alias + `.reference, ` + alias + `.description, ` + alias + `.kind, ` + alias + `.status, ` + alias + `.counterparty_id, ` + alias + `.invoice_number, ` + alias + `.due_date, ` + alias + `.amount_due, ` + alias + `.amount_paid, ` + alias + `.reverses_id, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func (s *SQLiteStore) scanTransactionsWithEntries(rows *sql.Rows) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	for _, t := range txs {
		if err := s.loadEntries(t); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var idStr string
	var counterparty, reverses sql.NullString
	var dueDate sql.NullTime
	err := row.Scan(&idStr, &t.Date, &t.Reference, &t.Description, &t.Kind, &t.Status,
		&counterparty, &t.InvoiceNumber, &dueDate, &t.AmountDue, &t.AmountPaid,
		&reverses, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.ID = uuid.MustParse(idStr)
	if t.CounterpartyID, err = scanID(counterparty); err != nil {
		return nil, err
	}
	if t.ReversesID, err = scanID(reverses); err != nil {
		return nil, err
	}
	t.DueDate = scanTime(dueDate)
	return &t, nil
}

func (s *SQLiteStore) loadEntries(t *models.Transaction) error {
	rows, err := s.db.Query(
		`SELECT id, transaction_id, account_id, fund_id, debit, credit, memo
		FROM entries WHERE transaction_id = ? ORDER BY rowid`, t.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load entries: %w", err)
	}
	defer rows.Close()

	t.Entries = nil
	for rows.Next() {
		var e models.Entry
		var idStr, txIDStr, accountStr, fundStr string
		if err := rows.Scan(&idStr, &txIDStr, &accountStr, &fundStr, &e.Debit, &e.Credit, &e.Memo); err != nil {
			return fmt.Errorf("failed to scan entry row: %w", err)
		}
		e.ID = uuid.MustParse(idStr)
		e.TransactionID = uuid.MustParse(txIDStr)
		e.AccountID = uuid.MustParse(accountStr)
		e.FundID = uuid.MustParse(fundStr)
		t.Entries = append(t.Entries, e)
	}
	return rows.Err()
}

// EntriesByFund retrieves entries of posted transactions in the fund dated
// at or before asOf. Voided transactions stay included: their reversals
// cancel them, which keeps historical reports reproducible.
func (s *SQLiteStore) EntriesByFund(fundID uuid.UUID, asOf time.Time) ([]*models.Entry, error) {
	return s.queryEntries(
		`SELECT e.id, e.transaction_id, e.account_id, e.fund_id, e.debit, e.credit, e.memo
		FROM entries e JOIN transactions t ON e.transaction_id = t.id
		WHERE e.fund_id = ? AND t.date <= ?
		  AND t.status IN ('POSTED', 'PARTIALLY_PAID', 'PAID', 'VOIDED')`,
		fundID.String(), asOf,
	)
}

// EntriesThrough retrieves entries of all posted transactions dated at or
// before asOf.
func (s *SQLiteStore) EntriesThrough(asOf time.Time) ([]*models.Entry, error) {
	return s.queryEntries(
		`SELECT e.id, e.transaction_id, e.account_id, e.fund_id, e.debit, e.credit, e.memo
		FROM entries e JOIN transactions t ON e.transaction_id = t.id
		WHERE t.date <= ?
		  AND t.status IN ('POSTED', 'PARTIALLY_PAID', 'PAID', 'VOIDED')`,
		asOf,
	)
}

func (s *SQLiteStore) queryEntries(query string, args ...interface{}) ([]*models.Entry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		var e models.Entry
		var idStr, txIDStr, accountStr, fundStr string
		if err := rows.Scan(&idStr, &txIDStr, &accountStr, &fundStr, &e.Debit, &e.Credit, &e.Memo); err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		e.ID = uuid.MustParse(idStr)
		e.TransactionID = uuid.MustParse(txIDStr)
		e.AccountID = uuid.MustParse(accountStr)
		e.FundID = uuid.MustParse(fundStr)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// SavePayment inserts the payment transaction and updates the paid
// transaction's amount/status atomically.
func (s *SQLiteStore) SavePayment(payment, updated *models.Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertTransactionTx(tx, payment); err != nil {
		return err
	}
	if err := updateTransactionHeaderTx(tx, updated); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveReversal inserts the reversing transaction and marks the original
// voided atomically.
func (s *SQLiteStore) SaveReversal(reversal, original *models.Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertTransactionTx(tx, reversal); err != nil {
		return err
	}
	if err := updateTransactionHeaderTx(tx, original); err != nil {
		return err
	}
	return tx.Commit()
}

func updateTransactionHeaderTx(tx *sql.Tx, t *models.Transaction) error {
	result, err := tx.Exec(
		`UPDATE transactions SET status = ?, amount_paid = ?, updated_at = ? WHERE id = ?`,
		t.Status, t.AmountPaid, t.UpdatedAt, t.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return checkFound(result, "transaction", t.ID)
}

// --- recurring templates ---

const templateColumns = `id, kind, description, counterparty_id, amount, debit_account_id, credit_account_id, fund_id, frequency, day_of_month, custom_days, due_days, next_generation_date, last_generated_date, active, created_at, updated_at`

// CreateTemplate inserts a new recurrence template.
func (s *SQLiteStore) CreateTemplate(t *models.RecurringTemplate) error {
	_, err := s.db.Exec(
		`INSERT INTO recurring_templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.Kind, t.Description, t.CounterpartyID.String(), t.Amount,
		t.DebitAccountID.String(), t.CreditAccountID.String(), t.FundID.String(),
		t.Frequency, t.DayOfMonth, t.CustomDays, t.DueDays,
		t.NextGenerationDate, nullableTime(t.LastGeneratedDate), t.Active, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by its ID.
func (s *SQLiteStore) GetTemplate(id uuid.UUID) (*models.RecurringTemplate, error) {
	row := s.db.QueryRow(`SELECT `+templateColumns+` FROM recurring_templates WHERE id = ?`, id.String())
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Entity: "recurring template", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

// UpdateTemplate updates an existing template.
func (s *SQLiteStore) UpdateTemplate(t *models.RecurringTemplate) error {
	result, err := s.db.Exec(
		`UPDATE recurring_templates SET kind = ?, description = ?, amount = ?, frequency = ?, day_of_month = ?, custom_days = ?, due_days = ?, next_generation_date = ?, last_generated_date = ?, active = ?, updated_at = ? WHERE id = ?`,
		t.Kind, t.Description, t.Amount, t.Frequency, t.DayOfMonth, t.CustomDays, t.DueDays,
		t.NextGenerationDate, nullableTime(t.LastGeneratedDate), t.Active, t.UpdatedAt, t.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return checkFound(result, "recurring template", t.ID)
}

// DueTemplates retrieves active templates due at or before asOf.
func (s *SQLiteStore) DueTemplates(asOf time.Time) ([]*models.RecurringTemplate, error) {
	rows, err := s.db.Query(
		`SELECT `+templateColumns+` FROM recurring_templates
		WHERE active = 1 AND next_generation_date <= ? ORDER BY next_generation_date`, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query due templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func scanTemplate(row rowScanner) (*models.RecurringTemplate, error) {
	var t models.RecurringTemplate
	var idStr, counterpartyStr, debitStr, creditStr, fundStr string
	var lastGenerated sql.NullTime
	err := row.Scan(&idStr, &t.Kind, &t.Description, &counterpartyStr, &t.Amount,
		&debitStr, &creditStr, &fundStr, &t.Frequency, &t.DayOfMonth, &t.CustomDays, &t.DueDays,
		&t.NextGenerationDate, &lastGenerated, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.ID = uuid.MustParse(idStr)
	t.CounterpartyID = uuid.MustParse(counterpartyStr)
	t.DebitAccountID = uuid.MustParse(debitStr)
	t.CreditAccountID = uuid.MustParse(creditStr)
	t.FundID = uuid.MustParse(fundStr)
	t.LastGeneratedDate = scanTime(lastGenerated)
	return &t, nil
}

// GenerateFromTemplate inserts the generated document and advances the
// template atomically. The stored NextGenerationDate must still equal
// dueDate; otherwise the generation already happened and
// DuplicateGenerationError is returned.
func (s *SQLiteStore) GenerateFromTemplate(doc *models.Transaction, tpl *models.RecurringTemplate, dueDate time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stored time.Time
	err = tx.QueryRow(`SELECT next_generation_date FROM recurring_templates WHERE id = ?`, tpl.ID.String()).Scan(&stored)
	if err == sql.ErrNoRows {
		return models.NotFoundError{Entity: "recurring template", ID: tpl.ID}
	}
	if err != nil {
		return fmt.Errorf("failed to read template for generation: %w", err)
	}
	if !stored.Equal(dueDate) {
		return models.DuplicateGenerationError{TemplateID: tpl.ID, DueDate: dueDate.Format("2006-01-02")}
	}

	if err := insertTransactionTx(tx, doc); err != nil {
		return err
	}
	_, err = tx.Exec(
		`UPDATE recurring_templates SET next_generation_date = ?, last_generated_date = ?, updated_at = ? WHERE id = ?`,
		tpl.NextGenerationDate, nullableTime(tpl.LastGeneratedDate), tpl.UpdatedAt, tpl.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to advance template: %w", err)
	}
	return tx.Commit()
}

// --- tuition ---

const creditColumns = `id, student_id, provider_id, period_start, period_end, credit_amount, dpp_portion, family_portion, status, is_adjustment, original_credit_id, batch_id, payment_id, rejection_reason, created_by_id, approved_by_id, rejected_by_id, created_at, updated_at`

// CreateCredit inserts a new tuition credit.
func (s *SQLiteStore) CreateCredit(c *models.TuitionCredit) error {
	_, err := s.db.Exec(
		`INSERT INTO tuition_credits (`+creditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		creditArgs(c)...,
	)
	if err != nil {
		return fmt.Errorf("failed to create credit: %w", err)
	}
	return nil
}

func creditArgs(c *models.TuitionCredit) []interface{} {
	return []interface{}{
		c.ID.String(), c.StudentID.String(), c.ProviderID.String(), c.PeriodStart, c.PeriodEnd,
		c.CreditAmount, c.DPPPortion, c.FamilyPortion, c.Status, c.IsAdjustment,
		nullableID(c.OriginalCreditID), nullableID(c.BatchID), nullableID(c.PaymentID),
		c.RejectionReason, c.CreatedByID.String(), nullableID(c.ApprovedByID), nullableID(c.RejectedByID),
		c.CreatedAt, c.UpdatedAt,
	}
}

// GetCredit retrieves a credit by its ID.
func (s *SQLiteStore) GetCredit(id uuid.UUID) (*models.TuitionCredit, error) {
	row := s.db.QueryRow(`SELECT `+creditColumns+` FROM tuition_credits WHERE id = ?`, id.String())
	c, err := scanCredit(row)
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Entity: "tuition credit", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credit: %w", err)
	}
	return c, nil
}

// UpdateCredit updates an existing credit.
func (s *SQLiteStore) UpdateCredit(c *models.TuitionCredit) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := updateCreditTx(tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

func updateCreditTx(tx *sql.Tx, c *models.TuitionCredit) error {
	result, err := tx.Exec(
		`UPDATE tuition_credits SET status = ?, batch_id = ?, payment_id = ?, rejection_reason = ?, approved_by_id = ?, rejected_by_id = ?, updated_at = ? WHERE id = ?`,
		c.Status, nullableID(c.BatchID), nullableID(c.PaymentID), c.RejectionReason,
		nullableID(c.ApprovedByID), nullableID(c.RejectedByID), c.UpdatedAt, c.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update credit: %w", err)
	}
	return checkFound(result, "tuition credit", c.ID)
}

// ListCreditsByProvider retrieves all credits for a provider.
func (s *SQLiteStore) ListCreditsByProvider(providerID uuid.UUID) ([]*models.TuitionCredit, error) {
	rows, err := s.db.Query(`SELECT `+creditColumns+` FROM tuition_credits WHERE provider_id = ? ORDER BY created_at`, providerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list credits: %w", err)
	}
	defer rows.Close()

	var credits []*models.TuitionCredit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit row: %w", err)
		}
		credits = append(credits, c)
	}
	return credits, rows.Err()
}

func scanCredit(row rowScanner) (*models.TuitionCredit, error) {
	var c models.TuitionCredit
	var idStr, studentStr, providerStr, createdByStr string
	var original, batch, payment, approvedBy, rejectedBy sql.NullString
	err := row.Scan(&idStr, &studentStr, &providerStr, &c.PeriodStart, &c.PeriodEnd,
		&c.CreditAmount, &c.DPPPortion, &c.FamilyPortion, &c.Status, &c.IsAdjustment,
		&original, &batch, &payment, &c.RejectionReason, &createdByStr, &approvedBy,
		&rejectedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ID = uuid.MustParse(idStr)
	c.StudentID = uuid.MustParse(studentStr)
	c.ProviderID = uuid.MustParse(providerStr)
	c.CreatedByID = uuid.MustParse(createdByStr)
	if c.OriginalCreditID, err = scanID(original); err != nil {
		return nil, err
	}
	if c.BatchID, err = scanID(batch); err != nil {
		return nil, err
	}
	if c.PaymentID, err = scanID(payment); err != nil {
		return nil, err
	}
	if c.ApprovedByID, err = scanID(approvedBy); err != nil {
		return nil, err
	}
	if c.RejectedByID, err = scanID(rejectedBy); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateBatch inserts a new tuition credit batch.
func (s *SQLiteStore) CreateBatch(b *models.TuitionCreditBatch) error {
	_, err := s.db.Exec(
		`INSERT INTO tuition_credit_batches (id, total_amount, status, created_by_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.TotalAmount, b.Status, b.CreatedByID.String(), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// CreateBatchWithMembers inserts the batch and binds every member credit to
// it inside one database transaction. Member state is re-read here, so a
// credit claimed by a concurrent batch rolls the whole creation back.
func (s *SQLiteStore) CreateBatchWithMembers(b *models.TuitionCreditBatch, credits []*models.TuitionCredit) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range credits {
		var status models.CreditStatus
		var batch sql.NullString
		err := tx.QueryRow(`SELECT status, batch_id FROM tuition_credits WHERE id = ?`, c.ID.String()).Scan(&status, &batch)
		if err == sql.ErrNoRows {
			return models.NotFoundError{Entity: "tuition credit", ID: c.ID}
		}
		if err != nil {
			return fmt.Errorf("failed to read credit: %w", err)
		}
		if status != models.CreditApproved {
			return models.TransitionError{Entity: "tuition credit", ID: c.ID, From: string(status), To: string(models.CreditProcessed)}
		}
		if batch.Valid {
			return fmt.Errorf("credit %s already belongs to batch %s", c.ID, batch.String)
		}
		if err := updateCreditTx(tx, c); err != nil {
			return err
		}
	}
	_, err = tx.Exec(
		`INSERT INTO tuition_credit_batches (id, total_amount, status, created_by_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.TotalAmount, b.Status, b.CreatedByID.String(), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return tx.Commit()
}

// GetBatch retrieves a batch, deriving its member and provider ids from the
// credits that point at it.
func (s *SQLiteStore) GetBatch(id uuid.UUID) (*models.TuitionCreditBatch, error) {
	var b models.TuitionCreditBatch
	var idStr, createdByStr string
	row := s.db.QueryRow(`SELECT id, total_amount, status, created_by_id, created_at, updated_at FROM tuition_credit_batches WHERE id = ?`, id.String())
	err := row.Scan(&idStr, &b.TotalAmount, &b.Status, &createdByStr, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Entity: "tuition credit batch", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	b.ID = uuid.MustParse(idStr)
	b.CreatedByID = uuid.MustParse(createdByStr)

	rows, err := s.db.Query(`SELECT id, provider_id FROM tuition_credits WHERE batch_id = ? ORDER BY created_at`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load batch members: %w", err)
	}
	defer rows.Close()
	providerSeen := make(map[uuid.UUID]bool)
	for rows.Next() {
		var creditStr, providerStr string
		if err := rows.Scan(&creditStr, &providerStr); err != nil {
			return nil, fmt.Errorf("failed to scan batch member: %w", err)
		}
		b.CreditIDs = append(b.CreditIDs, uuid.MustParse(creditStr))
		pid := uuid.MustParse(providerStr)
		if !providerSeen[pid] {
			providerSeen[pid] = true
			b.ProviderIDs = append(b.ProviderIDs, pid)
		}
	}
	return &b, rows.Err()
}

// UpdateBatch updates an existing batch.
func (s *SQLiteStore) UpdateBatch(b *models.TuitionCreditBatch) error {
	result, err := s.db.Exec(
		`UPDATE tuition_credit_batches SET total_amount = ?, status = ?, updated_at = ? WHERE id = ?`,
		b.TotalAmount, b.Status, b.UpdatedAt, b.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	return checkFound(result, "tuition credit batch", b.ID)
}

// ProcessBatch transitions every member credit and the batch to PROCESSED
// and posts the recognition transaction, all inside one database
// transaction. A failure on any member rolls everything back.
func (s *SQLiteStore) ProcessBatch(b *models.TuitionCreditBatch, credits []*models.TuitionCredit, recognition *models.Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range credits {
		var status models.CreditStatus
		err := tx.QueryRow(`SELECT status FROM tuition_credits WHERE id = ?`, c.ID.String()).Scan(&status)
		if err == sql.ErrNoRows {
			return models.NotFoundError{Entity: "tuition credit", ID: c.ID}
		}
		if err != nil {
			return fmt.Errorf("failed to read credit status: %w", err)
		}
		if !status.CanTransition(models.CreditProcessed) {
			return models.TransitionError{Entity: "tuition credit", ID: c.ID, From: string(status), To: string(models.CreditProcessed)}
		}
		if err := updateCreditTx(tx, c); err != nil {
			return err
		}
	}
	result, err := tx.Exec(
		`UPDATE tuition_credit_batches SET status = ?, updated_at = ? WHERE id = ?`,
		b.Status, b.UpdatedAt, b.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	if err := checkFound(result, "tuition credit batch", b.ID); err != nil {
		return err
	}
	if recognition != nil {
		if err := insertTransactionTx(tx, recognition); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreatePayment inserts the provider payment and marks the consumed credits
// atomically.
func (s *SQLiteStore) CreatePayment(p *models.ProviderPayment, consumed []*models.TuitionCredit) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range consumed {
		var payment sql.NullString
		err := tx.QueryRow(`SELECT payment_id FROM tuition_credits WHERE id = ?`, c.ID.String()).Scan(&payment)
		if err == sql.ErrNoRows {
			return models.NotFoundError{Entity: "tuition credit", ID: c.ID}
		}
		if err != nil {
			return fmt.Errorf("failed to read credit: %w", err)
		}
		if payment.Valid {
			return models.CreditConsumedError{CreditID: c.ID, PaymentID: uuid.MustParse(payment.String)}
		}
		if err := updateCreditTx(tx, c); err != nil {
			return err
		}
	}
	_, err = tx.Exec(
		`INSERT INTO provider_payments (id, provider_id, amount, status, reference, failure_reason, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.ProviderID.String(), p.Amount, p.Status, p.Reference, p.FailureReason,
		p.CreatedAt, nullableTime(p.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return tx.Commit()
}

// GetPayment retrieves a provider payment, deriving its credit ids.
func (s *SQLiteStore) GetPayment(id uuid.UUID) (*models.ProviderPayment, error) {
	var p models.ProviderPayment
	var idStr, providerStr string
	var completed sql.NullTime
	row := s.db.QueryRow(`SELECT id, provider_id, amount, status, reference, failure_reason, created_at, completed_at FROM provider_payments WHERE id = ?`, id.String())
	err := row.Scan(&idStr, &providerStr, &p.Amount, &p.Status, &p.Reference, &p.FailureReason, &p.CreatedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Entity: "provider payment", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	p.ID = uuid.MustParse(idStr)
	p.ProviderID = uuid.MustParse(providerStr)
	p.CompletedAt = scanTime(completed)

	rows, err := s.db.Query(`SELECT id FROM tuition_credits WHERE payment_id = ? ORDER BY created_at`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load payment credits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var creditStr string
		if err := rows.Scan(&creditStr); err != nil {
			return nil, fmt.Errorf("failed to scan payment credit: %w", err)
		}
		p.CreditIDs = append(p.CreditIDs, uuid.MustParse(creditStr))
	}
	return &p, rows.Err()
}

// UpdatePayment updates an existing provider payment.
func (s *SQLiteStore) UpdatePayment(p *models.ProviderPayment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := updatePaymentTx(tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

func updatePaymentTx(tx *sql.Tx, p *models.ProviderPayment) error {
	result, err := tx.Exec(
		`UPDATE provider_payments SET status = ?, reference = ?, failure_reason = ?, completed_at = ? WHERE id = ?`,
		p.Status, p.Reference, p.FailureReason, nullableTime(p.CompletedAt), p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return checkFound(result, "provider payment", p.ID)
}

// CompletePayment marks the payment completed, moves its credits to PAID and
// posts the settlement transaction atomically.
func (s *SQLiteStore) CompletePayment(p *models.ProviderPayment, credits []*models.TuitionCredit, settlement *models.Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range credits {
		var status models.CreditStatus
		err := tx.QueryRow(`SELECT status FROM tuition_credits WHERE id = ?`, c.ID.String()).Scan(&status)
		if err == sql.ErrNoRows {
			return models.NotFoundError{Entity: "tuition credit", ID: c.ID}
		}
		if err != nil {
			return fmt.Errorf("failed to read credit status: %w", err)
		}
		if !status.CanTransition(models.CreditPaid) {
			return models.TransitionError{Entity: "tuition credit", ID: c.ID, From: string(status), To: string(models.CreditPaid)}
		}
		if err := updateCreditTx(tx, c); err != nil {
			return err
		}
	}
	if err := updatePaymentTx(tx, p); err != nil {
		return err
	}
	if settlement != nil {
		if err := insertTransactionTx(tx, settlement); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReleaseCredits clears the consumed-by marker on a failed or voided
// payment's credits atomically with the payment update.
func (s *SQLiteStore) ReleaseCredits(p *models.ProviderPayment, credits []*models.TuitionCredit) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range credits {
		if err := updateCreditTx(tx, c); err != nil {
			return err
		}
	}
	if err := updatePaymentTx(tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveCreditAdjustment inserts the adjustment credit and voids the original
// atomically.
func (s *SQLiteStore) SaveCreditAdjustment(adjustment, original *models.TuitionCredit) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO tuition_credits (`+creditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		creditArgs(adjustment)...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert adjustment credit: %w", err)
	}
	if err := updateCreditTx(tx, original); err != nil {
		return err
	}
	return tx.Commit()
}

// --- reconciliation ---

const reconciliationColumns = `id, bank_account_id, statement_balance, start_date, end_date, status, created_at, updated_at`

// CreateReconciliation inserts a new reconciliation session.
func (s *SQLiteStore) CreateReconciliation(r *models.BankReconciliation) error {
	_, err := s.db.Exec(
		`INSERT INTO bank_reconciliations (`+reconciliationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.BankAccountID.String(), r.StatementBalance, r.StartDate, r.EndDate,
		r.Status, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation: %w", err)
	}
	return nil
}

// GetReconciliation retrieves a session by its ID.
func (s *SQLiteStore) GetReconciliation(id uuid.UUID) (*models.BankReconciliation, error) {
	row := s.db.QueryRow(`SELECT `+reconciliationColumns+` FROM bank_reconciliations WHERE id = ?`, id.String())
	r, err := scanReconciliation(row)
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Entity: "reconciliation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reconciliation: %w", err)
	}
	return r, nil
}

// UpdateReconciliation updates an existing session.
func (s *SQLiteStore) UpdateReconciliation(r *models.BankReconciliation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := updateReconciliationTx(tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

func updateReconciliationTx(tx *sql.Tx, r *models.BankReconciliation) error {
	result, err := tx.Exec(
		`UPDATE bank_reconciliations SET statement_balance = ?, status = ?, updated_at = ? WHERE id = ?`,
		r.StatementBalance, r.Status, r.UpdatedAt, r.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update reconciliation: %w", err)
	}
	return checkFound(result, "reconciliation", r.ID)
}

// ActiveReconciliation returns the IN_PROGRESS session for the bank account,
// or nil when there is none.
func (s *SQLiteStore) ActiveReconciliation(bankAccountID uuid.UUID) (*models.BankReconciliation, error) {
	row := s.db.QueryRow(
		`SELECT `+reconciliationColumns+` FROM bank_reconciliations
		WHERE bank_account_id = ? AND status = 'IN_PROGRESS'`, bankAccountID.String())
	r, err := scanReconciliation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active reconciliation: %w", err)
	}
	return r, nil
}

func scanReconciliation(row rowScanner) (*models.BankReconciliation, error) {
	var r models.BankReconciliation
	var idStr, accountStr string
	err := row.Scan(&idStr, &accountStr, &r.StatementBalance, &r.StartDate, &r.EndDate,
		&r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.ID = uuid.MustParse(idStr)
	r.BankAccountID = uuid.MustParse(accountStr)
	return &r, nil
}

// CreateBankTransactions inserts a set of statement lines atomically.
func (s *SQLiteStore) CreateBankTransactions(lines []*models.BankTransaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, bt := range lines {
		_, err := tx.Exec(
			`INSERT INTO bank_transactions (id, reconciliation_id, date, description, amount, match_status, matched_transaction_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			bt.ID.String(), bt.ReconciliationID.String(), bt.Date, bt.Description, bt.Amount,
			bt.MatchStatus, nullableID(bt.MatchedTransactionID), bt.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert bank transaction: %w", err)
		}
	}
	return tx.Commit()
}

// GetBankTransaction retrieves a statement line by its ID.
func (s *SQLiteStore) GetBankTransaction(id uuid.UUID) (*models.BankTransaction, error) {
	row := s.db.QueryRow(
		`SELECT id, reconciliation_id, date, description, amount, match_status, matched_transaction_id, created_at
		FROM bank_transactions WHERE id = ?`, id.String())
	bt, err := scanBankTransaction(row)
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Entity: "bank transaction", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bank transaction: %w", err)
	}
	return bt, nil
}

// ListBankTransactions retrieves the session's statement lines.
func (s *SQLiteStore) ListBankTransactions(reconciliationID uuid.UUID) ([]*models.BankTransaction, error) {
	rows, err := s.db.Query(
		`SELECT id, reconciliation_id, date, description, amount, match_status, matched_transaction_id, created_at
		FROM bank_transactions WHERE reconciliation_id = ? ORDER BY date`, reconciliationID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list bank transactions: %w", err)
	}
	defer rows.Close()

	var lines []*models.BankTransaction
	for rows.Next() {
		bt, err := scanBankTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bank transaction row: %w", err)
		}
		lines = append(lines, bt)
	}
	return lines, rows.Err()
}

func scanBankTransaction(row rowScanner) (*models.BankTransaction, error) {
	var bt models.BankTransaction
	var idStr, reconciliationStr string
	var matched sql.NullString
	err := row.Scan(&idStr, &reconciliationStr, &bt.Date, &bt.Description, &bt.Amount,
		&bt.MatchStatus, &matched, &bt.CreatedAt)
	if err != nil {
		return nil, err
	}
	bt.ID = uuid.MustParse(idStr)
	bt.ReconciliationID = uuid.MustParse(reconciliationStr)
	if bt.MatchedTransactionID, err = scanID(matched); err != nil {
		return nil, err
	}
	return &bt, nil
}

func updateBankTransactionTx(tx *sql.Tx, bt *models.BankTransaction) error {
	result, err := tx.Exec(
		`UPDATE bank_transactions SET match_status = ?, matched_transaction_id = ? WHERE id = ?`,
		bt.MatchStatus, nullableID(bt.MatchedTransactionID), bt.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update bank transaction: %w", err)
	}
	return checkFound(result, "bank transaction", bt.ID)
}

// SaveMatch updates the bank line and the session status atomically. The
// partial unique index on IN_PROGRESS sessions turns a concurrent second
// session into a constraint violation here.
func (s *SQLiteStore) SaveMatch(bt *models.BankTransaction, r *models.BankReconciliation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateBankTransactionTx(tx, bt); err != nil {
		return err
	}
	if err := updateReconciliationTx(tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveBankAdjustment inserts the adjustment transaction and updates the bank
// line and session atomically.
func (s *SQLiteStore) SaveBankAdjustment(adjustment *models.Transaction, bt *models.BankTransaction, r *models.BankReconciliation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertTransactionTx(tx, adjustment); err != nil {
		return err
	}
	if err := updateBankTransactionTx(tx, bt); err != nil {
		return err
	}
	if err := updateReconciliationTx(tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteReconciliation marks the session completed and every line
// reconciled atomically.
func (s *SQLiteStore) CompleteReconciliation(r *models.BankReconciliation, lines []*models.BankTransaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, bt := range lines {
		if err := updateBankTransactionTx(tx, bt); err != nil {
			return err
		}
	}
	if err := updateReconciliationTx(tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
