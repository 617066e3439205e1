package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides SQLite database access for transactions, pairings and
// match links. It implements the Repository interface.
type Storage struct {
	db *sql.DB
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage creates a new storage instance with SQLite database
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}

	// Run all pending migrations
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveTransaction inserts or replaces a transaction row
func (s *Storage) SaveTransaction(t *Transaction) error {
	query := `
	INSERT OR REPLACE INTO transactions
	(identifier, vendor, date, name, price, account_number,
	 category_id, category_name, processed_date, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	status := t.Status
	if status == "" {
		status = "completed"
	}

	_, err := s.db.Exec(query,
		t.Identifier,
		t.Vendor,
		t.Date,
		t.Name,
		t.Price,
		nullString(t.AccountNumber),
		nullInt(t.CategoryID),
		nullString(t.CategoryName),
		nullString(t.ProcessedDate),
		status,
	)

	return err
}

// GetTransaction retrieves one transaction by (identifier, vendor)
func (s *Storage) GetTransaction(identifier, vendor string) (*Transaction, error) {
	query := `
	SELECT t.identifier, t.vendor, substr(t.date, 1, 10), t.name, t.price,
	       t.account_number, t.category_id, t.category_name, t.processed_date, t.status,
	       EXISTS (
	           SELECT 1 FROM credit_card_expense_matches m
	           WHERE m.expense_txn_id = t.identifier AND m.expense_vendor = t.vendor
	       )
	FROM transactions t
	WHERE t.identifier = ? AND t.vendor = ?
	`

	t, err := scanTransaction(s.db.QueryRow(query, identifier, vendor))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListRepayments returns bank-side outflows of the pairing matching at least
// one name pattern, annotated with the already-matched amount.
func (s *Storage) ListRepayments(pairing AccountPairing, patterns []string, rng DateRange) ([]Repayment, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("at least one repayment name pattern is required")
	}

	var where []string
	var params []interface{}

	where = append(where, "t.vendor = ?", "t.price < 0", "t.status = 'completed'")
	params = append(params, pairing.BankVendor)

	if pairing.BankAccountNumber != "" {
		where = append(where, "t.account_number = ?")
		params = append(params, pairing.BankAccountNumber)
	}
	if rng.Start != "" {
		where = append(where, "substr(t.date, 1, 10) >= ?")
		params = append(params, rng.Start)
	}
	if rng.End != "" {
		where = append(where, "substr(t.date, 1, 10) <= ?")
		params = append(params, rng.End)
	}

	likes := make([]string, 0, len(patterns))
	for _, p := range patterns {
		likes = append(likes, "t.name LIKE '%' || ? || '%'")
		params = append(params, p)
	}
	where = append(where, "("+strings.Join(likes, " OR ")+")")

	query := fmt.Sprintf(`
	SELECT t.identifier, t.vendor, substr(t.date, 1, 10), t.name, t.price,
	       t.account_number, t.category_id, t.category_name, t.processed_date, t.status,
	       COALESCE((
	           SELECT SUM(ABS(e.price))
	           FROM credit_card_expense_matches m
	           JOIN transactions e
	             ON e.identifier = m.expense_txn_id AND e.vendor = m.expense_vendor
	           WHERE m.repayment_txn_id = t.identifier AND m.repayment_vendor = t.vendor
	       ), 0) AS matched_amount
	FROM transactions t
	WHERE %s
	ORDER BY t.date DESC, t.identifier ASC
	`, strings.Join(where, " AND "))

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var repayments []Repayment
	for rows.Next() {
		var r Repayment
		var account, categoryName, processedDate sql.NullString
		var categoryID sql.NullInt64
		err := rows.Scan(
			&r.Identifier, &r.Vendor, &r.Date, &r.Name, &r.Price,
			&account, &categoryID, &categoryName, &processedDate, &r.Status,
			&r.MatchedAmount,
		)
		if err != nil {
			return nil, err
		}
		r.AccountNumber = account.String
		r.CategoryID = categoryID.Int64
		r.CategoryName = categoryName.String
		r.ProcessedDate = trimDate(processedDate.String)
		r.RemainingAmount = round2(math.Abs(r.Price) - r.MatchedAmount)
		r.IsMatched = r.MatchedAmount > 0
		repayments = append(repayments, r)
	}

	return repayments, rows.Err()
}

// ListExpenses returns credit-card-side outflows selected by the window.
// Smart windows (ProcessedDate set) select the billing cycle; legacy windows
// select the inclusive [Start, End] transaction-date range.
func (s *Storage) ListExpenses(pairing AccountPairing, window ExpenseWindow) ([]Transaction, error) {
	var where []string
	var params []interface{}

	where = append(where, "t.vendor = ?", "t.price < 0", "t.status = 'completed'")
	params = append(params, pairing.CreditCardVendor)

	if pairing.CreditCardAccountNumber != "" {
		where = append(where, "t.account_number = ?")
		params = append(params, pairing.CreditCardAccountNumber)
	}

	if window.ProcessedDate != "" {
		where = append(where, "substr(COALESCE(t.processed_date, t.date), 1, 10) = ?")
		params = append(params, window.ProcessedDate)
	} else {
		if window.Start != "" {
			where = append(where, "substr(t.date, 1, 10) >= ?")
			params = append(params, window.Start)
		}
		if window.End != "" {
			where = append(where, "substr(t.date, 1, 10) <= ?")
			params = append(params, window.End)
		}
	}

	if !window.IncludeMatched {
		where = append(where, `NOT EXISTS (
			SELECT 1 FROM credit_card_expense_matches m
			WHERE m.expense_txn_id = t.identifier AND m.expense_vendor = t.vendor
		)`)
	}

	query := fmt.Sprintf(`
	SELECT t.identifier, t.vendor, substr(t.date, 1, 10), t.name, t.price,
	       t.account_number, t.category_id, t.category_name, t.processed_date, t.status,
	       EXISTS (
	           SELECT 1 FROM credit_card_expense_matches m
	           WHERE m.expense_txn_id = t.identifier AND m.expense_vendor = t.vendor
	       )
	FROM transactions t
	WHERE %s
	ORDER BY t.date ASC, t.identifier ASC
	`, strings.Join(where, " AND "))

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var expenses []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, *t)
	}

	return expenses, rows.Err()
}

// ListProcessedDates returns the distinct billing cycles of the pairing in
// the range, newest first.
func (s *Storage) ListProcessedDates(pairing AccountPairing, rng DateRange) ([]ProcessedDateSummary, error) {
	var where []string
	var params []interface{}

	where = append(where, "t.vendor = ?", "t.price < 0", "t.status = 'completed'")
	params = append(params, pairing.CreditCardVendor)

	if pairing.CreditCardAccountNumber != "" {
		where = append(where, "t.account_number = ?")
		params = append(params, pairing.CreditCardAccountNumber)
	}
	if rng.Start != "" {
		where = append(where, "substr(COALESCE(t.processed_date, t.date), 1, 10) >= ?")
		params = append(params, rng.Start)
	}
	if rng.End != "" {
		where = append(where, "substr(COALESCE(t.processed_date, t.date), 1, 10) <= ?")
		params = append(params, rng.End)
	}

	query := fmt.Sprintf(`
	SELECT substr(COALESCE(t.processed_date, t.date), 1, 10) AS cycle_date,
	       COUNT(*) AS expense_count,
	       COALESCE(SUM(ABS(t.price)), 0) AS total_amount,
	       MIN(substr(t.date, 1, 10)) AS earliest_date,
	       MAX(substr(t.date, 1, 10)) AS latest_date
	FROM transactions t
	WHERE %s
	GROUP BY cycle_date
	ORDER BY cycle_date DESC
	`, strings.Join(where, " AND "))

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var summaries []ProcessedDateSummary
	for rows.Next() {
		var p ProcessedDateSummary
		err := rows.Scan(&p.ProcessedDate, &p.ExpenseCount, &p.TotalAmount, &p.EarliestDate, &p.LatestDate)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, p)
	}

	return summaries, rows.Err()
}

// GetPairing retrieves a pairing by ID
func (s *Storage) GetPairing(id int64) (*AccountPairing, error) {
	query := `
	SELECT id, credit_card_vendor, credit_card_account_number,
	       bank_vendor, bank_account_number, match_patterns, is_active, created_at
	FROM account_pairings WHERE id = ?
	`

	p, err := scanPairing(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPairings returns configured pairings, newest first
func (s *Storage) ListPairings(includeInactive bool) ([]AccountPairing, error) {
	query := `
	SELECT id, credit_card_vendor, credit_card_account_number,
	       bank_vendor, bank_account_number, match_patterns, is_active, created_at
	FROM account_pairings
	`
	if !includeInactive {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var pairings []AccountPairing
	for rows.Next() {
		p, err := scanPairing(rows)
		if err != nil {
			return nil, err
		}
		pairings = append(pairings, *p)
	}

	return pairings, rows.Err()
}

// SavePairing inserts a new pairing (ID == 0) or updates an existing one
func (s *Storage) SavePairing(p *AccountPairing) error {
	patternsJSON, err := json.Marshal(p.MatchPatterns)
	if err != nil {
		return err
	}

	if p.ID == 0 {
		query := `
		INSERT INTO account_pairings
		(credit_card_vendor, credit_card_account_number, bank_vendor, bank_account_number, match_patterns, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		`
		result, err := s.db.Exec(query,
			p.CreditCardVendor,
			nullString(p.CreditCardAccountNumber),
			p.BankVendor,
			nullString(p.BankAccountNumber),
			string(patternsJSON),
			p.IsActive,
		)
		if err != nil {
			return err
		}
		p.ID, err = result.LastInsertId()
		return err
	}

	query := `
	UPDATE account_pairings
	SET credit_card_vendor = ?, credit_card_account_number = ?,
	    bank_vendor = ?, bank_account_number = ?, match_patterns = ?, is_active = ?
	WHERE id = ?
	`
	_, err = s.db.Exec(query,
		p.CreditCardVendor,
		nullString(p.CreditCardAccountNumber),
		p.BankVendor,
		nullString(p.BankAccountNumber),
		string(patternsJSON),
		p.IsActive,
		p.ID,
	)
	return err
}

// SaveMatch atomically inserts all rows of one match. The conflict check runs
// inside the same transaction as the insert so two concurrent saves cannot
// both link the same expense.
func (s *Storage) SaveMatch(rows []ExpenseMatch) error {
	if len(rows) == 0 {
		return fmt.Errorf("a match requires at least one expense")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Re-check inside the transaction that no selected expense is already
	// linked for this vendor.
	vendor := rows[0].ExpenseVendor
	placeholders := make([]string, 0, len(rows))
	params := []interface{}{vendor}
	for _, r := range rows {
		placeholders = append(placeholders, "?")
		params = append(params, r.ExpenseIdentifier)
	}

	conflictQuery := fmt.Sprintf(`
	SELECT expense_txn_id FROM credit_card_expense_matches
	WHERE expense_vendor = ? AND expense_txn_id IN (%s)
	`, strings.Join(placeholders, ","))

	conflictRows, err := tx.Query(conflictQuery, params...)
	if err != nil {
		return err
	}

	var conflicts []string
	for conflictRows.Next() {
		var id string
		if err := conflictRows.Scan(&id); err != nil {
			_ = conflictRows.Close()
			return err
		}
		conflicts = append(conflicts, id)
	}
	if err := conflictRows.Err(); err != nil {
		_ = conflictRows.Close()
		return err
	}
	_ = conflictRows.Close()

	if len(conflicts) > 0 {
		return &ConflictError{Identifiers: conflicts}
	}

	insert := `
	INSERT INTO credit_card_expense_matches
	(match_group_id, repayment_txn_id, repayment_vendor, expense_txn_id, expense_vendor, difference, note)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, r := range rows {
		_, err := tx.Exec(insert,
			r.MatchGroupID,
			r.RepaymentIdentifier,
			r.RepaymentVendor,
			r.ExpenseIdentifier,
			r.ExpenseVendor,
			r.Difference,
			r.Note,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// MatchedExpenseIdentifiers returns the expense identifiers already linked
// for the given credit-card vendor.
func (s *Storage) MatchedExpenseIdentifiers(ccVendor string) (map[string]bool, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT expense_txn_id FROM credit_card_expense_matches
		WHERE expense_vendor = ?
	`, ccVendor)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	matched := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		matched[id] = true
	}

	return matched, rows.Err()
}

// ListMatchesForRepayment returns all links of one repayment, oldest first
func (s *Storage) ListMatchesForRepayment(identifier, vendor string) ([]ExpenseMatch, error) {
	query := `
	SELECT id, match_group_id, repayment_txn_id, repayment_vendor,
	       expense_txn_id, expense_vendor, difference, note, created_at
	FROM credit_card_expense_matches
	WHERE repayment_txn_id = ? AND repayment_vendor = ?
	ORDER BY id ASC
	`

	rows, err := s.db.Query(query, identifier, vendor)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var matches []ExpenseMatch
	for rows.Next() {
		var m ExpenseMatch
		err := rows.Scan(
			&m.ID, &m.MatchGroupID, &m.RepaymentIdentifier, &m.RepaymentVendor,
			&m.ExpenseIdentifier, &m.ExpenseVendor, &m.Difference, &m.Note, &m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}

	return matches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var account, categoryName, processedDate sql.NullString
	var categoryID sql.NullInt64
	err := row.Scan(
		&t.Identifier, &t.Vendor, &t.Date, &t.Name, &t.Price,
		&account, &categoryID, &categoryName, &processedDate, &t.Status,
		&t.IsMatched,
	)
	if err != nil {
		return nil, err
	}
	t.AccountNumber = account.String
	t.CategoryID = categoryID.Int64
	t.CategoryName = categoryName.String
	t.ProcessedDate = trimDate(processedDate.String)
	return &t, nil
}

func scanPairing(row rowScanner) (*AccountPairing, error) {
	var p AccountPairing
	var ccAccount, bankAccount sql.NullString
	var patternsJSON string
	err := row.Scan(
		&p.ID, &p.CreditCardVendor, &ccAccount,
		&p.BankVendor, &bankAccount, &patternsJSON, &p.IsActive, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.CreditCardAccountNumber = ccAccount.String
	p.BankAccountNumber = bankAccount.String
	if patternsJSON != "" {
		_ = json.Unmarshal([]byte(patternsJSON), &p.MatchPatterns)
	}
	return &p, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

// trimDate reduces an ISO datetime (2025-11-22T22:00:00.000Z) to its date part.
func trimDate(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
