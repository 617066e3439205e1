package storage

import (
	"database/sql"
	"fmt"
	"log"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_expense_matches_table",
		Up:      migration002AddExpenseMatchesTable,
	},
	{
		Version: 3,
		Name:    "add_match_indexes",
		Up:      migration003AddMatchIndexes,
	},
}

// runMigrations executes all pending migrations
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue // Already applied
		}

		log.Printf("Running migration %d: %s", migration.Version, migration.Name)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`
			INSERT INTO schema_migrations (version, name) VALUES (?, ?)
		`, migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table
func (s *Storage) ensureMigrationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := s.db.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions
func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

func migration001InitialSchema(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			identifier TEXT NOT NULL,
			vendor TEXT NOT NULL,
			date TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			price REAL NOT NULL,
			account_number TEXT,
			category_id INTEGER,
			category_name TEXT,
			processed_date TEXT,
			status TEXT NOT NULL DEFAULT 'completed',
			PRIMARY KEY (identifier, vendor)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_vendor_date
			ON transactions(vendor, date)`,
		`CREATE TABLE IF NOT EXISTS account_pairings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			credit_card_vendor TEXT NOT NULL,
			credit_card_account_number TEXT,
			bank_vendor TEXT NOT NULL,
			bank_account_number TEXT,
			match_patterns TEXT NOT NULL DEFAULT '[]',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func migration002AddExpenseMatchesTable(tx *sql.Tx) error {
	query := `
	CREATE TABLE IF NOT EXISTS credit_card_expense_matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		match_group_id TEXT NOT NULL,
		repayment_txn_id TEXT NOT NULL,
		repayment_vendor TEXT NOT NULL,
		expense_txn_id TEXT NOT NULL,
		expense_vendor TEXT NOT NULL,
		difference REAL NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (expense_txn_id, expense_vendor)
	)`

	_, err := tx.Exec(query)
	return err
}

func migration003AddMatchIndexes(tx *sql.Tx) error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_matches_repayment
			ON credit_card_expense_matches(repayment_txn_id, repayment_vendor)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_processed_date
			ON transactions(vendor, processed_date)`,
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}
