package storage

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, PostgreSQL, etc.)
// and makes testing with mocks straightforward.
type Repository interface {
	TransactionRepository
	PairingRepository
	MatchRepository
	Close() error
}

// TransactionRepository reads ingested transactions. All reads are scoped to
// a single pairing and return rows in a deterministic order.
type TransactionRepository interface {
	// SaveTransaction inserts or replaces a transaction row. The backend
	// itself never mutates transactions; this exists for ingestion tooling
	// and tests.
	SaveTransaction(t *Transaction) error

	// GetTransaction retrieves one transaction by its (identifier, vendor)
	// key. Returns ErrNotFound when no such row exists.
	GetTransaction(identifier, vendor string) (*Transaction, error)

	// ListRepayments returns bank-side outflows of the pairing whose name
	// contains at least one of the given patterns (OR), each annotated with
	// the amount already covered by persisted match links. The range bounds
	// the transaction date; empty bounds are open.
	ListRepayments(pairing AccountPairing, patterns []string, rng DateRange) ([]Repayment, error)

	// ListExpenses returns credit-card-side outflows of the pairing selected
	// by the window (billing cycle or date range), ordered by date.
	ListExpenses(pairing AccountPairing, window ExpenseWindow) ([]Transaction, error)

	// ListProcessedDates returns the distinct billing-cycle dates of the
	// pairing inside the range, each with count/sum/earliest/latest stats.
	ListProcessedDates(pairing AccountPairing, rng DateRange) ([]ProcessedDateSummary, error)
}

// PairingRepository handles pairing configuration rows.
type PairingRepository interface {
	GetPairing(id int64) (*AccountPairing, error)
	ListPairings(includeInactive bool) ([]AccountPairing, error)

	// SavePairing inserts a new pairing (ID == 0) or updates an existing one.
	SavePairing(p *AccountPairing) error
}

// MatchRepository handles persisted repayment-expense links.
type MatchRepository interface {
	// SaveMatch atomically inserts one row per expense of a match. Before
	// writing it re-checks, inside the same transaction, that none of the
	// expense identifiers is already linked for the same vendor; on violation
	// it returns a *ConflictError naming the offenders and writes nothing.
	SaveMatch(rows []ExpenseMatch) error

	// MatchedExpenseIdentifiers returns the set of expense identifiers
	// already linked to any repayment for the given credit-card vendor.
	MatchedExpenseIdentifiers(ccVendor string) (map[string]bool, error)

	// ListMatchesForRepayment returns all links of one repayment.
	ListMatchesForRepayment(identifier, vendor string) ([]ExpenseMatch, error)
}
