package storage

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It stores all data in maps and slices, making tests fast and isolated.
type MockRepository struct {
	mu           sync.Mutex
	transactions map[string]*Transaction // keyed by identifier|vendor
	pairings     map[int64]*AccountPairing
	matches      []ExpenseMatch
	nextPairing  int64
	nextMatchID  int64

	// Hooks for test assertions
	SaveMatchCalled   bool
	LastSavedMatch    []ExpenseMatch
	SavePairingCalled bool

	// Error injection for testing error paths
	ListRepaymentsErr error
	ListExpensesErr   error
	SaveMatchErr      error
	GetTransactionErr error
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		transactions: make(map[string]*Transaction),
		pairings:     make(map[int64]*AccountPairing),
		nextPairing:  1,
		nextMatchID:  1,
	}
}

func txnKey(identifier, vendor string) string {
	return identifier + "|" + vendor
}

// SaveTransaction stores a transaction in memory
func (m *MockRepository) SaveTransaction(t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *t
	if copied.Status == "" {
		copied.Status = "completed"
	}
	m.transactions[txnKey(t.Identifier, t.Vendor)] = &copied
	return nil
}

// GetTransaction retrieves a stored transaction
func (m *MockRepository) GetTransaction(identifier, vendor string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetTransactionErr != nil {
		return nil, m.GetTransactionErr
	}
	t, ok := m.transactions[txnKey(identifier, vendor)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	copied.IsMatched = m.isExpenseMatchedLocked(identifier, vendor)
	return &copied, nil
}

// ListRepayments filters stored bank transactions by pattern and range
func (m *MockRepository) ListRepayments(pairing AccountPairing, patterns []string, rng DateRange) ([]Repayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListRepaymentsErr != nil {
		return nil, m.ListRepaymentsErr
	}

	var out []Repayment
	for _, t := range m.transactions {
		if t.Vendor != pairing.BankVendor || t.Price >= 0 || t.Status != "completed" {
			continue
		}
		if pairing.BankAccountNumber != "" && t.AccountNumber != pairing.BankAccountNumber {
			continue
		}
		if rng.Start != "" && t.Date < rng.Start {
			continue
		}
		if rng.End != "" && t.Date > rng.End {
			continue
		}
		if !nameMatchesAny(t.Name, patterns) {
			continue
		}

		matched := m.matchedAmountLocked(t.Identifier, t.Vendor)
		r := Repayment{
			Transaction:     *t,
			MatchedAmount:   matched,
			RemainingAmount: math.Round((math.Abs(t.Price)-matched)*100) / 100,
		}
		r.IsMatched = matched > 0
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out, nil
}

// ListExpenses filters stored credit-card transactions by window
func (m *MockRepository) ListExpenses(pairing AccountPairing, window ExpenseWindow) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListExpensesErr != nil {
		return nil, m.ListExpensesErr
	}

	var out []Transaction
	for _, t := range m.transactions {
		if t.Vendor != pairing.CreditCardVendor || t.Price >= 0 || t.Status != "completed" {
			continue
		}
		if pairing.CreditCardAccountNumber != "" && t.AccountNumber != pairing.CreditCardAccountNumber {
			continue
		}

		if window.ProcessedDate != "" {
			cycle := t.ProcessedDate
			if cycle == "" {
				cycle = t.Date
			}
			if cycle != window.ProcessedDate {
				continue
			}
		} else {
			if window.Start != "" && t.Date < window.Start {
				continue
			}
			if window.End != "" && t.Date > window.End {
				continue
			}
		}

		isMatched := m.isExpenseMatchedLocked(t.Identifier, t.Vendor)
		if !window.IncludeMatched && isMatched {
			continue
		}

		copied := *t
		copied.IsMatched = isMatched
		out = append(out, copied)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out, nil
}

// ListProcessedDates groups stored credit-card transactions by billing cycle
func (m *MockRepository) ListProcessedDates(pairing AccountPairing, rng DateRange) ([]ProcessedDateSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byCycle := make(map[string]*ProcessedDateSummary)
	for _, t := range m.transactions {
		if t.Vendor != pairing.CreditCardVendor || t.Price >= 0 || t.Status != "completed" {
			continue
		}
		if pairing.CreditCardAccountNumber != "" && t.AccountNumber != pairing.CreditCardAccountNumber {
			continue
		}
		cycle := t.ProcessedDate
		if cycle == "" {
			cycle = t.Date
		}
		if rng.Start != "" && cycle < rng.Start {
			continue
		}
		if rng.End != "" && cycle > rng.End {
			continue
		}

		sum, ok := byCycle[cycle]
		if !ok {
			sum = &ProcessedDateSummary{ProcessedDate: cycle, EarliestDate: t.Date, LatestDate: t.Date}
			byCycle[cycle] = sum
		}
		sum.ExpenseCount++
		sum.TotalAmount += math.Abs(t.Price)
		if t.Date < sum.EarliestDate {
			sum.EarliestDate = t.Date
		}
		if t.Date > sum.LatestDate {
			sum.LatestDate = t.Date
		}
	}

	var out []ProcessedDateSummary
	for _, s := range byCycle {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedDate > out[j].ProcessedDate })
	return out, nil
}

// GetPairing retrieves a stored pairing
func (m *MockRepository) GetPairing(id int64) (*AccountPairing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairings[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

// ListPairings returns stored pairings
func (m *MockRepository) ListPairings(includeInactive bool) ([]AccountPairing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AccountPairing
	for _, p := range m.pairings {
		if !includeInactive && !p.IsActive {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// SavePairing stores a pairing, assigning an ID when new
func (m *MockRepository) SavePairing(p *AccountPairing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SavePairingCalled = true
	if p.ID == 0 {
		p.ID = m.nextPairing
		m.nextPairing++
	}
	copied := *p
	m.pairings[p.ID] = &copied
	return nil
}

// SaveMatch mimics the transactional conflict-checked insert
func (m *MockRepository) SaveMatch(rows []ExpenseMatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveMatchCalled = true
	if m.SaveMatchErr != nil {
		return m.SaveMatchErr
	}

	var conflicts []string
	for _, r := range rows {
		if m.isExpenseMatchedLocked(r.ExpenseIdentifier, r.ExpenseVendor) {
			conflicts = append(conflicts, r.ExpenseIdentifier)
		}
	}
	if len(conflicts) > 0 {
		return &ConflictError{Identifiers: conflicts}
	}

	for _, r := range rows {
		r.ID = m.nextMatchID
		m.nextMatchID++
		m.matches = append(m.matches, r)
	}
	m.LastSavedMatch = rows
	return nil
}

// MatchedExpenseIdentifiers returns linked expense identifiers for a vendor
func (m *MockRepository) MatchedExpenseIdentifiers(ccVendor string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make(map[string]bool)
	for _, r := range m.matches {
		if r.ExpenseVendor == ccVendor {
			matched[r.ExpenseIdentifier] = true
		}
	}
	return matched, nil
}

// ListMatchesForRepayment returns stored links of a repayment
func (m *MockRepository) ListMatchesForRepayment(identifier, vendor string) ([]ExpenseMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ExpenseMatch
	for _, r := range m.matches {
		if r.RepaymentIdentifier == identifier && r.RepaymentVendor == vendor {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close is a no-op for the mock
func (m *MockRepository) Close() error {
	return nil
}

func (m *MockRepository) isExpenseMatchedLocked(identifier, vendor string) bool {
	for _, r := range m.matches {
		if r.ExpenseIdentifier == identifier && r.ExpenseVendor == vendor {
			return true
		}
	}
	return false
}

func (m *MockRepository) matchedAmountLocked(repaymentID, repaymentVendor string) float64 {
	var sum float64
	for _, r := range m.matches {
		if r.RepaymentIdentifier == repaymentID && r.RepaymentVendor == repaymentVendor {
			if e, ok := m.transactions[txnKey(r.ExpenseIdentifier, r.ExpenseVendor)]; ok {
				sum += math.Abs(e.Price)
			}
		}
	}
	return sum
}

func nameMatchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(name, p) {
			return true
		}
	}
	return false
}
