package automatch

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarify-money/reconcile-backend/internal/infrastructure/storage"
)

func newTestMatcher(t *testing.T) (*Matcher, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	m := NewMatcher(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = func() time.Time {
		return time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	}
	return m, repo
}

func seedPairing(t *testing.T, repo *storage.MockRepository) *storage.AccountPairing {
	t.Helper()
	p := &storage.AccountPairing{
		CreditCardVendor:        "isracard",
		CreditCardAccountNumber: "1234",
		BankVendor:              "leumi",
		BankAccountNumber:       "555",
		MatchPatterns:           []string{"ויזה"},
		IsActive:                true,
	}
	require.NoError(t, repo.SavePairing(p))
	return p
}

func seedTxn(t *testing.T, repo *storage.MockRepository, txn storage.Transaction) {
	t.Helper()
	require.NoError(t, repo.SaveTransaction(&txn))
}

func bankRepayment(id, date string, amount float64) storage.Transaction {
	return storage.Transaction{
		Identifier:    id,
		Vendor:        "leumi",
		Date:          date,
		Name:          "פרעון כרטיס אשראי",
		Price:         -amount,
		AccountNumber: "555",
	}
}

func ccExpense(id, date string, amount float64) storage.Transaction {
	return storage.Transaction{
		Identifier:    id,
		Vendor:        "isracard",
		Date:          date,
		Name:          "Purchase " + id,
		Price:         -amount,
		AccountNumber: "1234",
	}
}

func TestBillingPeriodPreviousMonth(t *testing.T) {
	start, end := billingPeriod(time.Date(2025, 11, 9, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2025-10-01", storage.ISODate(start))
	assert.Equal(t, "2025-10-31", storage.ISODate(end))

	start, end = billingPeriod(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2025-12-01", storage.ISODate(start))
	assert.Equal(t, "2025-12-31", storage.ISODate(end))
}

func TestIsSauvageLateInMonth(t *testing.T) {
	m, repo := newTestMatcher(t)
	pairing := seedPairing(t, repo)

	late := storage.Repayment{Transaction: bankRepayment("rep", "2026-03-20", 500)}
	got, err := m.isSauvage(*pairing, late)
	require.NoError(t, err)
	assert.True(t, got)

	early := storage.Repayment{Transaction: bankRepayment("rep", "2026-03-05", 500)}
	got, err = m.isSauvage(*pairing, early)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestIsSauvageLargeAmountWithNearbyExpense(t *testing.T) {
	m, repo := newTestMatcher(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, ccExpense("tv", "2026-03-03", 4203))

	r := storage.Repayment{Transaction: bankRepayment("rep", "2026-03-05", 4200)}
	got, err := m.isSauvage(*pairing, r)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestIsSauvageExactNearbyExpense(t *testing.T) {
	m, repo := newTestMatcher(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, ccExpense("shoes", "2026-03-02", 350.50))

	r := storage.Repayment{Transaction: bankRepayment("rep", "2026-03-05", 350.50)}
	got, err := m.isSauvage(*pairing, r)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestRunSauvageImmediateMatch(t *testing.T) {
	m, repo := newTestMatcher(t)
	seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-18", 2500))
	seedTxn(t, repo, ccExpense("sofa", "2026-03-16", 2500))

	summary, err := m.Run(Options{Months: 2})
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)

	out := summary.Outcomes[0]
	assert.True(t, out.Sauvage)
	assert.Equal(t, MethodSauvage, out.Method)
	assert.Equal(t, 1, out.MatchedCount)
	assert.True(t, out.Perfect)
	assert.True(t, out.Saved)

	require.Len(t, repo.LastSavedMatch, 1)
	assert.Equal(t, "sofa", repo.LastSavedMatch[0].ExpenseIdentifier)
	assert.Equal(t, "Difference: ₪0.00", repo.LastSavedMatch[0].Note)
}

func TestRunMonthlyGreedyFill(t *testing.T) {
	m, repo := newTestMatcher(t)
	seedPairing(t, repo)

	// March 5 repayment settles the February cycle.
	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-05", 300))
	seedTxn(t, repo, ccExpense("a", "2026-02-03", 100))
	seedTxn(t, repo, ccExpense("b", "2026-02-10", 120))
	seedTxn(t, repo, ccExpense("c", "2026-02-20", 80))
	// Outside the cycle; must not be taken.
	seedTxn(t, repo, ccExpense("d", "2026-03-02", 50))

	summary, err := m.Run(Options{Months: 2})
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)

	out := summary.Outcomes[0]
	assert.False(t, out.Sauvage)
	assert.Equal(t, MethodChronological, out.Method)
	assert.Equal(t, 3, out.MatchedCount)
	assert.InDelta(t, 300.0, out.MatchedSum, 0.001)
	assert.True(t, out.Perfect)

	matched, err := repo.MatchedExpenseIdentifiers("isracard")
	require.NoError(t, err)
	assert.True(t, matched["a"])
	assert.True(t, matched["b"])
	assert.True(t, matched["c"])
	assert.False(t, matched["d"])
}

func TestRunGreedySkipsOvershootingExpense(t *testing.T) {
	m, repo := newTestMatcher(t)
	seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-05", 100))
	seedTxn(t, repo, ccExpense("big", "2026-02-02", 500))
	seedTxn(t, repo, ccExpense("small", "2026-02-15", 100))

	summary, err := m.Run(Options{Months: 2})
	require.NoError(t, err)
	out := summary.Outcomes[0]
	assert.Equal(t, 1, out.MatchedCount)
	assert.InDelta(t, 100.0, out.MatchedSum, 0.001)
}

func TestRunCarryoverFromEarlierMonth(t *testing.T) {
	m, repo := newTestMatcher(t)
	seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-05", 200))
	// Cycle (February) only covers half.
	seedTxn(t, repo, ccExpense("feb", "2026-02-10", 100))
	// January expense within the 90-day lookback completes it.
	seedTxn(t, repo, ccExpense("jan", "2026-01-15", 100))

	summary, err := m.Run(Options{Months: 2})
	require.NoError(t, err)
	out := summary.Outcomes[0]
	assert.Equal(t, 2, out.MatchedCount)
	assert.True(t, out.HadCarryover)
	assert.True(t, out.Perfect)
}

func TestRunDoesNotClaimExpenseTwice(t *testing.T) {
	m, repo := newTestMatcher(t)
	seedPairing(t, repo)

	// Two identical repayments in the same cycle, one expense each.
	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-05", 100))
	seedTxn(t, repo, bankRepayment("rep-2", "2026-03-06", 100))
	seedTxn(t, repo, ccExpense("x", "2026-02-10", 100))
	seedTxn(t, repo, ccExpense("y", "2026-02-12", 100))

	summary, err := m.Run(Options{Months: 2})
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 2)

	matched, err := repo.MatchedExpenseIdentifiers("isracard")
	require.NoError(t, err)
	assert.True(t, matched["x"])
	assert.True(t, matched["y"])
	for _, out := range summary.Outcomes {
		assert.Equal(t, 1, out.MatchedCount)
	}
}

func TestRunDryRunPersistsNothing(t *testing.T) {
	m, repo := newTestMatcher(t)
	seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-05", 100))
	seedTxn(t, repo, ccExpense("x", "2026-02-10", 100))

	summary, err := m.Run(Options{Months: 2, DryRun: true})
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Outcomes[0].MatchedCount)
	assert.False(t, summary.Outcomes[0].Saved)
	assert.False(t, repo.SaveMatchCalled)
}

func TestRunSkipsAlreadyMatchedRepayments(t *testing.T) {
	m, repo := newTestMatcher(t)
	seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-05", 100))
	seedTxn(t, repo, ccExpense("x", "2026-02-10", 100))
	require.NoError(t, repo.SaveMatch([]storage.ExpenseMatch{{
		MatchGroupID:        "g1",
		RepaymentIdentifier: "rep-1",
		RepaymentVendor:     "leumi",
		ExpenseIdentifier:   "x",
		ExpenseVendor:       "isracard",
	}}))

	summary, err := m.Run(Options{Months: 2})
	require.NoError(t, err)
	assert.Empty(t, summary.Outcomes)
}
