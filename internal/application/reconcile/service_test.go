package reconcile

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarify-money/reconcile-backend/internal/infrastructure/storage"
)

func newTestService(t *testing.T) (*Service, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	svc := NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time {
		return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	}
	return svc, repo
}

func seedPairing(t *testing.T, repo *storage.MockRepository) *storage.AccountPairing {
	t.Helper()
	p := &storage.AccountPairing{
		CreditCardVendor:        "isracard",
		CreditCardAccountNumber: "1234",
		BankVendor:              "leumi",
		BankAccountNumber:       "555",
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
		Name:          "Grocery " + id,
		Price:         -amount,
		AccountNumber: "1234",
	}
}

func TestListUnmatchedRepaymentsFiltersFullyMatched(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-10", 100))
	seedTxn(t, repo, bankRepayment("rep-2", "2026-03-11", 50))
	seedTxn(t, repo, ccExpense("exp-1", "2026-03-01", 49))
	// rep-2 matched to within the fully-matched epsilon (remaining 1.00)
	require.NoError(t, repo.SaveMatch([]storage.ExpenseMatch{{
		MatchGroupID:        "g1",
		RepaymentIdentifier: "rep-2",
		RepaymentVendor:     "leumi",
		ExpenseIdentifier:   "exp-1",
		ExpenseVendor:       "isracard",
	}}))

	unmatched, err := svc.ListUnmatchedRepayments(pairing.ID, nil)
	require.NoError(t, err)
	require.Len(t, unmatched, 1)
	assert.Equal(t, "rep-1", unmatched[0].Identifier)
}

func TestListUnmatchedRepaymentsUnknownPairing(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ListUnmatchedRepayments(99, nil)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "pairing", notFound.Resource)
}

func TestListAvailableExpensesLegacyWindow(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, ccExpense("in-window", "2026-02-01", 40))
	seedTxn(t, repo, ccExpense("too-old", "2025-12-01", 40))
	seedTxn(t, repo, ccExpense("too-new", "2026-03-12", 40))

	expenses, err := svc.ListAvailableExpenses(pairing.ID, "2026-03-10", "", false)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, "in-window", expenses[0].Identifier)
}

func TestListAvailableExpensesSmartMode(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	inCycle := ccExpense("in-cycle", "2025-11-20", 40)
	inCycle.ProcessedDate = "2026-03-02"
	seedTxn(t, repo, inCycle)

	otherCycle := ccExpense("other-cycle", "2026-03-01", 40)
	otherCycle.ProcessedDate = "2026-04-02"
	seedTxn(t, repo, otherCycle)

	// No processed_date: the transaction date is the billing cycle.
	fallback := ccExpense("fallback", "2026-03-02", 40)
	seedTxn(t, repo, fallback)

	expenses, err := svc.ListAvailableExpenses(pairing.ID, "", "2026-03-02", false)
	require.NoError(t, err)
	require.Len(t, expenses, 2)
	assert.Equal(t, "in-cycle", expenses[0].Identifier)
	assert.Equal(t, "fallback", expenses[1].Identifier)
}

func TestListAvailableExpensesExcludesMatchedByDefault(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, ccExpense("free", "2026-03-01", 40))
	seedTxn(t, repo, ccExpense("taken", "2026-03-01", 60))
	require.NoError(t, repo.SaveMatch([]storage.ExpenseMatch{{
		MatchGroupID:        "g1",
		RepaymentIdentifier: "rep-x",
		RepaymentVendor:     "leumi",
		ExpenseIdentifier:   "taken",
		ExpenseVendor:       "isracard",
	}}))

	expenses, err := svc.ListAvailableExpenses(pairing.ID, "2026-03-10", "", false)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, "free", expenses[0].Identifier)

	all, err := svc.ListAvailableExpenses(pairing.ID, "2026-03-10", "", true)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestListAvailableExpensesRequiresSomeAnchor(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	_, err := svc.ListAvailableExpenses(pairing.ID, "", "", false)
	var invalid *ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "repayment_date", invalid.Field)
}

func TestListBankRepaymentsForProcessedDate(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-02", 1200.50))
	seedTxn(t, repo, bankRepayment("rep-2", "2026-03-02", 300))
	seedTxn(t, repo, bankRepayment("rep-3", "2026-02-02", 500))

	got, err := svc.ListBankRepaymentsForProcessedDate(pairing.ID, "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RepaymentCount)
	assert.InDelta(t, 1500.50, got.TotalRepaymentAmount, 0.001)
}

func TestFindMatchingCombinationsTargetsRemainingAmount(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-10", 150))
	seedTxn(t, repo, ccExpense("exp-a", "2026-03-01", 50))
	seedTxn(t, repo, ccExpense("exp-b", "2026-03-02", 100))
	// exp-b already covers 100 of rep-1, so the search target is 50.
	require.NoError(t, repo.SaveMatch([]storage.ExpenseMatch{{
		MatchGroupID:        "g1",
		RepaymentIdentifier: "rep-1",
		RepaymentVendor:     "leumi",
		ExpenseIdentifier:   "exp-b",
		ExpenseVendor:       "isracard",
	}}))

	combos, err := svc.FindMatchingCombinations(pairing.ID, "rep-1", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, combos, 1)
	require.Len(t, combos[0].Expenses, 1)
	assert.Equal(t, "exp-a", combos[0].Expenses[0].Identifier)
	assert.True(t, combos[0].Difference.IsZero())
}

func TestFindMatchingCombinationsFullyMatchedRepayment(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-10", 100))
	seedTxn(t, repo, ccExpense("exp-a", "2026-03-01", 100))
	require.NoError(t, repo.SaveMatch([]storage.ExpenseMatch{{
		MatchGroupID:        "g1",
		RepaymentIdentifier: "rep-1",
		RepaymentVendor:     "leumi",
		ExpenseIdentifier:   "exp-a",
		ExpenseVendor:       "isracard",
	}}))

	combos, err := svc.FindMatchingCombinations(pairing.ID, "rep-1", "", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, combos)
}

func TestSaveManualMatchPerfect(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-10", 102))
	seedTxn(t, repo, ccExpense("exp-a", "2026-03-01", 50))
	seedTxn(t, repo, ccExpense("exp-b", "2026-03-02", 50))

	result, err := svc.SaveManualMatch(pairing.ID, "rep-1", []string{"exp-a", "exp-b"}, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, result.MatchCount)
	assert.InDelta(t, 2.0, result.Difference, 0.001)
	assert.InDelta(t, 102.0, result.RepaymentAmount, 0.001)
	assert.InDelta(t, 100.0, result.ExpenseSum, 0.001)

	require.True(t, repo.SaveMatchCalled)
	require.Len(t, repo.LastSavedMatch, 2)
	groupID := repo.LastSavedMatch[0].MatchGroupID
	require.NotEmpty(t, groupID)
	for _, row := range repo.LastSavedMatch {
		assert.Equal(t, groupID, row.MatchGroupID)
		assert.Equal(t, "Difference: ₪2.00", row.Note)
		assert.InDelta(t, 2.0, row.Difference, 0.001)
	}
}

func TestSaveManualMatchOverTolerance(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-10", 100))
	seedTxn(t, repo, ccExpense("exp-a", "2026-03-01", 40))

	// Requested tolerance 500 clamps to 50; difference is 60.
	_, err := svc.SaveManualMatch(pairing.ID, "rep-1", []string{"exp-a"}, 500)
	var tolErr *ToleranceError
	require.ErrorAs(t, err, &tolErr)
	assert.Equal(t, "60.00", tolErr.Difference.StringFixed(2))
	assert.Equal(t, "50.00", tolErr.Tolerance.StringFixed(2))
	assert.False(t, repo.SaveMatchCalled)
}

func TestSaveManualMatchDoubleMatchConflict(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-10", 50))
	seedTxn(t, repo, bankRepayment("rep-2", "2026-03-11", 50))
	seedTxn(t, repo, ccExpense("exp-a", "2026-03-01", 50))

	_, err := svc.SaveManualMatch(pairing.ID, "rep-1", []string{"exp-a"}, 0)
	require.NoError(t, err)

	_, err = svc.SaveManualMatch(pairing.ID, "rep-2", []string{"exp-a"}, 0)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"exp-a"}, conflict.Identifiers)
}

func TestSaveManualMatchUnknownExpense(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-10", 50))

	_, err := svc.SaveManualMatch(pairing.ID, "rep-1", []string{"ghost"}, 0)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "expense", notFound.Resource)
	assert.Equal(t, "ghost", notFound.ID)
}

func TestSaveManualMatchValidation(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	_, err := svc.SaveManualMatch(pairing.ID, "", []string{"exp-a"}, 0)
	var invalid *ValidationError
	require.ErrorAs(t, err, &invalid)

	_, err = svc.SaveManualMatch(pairing.ID, "rep-1", nil, 0)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "expense_ids", invalid.Field)
}

func TestGetMatchingStats(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-10", 100))
	seedTxn(t, repo, bankRepayment("rep-2", "2026-03-11", 100))
	seedTxn(t, repo, ccExpense("exp-a", "2026-03-01", 100))
	require.NoError(t, repo.SaveMatch([]storage.ExpenseMatch{{
		MatchGroupID:        "g1",
		RepaymentIdentifier: "rep-1",
		RepaymentVendor:     "leumi",
		ExpenseIdentifier:   "exp-a",
		ExpenseVendor:       "isracard",
	}}))

	stats, err := svc.GetMatchingStats(pairing.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRepayments)
	assert.Equal(t, 1, stats.MatchedRepayments)
	assert.Equal(t, 1, stats.UnmatchedRepayments)
	assert.InDelta(t, 200.0, stats.TotalAmount, 0.001)
	assert.InDelta(t, 100.0, stats.MatchedAmount, 0.001)
	assert.InDelta(t, 50.0, stats.MatchingPercentage, 0.001)
}

func TestGetMatchingStatsEmpty(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	stats, err := svc.GetMatchingStats(pairing.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRepayments)
	assert.Zero(t, stats.MatchingPercentage)
}

func TestGetWeeklyMatchingStats(t *testing.T) {
	svc, repo := newTestService(t)
	pairing := seedPairing(t, repo)

	// 2026-03-10 is a Tuesday; its week starts Monday 2026-03-09.
	seedTxn(t, repo, bankRepayment("rep-1", "2026-03-10", 100))
	seedTxn(t, repo, ccExpense("exp-a", "2026-03-09", 60))
	seedTxn(t, repo, ccExpense("exp-b", "2026-03-02", 40))
	require.NoError(t, repo.SaveMatch([]storage.ExpenseMatch{{
		MatchGroupID:        "g1",
		RepaymentIdentifier: "rep-1",
		RepaymentVendor:     "leumi",
		ExpenseIdentifier:   "exp-a",
		ExpenseVendor:       "isracard",
	}}))

	weeks, err := svc.GetWeeklyMatchingStats(pairing.ID, nil)
	require.NoError(t, err)
	require.Len(t, weeks, 2)
	assert.Equal(t, "2026-03-02", weeks[0].WeekStart)
	assert.Equal(t, 1, weeks[0].UnmatchedExpenses)
	assert.Equal(t, "2026-03-09", weeks[1].WeekStart)
	assert.Equal(t, 1, weeks[1].TotalRepayments)
	assert.Equal(t, 1, weeks[1].MatchedExpenses)
}

func TestWeekStart(t *testing.T) {
	assert.Equal(t, "2026-03-09", weekStart("2026-03-09")) // Monday
	assert.Equal(t, "2026-03-09", weekStart("2026-03-15")) // Sunday
	assert.Equal(t, "not-a-date", weekStart("not-a-date"))
}
