// Package reconcile ties repayment location, expense window resolution, the
// combination search and match persistence into one service consumed by the
// API and CLI layers.
//
// Every operation is a single synchronous unit of work against a fresh
// candidate snapshot; nothing is cached between calls.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clarify-money/reconcile-backend/internal/domain/matching"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/storage"
)

// LegacyWindowDays is the fixed lookback used when no billing cycle is
// supplied: expenses in [repaymentDate − 60d, repaymentDate].
const LegacyWindowDays = 60

// defaultWeeklyStatsWeeks is how far back the weekly rollup reaches by default.
const defaultWeeklyStatsWeeks = 8

// canonicalRepaymentPatterns are the localized "credit card repayment"
// phrases every repayment query matches against, before any pairing or
// caller patterns are added.
var canonicalRepaymentPatterns = []string{
	"פרעון כרטיס אשראי",
	"החזר כרטיס אשראי",
	"Credit card repayment",
}

// Service implements the reconciliation operations.
type Service struct {
	repo   storage.Repository
	engine *matching.Engine
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a reconciliation service.
func NewService(repo storage.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		engine: matching.NewEngine(logger),
		logger: logger,
		now:    time.Now,
	}
}

// SaveResult summarizes a persisted manual match.
type SaveResult struct {
	MatchCount      int     `json:"match_count"`
	Difference      float64 `json:"difference"`
	RepaymentAmount float64 `json:"repayment_amount"`
	ExpenseSum      float64 `json:"expense_sum"`
}

// RepaymentsForDate groups the bank repayments recorded on one billing date.
type RepaymentsForDate struct {
	Repayments           []storage.Repayment `json:"repayments"`
	TotalRepaymentAmount float64             `json:"total_repayment_amount"`
	RepaymentCount       int                 `json:"repayment_count"`
}

// MatchingStats is the aggregate matched-vs-unmatched rollup for a pairing.
type MatchingStats struct {
	TotalRepayments     int     `json:"total_repayments"`
	MatchedRepayments   int     `json:"matched_repayments"`
	UnmatchedRepayments int     `json:"unmatched_repayments"`
	TotalAmount         float64 `json:"total_amount"`
	MatchedAmount       float64 `json:"matched_amount"`
	MatchingPercentage  float64 `json:"matching_percentage"`
}

// ListUnmatchedRepayments returns the pairing's repayments that still have an
// actionable remaining amount. Caller patterns extend (OR) the canonical
// phrases and the pairing's configured patterns.
func (s *Service) ListUnmatchedRepayments(pairingID int64, patterns []string) ([]storage.Repayment, error) {
	pairing, err := s.getPairing(pairingID)
	if err != nil {
		return nil, err
	}

	all, err := s.repo.ListRepayments(*pairing, s.repaymentPatterns(pairing, patterns), storage.DateRange{})
	if err != nil {
		return nil, err
	}

	epsilon, _ := matching.FullyMatchedEpsilon.Float64()
	unmatched := make([]storage.Repayment, 0, len(all))
	for _, r := range all {
		if r.RemainingAmount > epsilon {
			unmatched = append(unmatched, r)
		}
	}
	return unmatched, nil
}

// ListProcessedDates returns the pairing's billing cycles. A nil range
// defaults to the trailing 12 months plus the legacy window, so every cycle
// still reachable by a legacy search shows up in the selector.
func (s *Service) ListProcessedDates(pairingID int64, rng *storage.DateRange) ([]storage.ProcessedDateSummary, error) {
	pairing, err := s.getPairing(pairingID)
	if err != nil {
		return nil, err
	}

	effective := storage.DateRange{}
	if rng != nil {
		effective = *rng
	}
	if effective.Start == "" || effective.End == "" {
		today := s.now()
		if effective.End == "" {
			effective.End = storage.ISODate(today)
		}
		if effective.Start == "" {
			effective.Start = storage.ISODate(today.AddDate(-1, 0, -LegacyWindowDays))
		}
	}

	return s.repo.ListProcessedDates(*pairing, effective)
}

// ListAvailableExpenses resolves the candidate expense set for a repayment.
// With a processedDate the window is that billing cycle regardless of
// transaction dates (smart mode); otherwise it is the 60-day lookback ending
// at the repayment date (legacy mode).
func (s *Service) ListAvailableExpenses(pairingID int64, repaymentDate, processedDate string, includeMatched bool) ([]storage.Transaction, error) {
	pairing, err := s.getPairing(pairingID)
	if err != nil {
		return nil, err
	}

	window, err := s.resolveWindow(repaymentDate, processedDate, includeMatched)
	if err != nil {
		return nil, err
	}

	return s.repo.ListExpenses(*pairing, window)
}

// ListBankRepaymentsForProcessedDate returns the pairing's repayments dated
// on the given billing date, with their total.
func (s *Service) ListBankRepaymentsForProcessedDate(pairingID int64, processedDate string) (*RepaymentsForDate, error) {
	if processedDate == "" {
		return nil, &ValidationError{Field: "processed_date", Message: "is required"}
	}
	pairing, err := s.getPairing(pairingID)
	if err != nil {
		return nil, err
	}

	repayments, err := s.repo.ListRepayments(*pairing,
		s.repaymentPatterns(pairing, nil),
		storage.DateRange{Start: processedDate, End: processedDate})
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, r := range repayments {
		total = total.Add(decimal.NewFromFloat(math.Abs(r.Price)))
	}

	t, _ := total.Round(2).Float64()
	return &RepaymentsForDate{
		Repayments:           repayments,
		TotalRepaymentAmount: t,
		RepaymentCount:       len(repayments),
	}, nil
}

// FindMatchingCombinations runs the combination search for one repayment.
// The target is the repayment's remaining amount, so partially matched
// repayments search for the rest. processedDate selects smart mode.
func (s *Service) FindMatchingCombinations(pairingID int64, repaymentID, processedDate string, tolerance float64, maxCombinationSize int) ([]matching.Combination, error) {
	if repaymentID == "" {
		return nil, &ValidationError{Field: "repayment_id", Message: "is required"}
	}
	pairing, err := s.getPairing(pairingID)
	if err != nil {
		return nil, err
	}

	repayment, err := s.getRepayment(repaymentID, pairing.BankVendor)
	if err != nil {
		return nil, err
	}

	remaining, err := s.remainingAmount(repayment)
	if err != nil {
		return nil, err
	}
	if remaining.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	window, err := s.resolveWindow(repayment.Date, processedDate, false)
	if err != nil {
		return nil, err
	}
	expenses, err := s.repo.ListExpenses(*pairing, window)
	if err != nil {
		return nil, err
	}

	candidates := make([]matching.Expense, 0, len(expenses))
	for _, e := range expenses {
		candidates = append(candidates, matching.Expense{
			Identifier: e.Identifier,
			Vendor:     e.Vendor,
			Date:       e.Date,
			Name:       e.Name,
			Amount:     decimal.NewFromFloat(math.Abs(e.Price)),
		})
	}

	result := s.engine.FindCombinations(remaining, candidates, matching.Options{
		Tolerance:          decimal.NewFromFloat(tolerance),
		MaxCombinationSize: maxCombinationSize,
	})

	s.logger.Debug("combination search finished",
		"repayment", repaymentID,
		"candidates", len(candidates),
		"combinations", len(result.Combinations),
		"iterations", result.Iterations,
		"stop", result.Stop)

	return result.Combinations, nil
}

// SaveManualMatch validates a caller-chosen expense selection against the
// repayment and persists it as one link row per expense. Validation and the
// conflict check run in the same transactional scope as the insert.
func (s *Service) SaveManualMatch(pairingID int64, repaymentID string, expenseIDs []string, tolerance float64) (*SaveResult, error) {
	if repaymentID == "" {
		return nil, &ValidationError{Field: "repayment_id", Message: "is required"}
	}
	if len(expenseIDs) == 0 {
		return nil, &ValidationError{Field: "expense_ids", Message: "at least one expense is required"}
	}

	pairing, err := s.getPairing(pairingID)
	if err != nil {
		return nil, err
	}
	repayment, err := s.getRepayment(repaymentID, pairing.BankVendor)
	if err != nil {
		return nil, err
	}

	selectedSum := decimal.Zero
	for _, id := range expenseIDs {
		expense, err := s.repo.GetTransaction(id, pairing.CreditCardVendor)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, &NotFoundError{Resource: "expense", ID: id}
			}
			return nil, err
		}
		selectedSum = selectedSum.Add(decimal.NewFromFloat(math.Abs(expense.Price)))
	}

	repaymentAmount := decimal.NewFromFloat(math.Abs(repayment.Price))
	difference := repaymentAmount.Sub(selectedSum).Abs().Round(2)
	effectiveTolerance := matching.ClampTolerance(decimal.NewFromFloat(tolerance))

	if difference.GreaterThan(effectiveTolerance) {
		return nil, &ToleranceError{Difference: difference, Tolerance: effectiveTolerance}
	}

	groupID := uuid.NewString()
	note := fmt.Sprintf("Difference: ₪%s", difference.StringFixed(2))
	diffValue, _ := difference.Float64()

	rows := make([]storage.ExpenseMatch, 0, len(expenseIDs))
	for _, id := range expenseIDs {
		rows = append(rows, storage.ExpenseMatch{
			MatchGroupID:        groupID,
			RepaymentIdentifier: repayment.Identifier,
			RepaymentVendor:     repayment.Vendor,
			ExpenseIdentifier:   id,
			ExpenseVendor:       pairing.CreditCardVendor,
			Difference:          diffValue,
			Note:                note,
		})
	}

	if err := s.repo.SaveMatch(rows); err != nil {
		var conflict *storage.ConflictError
		if errors.As(err, &conflict) {
			return nil, &ConflictError{Identifiers: conflict.Identifiers}
		}
		return nil, err
	}

	repayAmt, _ := repaymentAmount.Float64()
	expenseSum, _ := selectedSum.Round(2).Float64()

	s.logger.Info("manual match saved",
		"repayment", repaymentID,
		"expenses", len(expenseIDs),
		"difference", difference.StringFixed(2))

	return &SaveResult{
		MatchCount:      len(expenseIDs),
		Difference:      diffValue,
		RepaymentAmount: repayAmt,
		ExpenseSum:      expenseSum,
	}, nil
}

// GetMatchingStats returns the aggregate rollup across all of the pairing's
// repayments.
func (s *Service) GetMatchingStats(pairingID int64, patterns []string) (*MatchingStats, error) {
	pairing, err := s.getPairing(pairingID)
	if err != nil {
		return nil, err
	}

	repayments, err := s.repo.ListRepayments(*pairing,
		s.repaymentPatterns(pairing, patterns), storage.DateRange{})
	if err != nil {
		return nil, err
	}

	epsilon, _ := matching.FullyMatchedEpsilon.Float64()
	stats := &MatchingStats{}
	total := decimal.Zero
	matched := decimal.Zero
	for _, r := range repayments {
		stats.TotalRepayments++
		total = total.Add(decimal.NewFromFloat(math.Abs(r.Price)))
		matched = matched.Add(decimal.NewFromFloat(r.MatchedAmount))
		if r.RemainingAmount <= epsilon {
			stats.MatchedRepayments++
		} else {
			stats.UnmatchedRepayments++
		}
	}

	stats.TotalAmount, _ = total.Round(2).Float64()
	stats.MatchedAmount, _ = matched.Round(2).Float64()
	if total.GreaterThan(decimal.Zero) {
		pct := matched.Div(total).Mul(decimal.NewFromInt(100)).Round(2)
		stats.MatchingPercentage, _ = pct.Float64()
	}
	return stats, nil
}

// GetWeeklyMatchingStats buckets the pairing's repayments and expenses into
// Monday-anchored weeks. A nil range defaults to the trailing 8 weeks.
func (s *Service) GetWeeklyMatchingStats(pairingID int64, rng *storage.DateRange) ([]storage.WeekStats, error) {
	pairing, err := s.getPairing(pairingID)
	if err != nil {
		return nil, err
	}

	effective := s.defaultStatsRange()
	if rng != nil && rng.Start != "" {
		effective.Start = rng.Start
	}
	if rng != nil && rng.End != "" {
		effective.End = rng.End
	}

	repayments, err := s.repo.ListRepayments(*pairing, s.repaymentPatterns(pairing, nil), effective)
	if err != nil {
		return nil, err
	}
	expenses, err := s.repo.ListExpenses(*pairing, storage.ExpenseWindow{
		Start:          effective.Start,
		End:            effective.End,
		IncludeMatched: true,
	})
	if err != nil {
		return nil, err
	}

	epsilon, _ := matching.FullyMatchedEpsilon.Float64()
	byWeek := make(map[string]*storage.WeekStats)
	week := func(date string) *storage.WeekStats {
		start := weekStart(date)
		w, ok := byWeek[start]
		if !ok {
			w = &storage.WeekStats{WeekStart: start}
			byWeek[start] = w
		}
		return w
	}

	for _, r := range repayments {
		w := week(r.Date)
		w.TotalRepayments++
		if r.RemainingAmount <= epsilon {
			w.MatchedRepayments++
		} else {
			w.UnmatchedRepayments++
		}
	}
	for _, e := range expenses {
		w := week(e.Date)
		w.TotalExpenses++
		if e.IsMatched {
			w.MatchedExpenses++
		} else {
			w.UnmatchedExpenses++
		}
	}

	out := make([]storage.WeekStats, 0, len(byWeek))
	for _, w := range byWeek {
		out = append(out, *w)
	}
	sortWeekStats(out)
	return out, nil
}

func (s *Service) getPairing(id int64) (*storage.AccountPairing, error) {
	pairing, err := s.repo.GetPairing(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Resource: "pairing", ID: fmt.Sprintf("%d", id)}
		}
		return nil, err
	}
	if pairing.BankVendor == "" || pairing.CreditCardVendor == "" {
		return nil, &ValidationError{Field: "pairing", Message: "bank and credit-card vendors are required"}
	}
	return pairing, nil
}

func (s *Service) getRepayment(identifier, bankVendor string) (*storage.Transaction, error) {
	t, err := s.repo.GetTransaction(identifier, bankVendor)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Resource: "repayment", ID: identifier}
		}
		return nil, err
	}
	return t, nil
}

// remainingAmount is the repayment amount minus the absolute sum of already
// linked expenses.
func (s *Service) remainingAmount(repayment *storage.Transaction) (decimal.Decimal, error) {
	links, err := s.repo.ListMatchesForRepayment(repayment.Identifier, repayment.Vendor)
	if err != nil {
		return decimal.Zero, err
	}

	matched := decimal.Zero
	for _, link := range links {
		expense, err := s.repo.GetTransaction(link.ExpenseIdentifier, link.ExpenseVendor)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return decimal.Zero, err
		}
		matched = matched.Add(decimal.NewFromFloat(math.Abs(expense.Price)))
	}

	return decimal.NewFromFloat(math.Abs(repayment.Price)).Sub(matched), nil
}

func (s *Service) resolveWindow(repaymentDate, processedDate string, includeMatched bool) (storage.ExpenseWindow, error) {
	if processedDate != "" {
		return storage.ExpenseWindow{ProcessedDate: processedDate, IncludeMatched: includeMatched}, nil
	}
	if repaymentDate == "" {
		return storage.ExpenseWindow{}, &ValidationError{Field: "repayment_date", Message: "is required without a processed date"}
	}
	end, err := time.Parse("2006-01-02", repaymentDate)
	if err != nil {
		return storage.ExpenseWindow{}, &ValidationError{Field: "repayment_date", Message: "must be an ISO date (YYYY-MM-DD)"}
	}
	return storage.ExpenseWindow{
		Start:          storage.ISODate(end.AddDate(0, 0, -LegacyWindowDays)),
		End:            repaymentDate,
		IncludeMatched: includeMatched,
	}, nil
}

func (s *Service) repaymentPatterns(pairing *storage.AccountPairing, extra []string) []string {
	patterns := make([]string, 0, len(canonicalRepaymentPatterns)+len(pairing.MatchPatterns)+len(extra))
	patterns = append(patterns, canonicalRepaymentPatterns...)
	patterns = append(patterns, pairing.MatchPatterns...)
	patterns = append(patterns, extra...)
	return patterns
}

func (s *Service) defaultStatsRange() storage.DateRange {
	today := s.now()
	return storage.DateRange{
		Start: storage.ISODate(today.AddDate(0, 0, -7*defaultWeeklyStatsWeeks)),
		End:   storage.ISODate(today),
	}
}

// weekStart maps an ISO date to the Monday of its week. Unparseable dates
// bucket under themselves.
func weekStart(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	offset := (int(t.Weekday()) + 6) % 7
	return storage.ISODate(t.AddDate(0, 0, -offset))
}

func sortWeekStats(stats []storage.WeekStats) {
	sort.Slice(stats, func(i, j int) bool { return stats[i].WeekStart < stats[j].WeekStart })
}
