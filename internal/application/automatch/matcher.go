// Package automatch implements the batch auto-matcher: it walks a pairing's
// unmatched repayments and links each one to the expenses that plausibly
// produced it, without human review.
//
// Repayments split into two populations with different behavior. A "sauvage"
// repayment is an out-of-cycle immediate charge (a large purchase debited
// directly); it usually has a single same-amount expense a few days earlier.
// A monthly repayment settles a full billing cycle and is filled greedily
// from the cycle's expenses, with a bounded carryover into earlier months
// when the cycle alone cannot cover it.
package automatch

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clarify-money/reconcile-backend/internal/infrastructure/storage"
)

// Matching thresholds. Amounts are in the ledger currency.
var (
	// GreedyTolerance is the allowed gap when filling a billing cycle.
	GreedyTolerance = decimal.NewFromInt(2)

	// immediateEpsilon bounds an immediate single-expense match.
	immediateEpsilon = decimal.NewFromInt(1)

	// nearEpsilon bounds the "similar expense nearby" sauvage signal.
	nearEpsilon = decimal.NewFromInt(5)

	// largeAmount marks a repayment as a candidate immediate charge.
	largeAmount = decimal.NewFromInt(1000)
)

const (
	// immediateLookbackDays is how far back an immediate expense may sit.
	immediateLookbackDays = 7

	// monthlyLookbackDays bounds carryover for cycle repayments.
	monthlyLookbackDays = 90

	// sauvageLookbackDays bounds carryover for sauvage repayments that
	// fell through to cycle matching.
	sauvageLookbackDays = 365

	// sauvageDayThreshold: cycle repayments land on the 1st..15th, so a
	// later day of month is an out-of-cycle signal by itself.
	sauvageDayThreshold = 15
)

// MatchMethod says how a repayment's expenses were chosen.
type MatchMethod string

const (
	MethodSauvage       MatchMethod = "sauvage_payment"
	MethodChronological MatchMethod = "auto_chronological"
	MethodCarryover     MatchMethod = "carryover"
)

// Options tunes one batch run.
type Options struct {
	// Months bounds how far back repayments are considered.
	Months int

	// DryRun reports what would be linked without persisting anything.
	DryRun bool
}

// Outcome is the per-repayment result of a run.
type Outcome struct {
	Repayment    storage.Repayment `json:"repayment"`
	Sauvage      bool              `json:"sauvage"`
	Method       MatchMethod       `json:"method"`
	MatchedCount int               `json:"matched_count"`
	MatchedSum   float64           `json:"matched_sum"`
	Difference   float64           `json:"difference"`
	Perfect      bool              `json:"perfect"`
	HadCarryover bool              `json:"had_carryover"`
	Saved        bool              `json:"saved"`
}

// Summary aggregates a full run.
type Summary struct {
	Outcomes        []Outcome `json:"outcomes"`
	TotalRepayments int       `json:"total_repayments"`
	TotalAmount     float64   `json:"total_amount"`
	MatchedAmount   float64   `json:"matched_amount"`
	PerfectMatches  int       `json:"perfect_matches"`
	DryRun          bool      `json:"dry_run"`
}

// Matcher runs batch auto-matching against a repository.
type Matcher struct {
	repo   storage.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewMatcher creates a batch matcher.
func NewMatcher(repo storage.Repository, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{repo: repo, logger: logger, now: time.Now}
}

// repaymentPatterns mirrors the manual flow: the localized repayment phrases
// plus whatever the pairing configures.
var repaymentPatterns = []string{
	"פרעון כרטיס אשראי",
	"החזר כרטיס אשראי",
	"Credit card repayment",
}

// Run matches every still-unmatched repayment of every active pairing.
//
// Sauvage repayments go first, smallest amount first: an immediate match is
// near-certain, and consuming its expense early keeps it out of some cycle's
// greedy fill. Monthly repayments follow newest first, so recent cycles claim
// recent expenses before older cycles reach into them.
func (m *Matcher) Run(opts Options) (*Summary, error) {
	months := opts.Months
	if months <= 0 {
		months = 2
	}

	pairings, err := m.repo.ListPairings(false)
	if err != nil {
		return nil, fmt.Errorf("listing pairings: %w", err)
	}

	today := m.now()
	rng := storage.DateRange{
		Start: storage.ISODate(today.AddDate(0, -months, 0)),
		End:   storage.ISODate(today),
	}

	summary := &Summary{DryRun: opts.DryRun}
	for _, pairing := range pairings {
		if err := m.runPairing(pairing, rng, opts.DryRun, summary); err != nil {
			return nil, err
		}
	}

	m.logger.Info("auto-match run finished",
		"repayments", summary.TotalRepayments,
		"perfect", summary.PerfectMatches,
		"dry_run", opts.DryRun)
	return summary, nil
}

func (m *Matcher) runPairing(pairing storage.AccountPairing, rng storage.DateRange, dryRun bool, summary *Summary) error {
	patterns := append(append([]string{}, repaymentPatterns...), pairing.MatchPatterns...)
	repayments, err := m.repo.ListRepayments(pairing, patterns, rng)
	if err != nil {
		return fmt.Errorf("listing repayments for pairing %d: %w", pairing.ID, err)
	}

	var sauvage, monthly []storage.Repayment
	for _, r := range repayments {
		if r.MatchedAmount > 0 {
			continue
		}
		is, err := m.isSauvage(pairing, r)
		if err != nil {
			return err
		}
		if is {
			sauvage = append(sauvage, r)
		} else {
			monthly = append(monthly, r)
		}
	}

	// Smallest sauvage first.
	sortRepayments(sauvage, func(a, b storage.Repayment) bool {
		if a.Price != b.Price {
			return math.Abs(a.Price) < math.Abs(b.Price)
		}
		return a.Identifier < b.Identifier
	})
	// Newest cycle first.
	sortRepayments(monthly, func(a, b storage.Repayment) bool {
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		return a.Identifier < b.Identifier
	})

	// Expenses claimed within this run, before anything is persisted.
	claimed := make(map[string]bool)

	for _, r := range sauvage {
		if err := m.matchOne(pairing, r, true, claimed, dryRun, summary); err != nil {
			return err
		}
	}
	for _, r := range monthly {
		if err := m.matchOne(pairing, r, false, claimed, dryRun, summary); err != nil {
			return err
		}
	}
	return nil
}

func (m *Matcher) matchOne(pairing storage.AccountPairing, repayment storage.Repayment, sauvage bool, claimed map[string]bool, dryRun bool, summary *Summary) error {
	amount := decimal.NewFromFloat(math.Abs(repayment.Price))
	outcome := Outcome{Repayment: repayment, Sauvage: sauvage}

	var chosen []chosenExpense
	if sauvage {
		immediate, err := m.findImmediate(pairing, repayment, claimed)
		if err != nil {
			return err
		}
		if immediate != nil {
			chosen = []chosenExpense{{txn: *immediate, method: MethodSauvage}}
			outcome.Method = MethodSauvage
		}
	}

	if chosen == nil {
		lookback := monthlyLookbackDays
		if sauvage {
			lookback = sauvageLookbackDays
		}
		var err error
		chosen, err = m.fillBillingCycle(pairing, repayment, amount, lookback, claimed)
		if err != nil {
			return err
		}
		outcome.Method = MethodChronological
		for _, c := range chosen {
			if c.method == MethodCarryover {
				outcome.HadCarryover = true
			}
		}
	}

	matchedSum := decimal.Zero
	for _, c := range chosen {
		matchedSum = matchedSum.Add(decimal.NewFromFloat(math.Abs(c.txn.Price)))
	}
	difference := amount.Sub(matchedSum).Round(2)

	outcome.MatchedCount = len(chosen)
	outcome.MatchedSum, _ = matchedSum.Round(2).Float64()
	outcome.Difference, _ = difference.Float64()
	outcome.Perfect = difference.Abs().LessThanOrEqual(GreedyTolerance)

	if len(chosen) > 0 {
		for _, c := range chosen {
			claimed[expenseKey(c.txn.Identifier, c.txn.Vendor)] = true
		}
		if !dryRun {
			if err := m.persist(pairing, repayment, chosen, difference); err != nil {
				return err
			}
			outcome.Saved = true
		}
	}

	summary.Outcomes = append(summary.Outcomes, outcome)
	summary.TotalRepayments++
	amt, _ := amount.Float64()
	summary.TotalAmount += amt
	summary.MatchedAmount += outcome.MatchedSum
	if outcome.Perfect && len(chosen) > 0 {
		summary.PerfectMatches++
	}

	m.logger.Debug("repayment processed",
		"repayment", repayment.Identifier,
		"method", outcome.Method,
		"expenses", outcome.MatchedCount,
		"difference", difference.StringFixed(2))
	return nil
}

type chosenExpense struct {
	txn    storage.Transaction
	method MatchMethod
}

// isSauvage applies the out-of-cycle signals: landing after the 15th, a
// large amount with a similar expense in the preceding week, or any
// near-exact expense in the preceding week.
func (m *Matcher) isSauvage(pairing storage.AccountPairing, repayment storage.Repayment) (bool, error) {
	date, err := time.Parse("2006-01-02", repayment.Date)
	if err != nil {
		return false, nil
	}
	if date.Day() > sauvageDayThreshold {
		return true, nil
	}

	amount := decimal.NewFromFloat(math.Abs(repayment.Price))
	recent, err := m.repo.ListExpenses(pairing, storage.ExpenseWindow{
		Start:          storage.ISODate(date.AddDate(0, 0, -immediateLookbackDays)),
		End:            repayment.Date,
		IncludeMatched: true,
	})
	if err != nil {
		return false, fmt.Errorf("listing recent expenses: %w", err)
	}

	for _, e := range recent {
		gap := decimal.NewFromFloat(math.Abs(e.Price)).Sub(amount).Abs()
		if amount.GreaterThan(largeAmount) && gap.LessThan(nearEpsilon) {
			return true, nil
		}
		if gap.LessThan(immediateEpsilon) {
			return true, nil
		}
	}
	return false, nil
}

// findImmediate looks for a single unclaimed expense of (near) the repayment
// amount in the preceding week. Newest wins.
func (m *Matcher) findImmediate(pairing storage.AccountPairing, repayment storage.Repayment, claimed map[string]bool) (*storage.Transaction, error) {
	date, err := time.Parse("2006-01-02", repayment.Date)
	if err != nil {
		return nil, nil
	}
	amount := decimal.NewFromFloat(math.Abs(repayment.Price))

	expenses, err := m.repo.ListExpenses(pairing, storage.ExpenseWindow{
		Start: storage.ISODate(date.AddDate(0, 0, -immediateLookbackDays)),
		End:   repayment.Date,
	})
	if err != nil {
		return nil, fmt.Errorf("listing immediate candidates: %w", err)
	}

	var best *storage.Transaction
	for i := range expenses {
		e := expenses[i]
		if claimed[expenseKey(e.Identifier, e.Vendor)] {
			continue
		}
		gap := decimal.NewFromFloat(math.Abs(e.Price)).Sub(amount).Abs()
		if gap.GreaterThanOrEqual(immediateEpsilon) {
			continue
		}
		if best == nil || e.Date > best.Date {
			best = &expenses[i]
		}
	}
	return best, nil
}

// fillBillingCycle fills the repayment from its billing cycle's expenses in
// chronological order, then carries over into earlier months while short.
func (m *Matcher) fillBillingCycle(pairing storage.AccountPairing, repayment storage.Repayment, amount decimal.Decimal, lookbackDays int, claimed map[string]bool) ([]chosenExpense, error) {
	date, err := time.Parse("2006-01-02", repayment.Date)
	if err != nil {
		return nil, nil
	}
	periodStart, periodEnd := billingPeriod(date)

	cycle, err := m.repo.ListExpenses(pairing, storage.ExpenseWindow{
		Start: storage.ISODate(periodStart),
		End:   storage.ISODate(periodEnd),
	})
	if err != nil {
		return nil, fmt.Errorf("listing cycle expenses: %w", err)
	}

	var chosen []chosenExpense
	running := decimal.Zero
	running, chosen = greedyFill(cycle, amount, running, chosen, MethodChronological, claimed)

	// Carryover: the cycle alone came up short, so reach back across the
	// temporal-locality bound for older unclaimed expenses.
	if amount.Sub(running).GreaterThan(GreedyTolerance) {
		carryStart := periodStart.AddDate(0, 0, -monthlyLookbackDays)
		if limit := date.AddDate(0, 0, -lookbackDays); limit.After(carryStart) {
			carryStart = limit
		}

		older, err := m.repo.ListExpenses(pairing, storage.ExpenseWindow{
			Start: storage.ISODate(carryStart),
			End:   storage.ISODate(periodStart.AddDate(0, 0, -1)),
		})
		if err != nil {
			return nil, fmt.Errorf("listing carryover expenses: %w", err)
		}
		_, chosen = greedyFill(older, amount, running, chosen, MethodCarryover, claimed)
	}

	return chosen, nil
}

// greedyFill appends expenses in listing order while the running sum stays
// within tolerance of the target, stopping once the target is reached.
func greedyFill(expenses []storage.Transaction, target, running decimal.Decimal, chosen []chosenExpense, method MatchMethod, claimed map[string]bool) (decimal.Decimal, []chosenExpense) {
	limit := target.Add(GreedyTolerance)
	for _, e := range expenses {
		if claimed[expenseKey(e.Identifier, e.Vendor)] {
			continue
		}
		amount := decimal.NewFromFloat(math.Abs(e.Price))
		next := running.Add(amount)
		if next.GreaterThan(limit) {
			continue
		}
		chosen = append(chosen, chosenExpense{txn: e, method: method})
		running = next
		if target.Sub(running).Abs().LessThanOrEqual(GreedyTolerance) {
			break
		}
	}
	return running, chosen
}

func (m *Matcher) persist(pairing storage.AccountPairing, repayment storage.Repayment, chosen []chosenExpense, difference decimal.Decimal) error {
	groupID := uuid.NewString()
	note := fmt.Sprintf("Difference: ₪%s", difference.Abs().StringFixed(2))
	diffValue, _ := difference.Abs().Float64()

	rows := make([]storage.ExpenseMatch, 0, len(chosen))
	for _, c := range chosen {
		rows = append(rows, storage.ExpenseMatch{
			MatchGroupID:        groupID,
			RepaymentIdentifier: repayment.Identifier,
			RepaymentVendor:     repayment.Vendor,
			ExpenseIdentifier:   c.txn.Identifier,
			ExpenseVendor:       c.txn.Vendor,
			Difference:          diffValue,
			Note:                note,
		})
	}
	if err := m.repo.SaveMatch(rows); err != nil {
		return fmt.Errorf("saving matches for repayment %s: %w", repayment.Identifier, err)
	}
	return nil
}

// billingPeriod returns the previous calendar month: a payment on Nov 9
// settles Oct 1 through Oct 31.
func billingPeriod(paymentDate time.Time) (time.Time, time.Time) {
	firstOfPaymentMonth := time.Date(paymentDate.Year(), paymentDate.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := firstOfPaymentMonth.AddDate(0, -1, 0)
	end := firstOfPaymentMonth.AddDate(0, 0, -1)
	return start, end
}

func expenseKey(identifier, vendor string) string {
	return identifier + "|" + vendor
}

func sortRepayments(rs []storage.Repayment, less func(a, b storage.Repayment) bool) {
	sort.Slice(rs, func(i, j int) bool { return less(rs[i], rs[j]) })
}
