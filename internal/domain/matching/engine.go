// Package matching implements the combination search at the heart of
// repayment reconciliation: finding subsets of credit-card expenses whose
// total covers a bank repayment within a monetary tolerance.
//
// The search is a depth-first subset enumeration over the amount-sorted
// candidate list, run in two phases: an exact phase first (most valid
// reconciliations sum exactly), then a fuzzy phase up to the caller's
// tolerance if the result cap is not yet reached. All search state lives in
// a per-invocation struct, so concurrent searches share nothing.
package matching

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Engine searches for expense combinations. It is stateless and safe for
// concurrent use; every search carries its own state.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a search engine. A nil logger falls back to slog.Default.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// FindCombinations returns up to MaxResults combinations of candidates whose
// absolute total falls within [target − tolerance, target + tolerance],
// ordered by difference, then by expense count, then by first identifier.
//
// A non-positive target or an empty candidate list yields an empty result.
func (e *Engine) FindCombinations(target decimal.Decimal, candidates []Expense, opts Options) Result {
	started := time.Now()

	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = MaxIterations
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = SearchTimeout
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = MaxResults
	}
	tolerance := ClampTolerance(opts.Tolerance)

	if target.LessThanOrEqual(decimal.Zero) || len(candidates) == 0 {
		return Result{Stop: StopExhausted, Elapsed: time.Since(started)}
	}

	// Largest amounts first: partial sums overshoot the upper bound as
	// early as possible, and the suffix-sum lower bound tightens fastest.
	sorted := make([]Expense, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Amount.Equal(sorted[j].Amount) {
			return sorted[i].Amount.GreaterThan(sorted[j].Amount)
		}
		return sorted[i].Identifier < sorted[j].Identifier
	})

	// suffix[i] = sum of amounts from i to the end.
	suffix := make([]decimal.Decimal, len(sorted)+1)
	suffix[len(sorted)] = decimal.Zero
	for i := len(sorted) - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1].Add(sorted[i].Amount)
	}

	st := &searchState{
		target:        target,
		candidates:    sorted,
		suffix:        suffix,
		maxSize:       opts.MaxCombinationSize,
		maxIterations: maxIterations,
		deadline:      started.Add(timeout),
		maxResults:    maxResults,
		seen:          make(map[string]bool),
		stop:          StopExhausted,
	}

	// Exact phase, then fuzzy only when the caller allows a gap.
	st.runPhase(exactEpsilon)
	if st.stop == StopExhausted && tolerance.GreaterThan(exactEpsilon) {
		st.runPhase(tolerance)
	}

	elapsed := time.Since(started)
	switch st.stop {
	case StopIterationCap:
		e.logger.Warn("combination search stopped at iteration cap",
			"iterations", st.iterations,
			"results", len(st.results),
			"candidates", len(candidates))
	case StopTimeout:
		e.logger.Warn("combination search timed out",
			"elapsed", elapsed,
			"iterations", st.iterations,
			"results", len(st.results),
			"candidates", len(candidates))
	}

	sortCombinations(st.results)
	return Result{
		Combinations: st.results,
		Iterations:   st.iterations,
		Elapsed:      elapsed,
		Stop:         st.stop,
	}
}

// searchState carries everything one search invocation mutates. The
// iteration counter and deadline are shared across both phases.
type searchState struct {
	target     decimal.Decimal
	candidates []Expense
	suffix     []decimal.Decimal
	maxSize    int

	maxIterations int
	deadline      time.Time
	maxResults    int

	epsilon    decimal.Decimal
	lower      decimal.Decimal
	upper      decimal.Decimal
	iterations int
	results    []Combination
	seen       map[string]bool
	stop       StopReason
}

func (st *searchState) runPhase(epsilon decimal.Decimal) {
	st.epsilon = epsilon
	st.lower = st.target.Sub(epsilon)
	st.upper = st.target.Add(epsilon)
	st.stop = StopExhausted
	st.dfs(0, decimal.Zero, nil)
}

// dfs enumerates subsets of candidates[start:] on top of the chosen prefix.
// Returns false when a guard or the result cap stopped the search.
func (st *searchState) dfs(start int, partial decimal.Decimal, chosen []int) bool {
	st.iterations++
	if st.iterations > st.maxIterations {
		st.stop = StopIterationCap
		return false
	}
	// The clock check is periodic: a time.Now() per node would dominate
	// the traversal cost.
	if st.iterations%1024 == 0 && time.Now().After(st.deadline) {
		st.stop = StopTimeout
		return false
	}

	if len(chosen) > 0 && partial.GreaterThanOrEqual(st.lower) && partial.LessThanOrEqual(st.upper) {
		st.record(chosen, partial)
		if len(st.results) >= st.maxResults {
			st.stop = StopResultCap
			return false
		}
	}

	if st.maxSize > 0 && len(chosen) >= st.maxSize {
		return true
	}

	for i := start; i < len(st.candidates); i++ {
		// Even taking every remaining candidate cannot reach the lower
		// bound; amounts only shrink from here, so stop the whole level.
		if partial.Add(st.suffix[i]).LessThan(st.lower) {
			break
		}

		next := partial.Add(st.candidates[i].Amount)
		if next.GreaterThan(st.upper) {
			// This candidate overshoots; smaller ones may still fit.
			continue
		}

		if !st.dfs(i+1, next, append(chosen, i)) {
			return false
		}
	}

	return true
}

func (st *searchState) record(chosen []int, total decimal.Decimal) {
	// Chosen indices are strictly increasing, so the joined key identifies
	// the expense set regardless of phase.
	ids := make([]string, len(chosen))
	for k, idx := range chosen {
		ids[k] = st.candidates[idx].Identifier
	}
	key := strings.Join(ids, "|")
	if st.seen[key] {
		return
	}
	st.seen[key] = true

	expenses := make([]Expense, len(chosen))
	for k, idx := range chosen {
		expenses[k] = st.candidates[idx]
	}

	st.results = append(st.results, Combination{
		Expenses:    expenses,
		TotalAmount: total,
		Difference:  st.target.Sub(total).Abs(),
		Count:       len(expenses),
	})
}

// sortCombinations orders results by difference, then count (fewer expenses
// win ties), then first expense identifier so equal inputs give equal output.
func sortCombinations(combos []Combination) {
	sort.Slice(combos, func(i, j int) bool {
		if !combos[i].Difference.Equal(combos[j].Difference) {
			return combos[i].Difference.LessThan(combos[j].Difference)
		}
		if combos[i].Count != combos[j].Count {
			return combos[i].Count < combos[j].Count
		}
		return firstIdentifier(combos[i]) < firstIdentifier(combos[j])
	})
}

func firstIdentifier(c Combination) string {
	if len(c.Expenses) == 0 {
		return ""
	}
	return c.Expenses[0].Identifier
}
