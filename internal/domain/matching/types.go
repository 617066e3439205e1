package matching

import (
	"time"

	"github.com/shopspring/decimal"
)

// Search limits. The caps are deliberate product behavior, not tuning knobs:
// the subset search is exponential and a pairing with many equal small
// expenses would otherwise stall the engine.
const (
	// MaxIterations aborts the search after this many node visits.
	MaxIterations = 50000

	// SearchTimeout aborts the search after this much wall-clock time.
	SearchTimeout = 5 * time.Second

	// MaxResults caps how many combinations are returned, counted across
	// the exact and fuzzy phases together.
	MaxResults = 20
)

// MaxTolerance is the hard cap on the caller-requested monetary tolerance.
var MaxTolerance = decimal.NewFromInt(50)

// FullyMatchedEpsilon is the remaining amount under which a repayment is
// considered fully matched and no longer actionable.
var FullyMatchedEpsilon = decimal.NewFromInt(2)

// exactEpsilon treats float-scanned amounts that differ by under a cent as
// equal during the exact phase.
var exactEpsilon = decimal.NewFromFloat(0.01)

// Expense is a candidate credit-card transaction. Amount is the absolute
// value of the ledger price.
type Expense struct {
	Identifier string
	Vendor     string
	Date       string
	Name       string
	Amount     decimal.Decimal
}

// Combination is one candidate subset of expenses covering a repayment.
// It exists only within a single search invocation and is never persisted.
type Combination struct {
	Expenses    []Expense
	TotalAmount decimal.Decimal
	Difference  decimal.Decimal
	Count       int
}

// StopReason says why a search stopped.
type StopReason string

const (
	StopExhausted    StopReason = "exhausted"     // full enumeration finished
	StopResultCap    StopReason = "result_cap"    // MaxResults reached
	StopIterationCap StopReason = "iteration_cap" // MaxIterations exceeded
	StopTimeout      StopReason = "timeout"       // SearchTimeout exceeded
)

// Result is the outcome of one search. A guard-triggered stop is not an
// error; the combinations gathered so far are still returned.
type Result struct {
	Combinations []Combination
	Iterations   int
	Elapsed      time.Duration
	Stop         StopReason
}

// Options tunes a single search. Zero values fall back to the package
// defaults above.
type Options struct {
	// Tolerance is the allowed gap between the target and a combination
	// total during the fuzzy phase. It is clamped to MaxTolerance.
	Tolerance decimal.Decimal

	// MaxCombinationSize caps how many expenses one combination may
	// contain. Zero means unbounded.
	MaxCombinationSize int

	MaxIterations int
	Timeout       time.Duration
	MaxResults    int
}

// ClampTolerance bounds a caller-requested tolerance to [0, MaxTolerance].
func ClampTolerance(t decimal.Decimal) decimal.Decimal {
	if t.IsNegative() {
		return decimal.Zero
	}
	if t.GreaterThan(MaxTolerance) {
		return MaxTolerance
	}
	return t
}
