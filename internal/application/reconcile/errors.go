package reconcile

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidationError reports a caller-correctable request problem. It is
// returned before any storage access happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ToleranceError reports a selection whose total misses the repayment amount
// by more than the effective (clamped) tolerance.
type ToleranceError struct {
	Difference decimal.Decimal
	Tolerance  decimal.Decimal
}

func (e *ToleranceError) Error() string {
	return fmt.Sprintf("difference %s exceeds tolerance %s",
		e.Difference.StringFixed(2), e.Tolerance.StringFixed(2))
}

// ConflictError reports expenses already linked to another match.
type ConflictError struct {
	Identifiers []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("expenses already matched: %s", strings.Join(e.Identifiers, ", "))
}
