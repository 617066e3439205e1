package dto

import (
	"github.com/clarify-money/reconcile-backend/internal/domain/matching"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/storage"
)

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status string `json:"status"`
}

// NewHealthResponse creates a healthy response.
func NewHealthResponse() HealthResponse {
	return HealthResponse{Status: "healthy"}
}

// CombinationResponse is one candidate expense combination.
type CombinationResponse struct {
	Expenses    []ExpenseResponse `json:"expenses"`
	TotalAmount float64           `json:"total_amount"`
	Difference  float64           `json:"difference"`
	Count       int               `json:"count"`
}

// ExpenseResponse is one expense within a combination.
type ExpenseResponse struct {
	Identifier string  `json:"identifier"`
	Vendor     string  `json:"vendor"`
	Date       string  `json:"date"`
	Name       string  `json:"name"`
	Amount     float64 `json:"amount"`
}

// CombinationsResponse wraps a combination search result.
type CombinationsResponse struct {
	Combinations []CombinationResponse `json:"combinations"`
	Count        int                   `json:"count"`
}

// NewCombinationsResponse converts engine combinations to the wire format.
func NewCombinationsResponse(combos []matching.Combination) CombinationsResponse {
	out := make([]CombinationResponse, 0, len(combos))
	for _, c := range combos {
		expenses := make([]ExpenseResponse, 0, len(c.Expenses))
		for _, e := range c.Expenses {
			amount, _ := e.Amount.Float64()
			expenses = append(expenses, ExpenseResponse{
				Identifier: e.Identifier,
				Vendor:     e.Vendor,
				Date:       e.Date,
				Name:       e.Name,
				Amount:     amount,
			})
		}
		total, _ := c.TotalAmount.Float64()
		diff, _ := c.Difference.Float64()
		out = append(out, CombinationResponse{
			Expenses:    expenses,
			TotalAmount: total,
			Difference:  diff,
			Count:       c.Count,
		})
	}
	return CombinationsResponse{Combinations: out, Count: len(out)}
}

// RepaymentsResponse lists repayments.
type RepaymentsResponse struct {
	Repayments []storage.Repayment `json:"repayments"`
	Count      int                 `json:"count"`
}

// ExpensesResponse lists candidate expenses.
type ExpensesResponse struct {
	Expenses []storage.Transaction `json:"expenses"`
	Count    int                   `json:"count"`
}

// ProcessedDatesResponse lists a pairing's billing cycles.
type ProcessedDatesResponse struct {
	ProcessedDates []storage.ProcessedDateSummary `json:"processed_dates"`
	Count          int                            `json:"count"`
}

// PairingsResponse lists account pairings.
type PairingsResponse struct {
	Pairings []storage.AccountPairing `json:"pairings"`
	Count    int                      `json:"count"`
}
