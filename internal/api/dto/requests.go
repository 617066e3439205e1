package dto

// FindCombinationsRequest asks the engine for expense combinations covering
// one repayment.
type FindCombinationsRequest struct {
	RepaymentID        string  `json:"repayment_id" binding:"required"`
	ProcessedDate      string  `json:"processed_date,omitempty"`
	Tolerance          float64 `json:"tolerance,omitempty"`
	MaxCombinationSize int     `json:"max_combination_size,omitempty"`
}

// SaveMatchRequest persists a manual repayment-to-expenses link.
type SaveMatchRequest struct {
	RepaymentID string   `json:"repayment_id" binding:"required"`
	ExpenseIDs  []string `json:"expense_ids" binding:"required"`
	Tolerance   float64  `json:"tolerance,omitempty"`
}

// SavePairingRequest creates or updates an account pairing.
type SavePairingRequest struct {
	ID                      int64    `json:"id,omitempty"`
	CreditCardVendor        string   `json:"credit_card_vendor" binding:"required"`
	CreditCardAccountNumber string   `json:"credit_card_account_number,omitempty"`
	BankVendor              string   `json:"bank_vendor" binding:"required"`
	BankAccountNumber       string   `json:"bank_account_number,omitempty"`
	MatchPatterns           []string `json:"match_patterns,omitempty"`
	IsActive                *bool    `json:"is_active,omitempty"`
}
