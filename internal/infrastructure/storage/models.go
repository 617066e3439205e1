package storage

import "time"

// Transaction is a single ledger entry as ingested from a vendor scraper.
// Records are read-only to this backend; only match links are ever written.
type Transaction struct {
	Identifier    string  `json:"identifier"`
	Vendor        string  `json:"vendor"`
	Date          string  `json:"date"` // ISO-8601 calendar date (YYYY-MM-DD)
	Name          string  `json:"name"`
	Price         float64 `json:"price"` // negative = outflow
	AccountNumber string  `json:"account_number,omitempty"`
	CategoryID    int64   `json:"category_id,omitempty"`
	CategoryName  string  `json:"category_name,omitempty"`
	ProcessedDate string  `json:"processed_date,omitempty"` // statement date, credit cards only
	Status        string  `json:"status"`
	IsMatched     bool    `json:"is_matched"`
}

// AccountPairing links a credit-card vendor/account to the bank
// vendor/account that pays its bill.
type AccountPairing struct {
	ID                      int64    `json:"id"`
	CreditCardVendor        string   `json:"credit_card_vendor"`
	CreditCardAccountNumber string   `json:"credit_card_account_number,omitempty"`
	BankVendor              string   `json:"bank_vendor"`
	BankAccountNumber       string   `json:"bank_account_number,omitempty"`
	MatchPatterns           []string `json:"match_patterns"`
	IsActive                bool     `json:"is_active"`
	CreatedAt               string   `json:"created_at,omitempty"`
}

// Repayment is a bank transaction paying off a credit-card bill, annotated
// with how much of it is already covered by existing match links.
type Repayment struct {
	Transaction
	MatchedAmount   float64 `json:"matched_amount"`
	RemainingAmount float64 `json:"remaining_amount"`
}

// ExpenseMatch is one persisted link between a repayment and a single
// expense. A saved match produces one row per expense, all sharing the same
// match group id, difference and note. Rows are append-only.
type ExpenseMatch struct {
	ID                  int64   `json:"id"`
	MatchGroupID        string  `json:"match_group_id"`
	RepaymentIdentifier string  `json:"repayment_txn_id"`
	RepaymentVendor     string  `json:"repayment_vendor"`
	ExpenseIdentifier   string  `json:"expense_txn_id"`
	ExpenseVendor       string  `json:"expense_vendor"`
	Difference          float64 `json:"difference"`
	Note                string  `json:"note"`
	CreatedAt           string  `json:"created_at,omitempty"`
}

// ProcessedDateSummary describes one billing cycle for a pairing.
type ProcessedDateSummary struct {
	ProcessedDate string  `json:"processed_date"`
	ExpenseCount  int     `json:"expense_count"`
	TotalAmount   float64 `json:"total_amount"`
	EarliestDate  string  `json:"earliest_expense_date"`
	LatestDate    string  `json:"latest_expense_date"`
}

// WeekStats holds matched/unmatched counts for one calendar week.
type WeekStats struct {
	WeekStart           string `json:"week_start"` // Monday, YYYY-MM-DD
	TotalRepayments     int    `json:"total_repayments"`
	MatchedRepayments   int    `json:"matched_repayments"`
	UnmatchedRepayments int    `json:"unmatched_repayments"`
	TotalExpenses       int    `json:"total_expenses"`
	MatchedExpenses     int    `json:"matched_expenses"`
	UnmatchedExpenses   int    `json:"unmatched_expenses"`
}

// ExpenseWindow selects candidate expenses for a repayment.
// When ProcessedDate is set the window is the billing cycle bearing that
// statement date; otherwise it is the inclusive [Start, End] date range.
type ExpenseWindow struct {
	ProcessedDate  string
	Start          string
	End            string
	IncludeMatched bool
}

// DateRange is an inclusive ISO-date interval.
type DateRange struct {
	Start string
	End   string
}

// ISODate formats a time as the ISO calendar date used throughout the store.
func ISODate(t time.Time) string {
	return t.Format("2006-01-02")
}
