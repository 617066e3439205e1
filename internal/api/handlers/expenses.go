package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clarify-money/reconcile-backend/internal/api/dto"
)

// ListAvailableExpenses returns candidate expenses for a repayment. With a
// processed_date the billing cycle is used; otherwise the trailing window
// ending at repayment_date.
func (b *Base) ListAvailableExpenses(c *gin.Context) {
	pairingID, ok := b.PairingID(c)
	if !ok {
		return
	}

	expenses, err := b.service.ListAvailableExpenses(pairingID,
		c.Query("repayment_date"),
		c.Query("processed_date"),
		ParseBoolQuery(c, "include_matched", false))
	if err != nil {
		b.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ExpensesResponse{Expenses: expenses, Count: len(expenses)})
}

// ListProcessedDates returns the pairing's billing cycles with per-cycle
// expense totals.
func (b *Base) ListProcessedDates(c *gin.Context) {
	pairingID, ok := b.PairingID(c)
	if !ok {
		return
	}

	dates, err := b.service.ListProcessedDates(pairingID, DateRangeQuery(c))
	if err != nil {
		b.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ProcessedDatesResponse{ProcessedDates: dates, Count: len(dates)})
}
