package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clarify-money/reconcile-backend/internal/api/dto"
)

// ListUnmatchedRepayments returns the pairing's repayments that still need
// matching. Extra name patterns may be passed as repeated pattern params.
func (b *Base) ListUnmatchedRepayments(c *gin.Context) {
	pairingID, ok := b.PairingID(c)
	if !ok {
		return
	}

	repayments, err := b.service.ListUnmatchedRepayments(pairingID, c.QueryArray("pattern"))
	if err != nil {
		b.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RepaymentsResponse{Repayments: repayments, Count: len(repayments)})
}

// ListRepaymentsForProcessedDate returns the repayments recorded on one
// billing date, with their total.
func (b *Base) ListRepaymentsForProcessedDate(c *gin.Context) {
	pairingID, ok := b.PairingID(c)
	if !ok {
		return
	}

	result, err := b.service.ListBankRepaymentsForProcessedDate(pairingID, c.Query("processed_date"))
	if err != nil {
		b.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
