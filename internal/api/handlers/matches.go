package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clarify-money/reconcile-backend/internal/api/dto"
)

// FindCombinations runs the combination search for a repayment and returns
// the candidate expense sets.
func (b *Base) FindCombinations(c *gin.Context) {
	pairingID, ok := b.PairingID(c)
	if !ok {
		return
	}

	var req dto.FindCombinationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.BadRequestError(err.Error()))
		return
	}

	tolerance := req.Tolerance
	if tolerance == 0 {
		tolerance = b.matching.DefaultTolerance
	}
	maxSize := req.MaxCombinationSize
	if maxSize == 0 {
		maxSize = b.matching.MaxCombinationSize
	}

	combos, err := b.service.FindMatchingCombinations(pairingID,
		req.RepaymentID, req.ProcessedDate, tolerance, maxSize)
	if err != nil {
		b.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewCombinationsResponse(combos))
}

// SaveMatch persists a manual repayment-to-expenses link.
func (b *Base) SaveMatch(c *gin.Context) {
	pairingID, ok := b.PairingID(c)
	if !ok {
		return
	}

	var req dto.SaveMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.BadRequestError(err.Error()))
		return
	}

	tolerance := req.Tolerance
	if tolerance == 0 {
		tolerance = b.matching.DefaultTolerance
	}

	result, err := b.service.SaveManualMatch(pairingID, req.RepaymentID, req.ExpenseIDs, tolerance)
	if err != nil {
		b.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
