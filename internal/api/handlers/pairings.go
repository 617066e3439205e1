package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clarify-money/reconcile-backend/internal/api/dto"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/storage"
)

// ListPairings returns the configured account pairings. Inactive pairings are
// hidden unless include_inactive is set.
func (b *Base) ListPairings(c *gin.Context) {
	includeInactive := ParseBoolQuery(c, "include_inactive", false)

	pairings, err := b.repo.ListPairings(includeInactive)
	if err != nil {
		b.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.PairingsResponse{Pairings: pairings, Count: len(pairings)})
}

// SavePairing creates or updates an account pairing.
func (b *Base) SavePairing(c *gin.Context) {
	var req dto.SavePairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.BadRequestError(err.Error()))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	pairing := &storage.AccountPairing{
		ID:                      req.ID,
		CreditCardVendor:        req.CreditCardVendor,
		CreditCardAccountNumber: req.CreditCardAccountNumber,
		BankVendor:              req.BankVendor,
		BankAccountNumber:       req.BankAccountNumber,
		MatchPatterns:           req.MatchPatterns,
		IsActive:                active,
	}
	if err := b.repo.SavePairing(pairing); err != nil {
		b.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pairing)
}
