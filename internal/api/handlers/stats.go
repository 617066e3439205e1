package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MatchingStats returns the aggregate matched-vs-unmatched rollup.
func (b *Base) MatchingStats(c *gin.Context) {
	pairingID, ok := b.PairingID(c)
	if !ok {
		return
	}

	stats, err := b.service.GetMatchingStats(pairingID, c.QueryArray("pattern"))
	if err != nil {
		b.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// WeeklyMatchingStats returns per-week matching counts.
func (b *Base) WeeklyMatchingStats(c *gin.Context) {
	pairingID, ok := b.PairingID(c)
	if !ok {
		return
	}

	weeks, err := b.service.GetWeeklyMatchingStats(pairingID, DateRangeQuery(c))
	if err != nil {
		b.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weeks": weeks, "count": len(weeks)})
}
