package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clarify-money/reconcile-backend/internal/api/dto"
)

// Health responds to liveness probes.
func (b *Base) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewHealthResponse())
}
