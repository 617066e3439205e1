// Package handlers contains the gin request handlers for the reconciliation
// API. Each handler translates between the wire format and the application
// services; no matching logic lives here.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clarify-money/reconcile-backend/internal/api/dto"
	"github.com/clarify-money/reconcile-backend/internal/application/reconcile"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/config"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/storage"
)

// Base provides shared functionality for all handlers.
type Base struct {
	service  *reconcile.Service
	repo     storage.Repository
	matching config.MatchingConfig
	logger   *slog.Logger
}

// NewBase creates a base handler.
func NewBase(service *reconcile.Service, repo storage.Repository, matching config.MatchingConfig, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{service: service, repo: repo, matching: matching, logger: logger}
}

// PairingID parses the :id path parameter.
func (b *Base) PairingID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, dto.BadRequestError("invalid pairing id"))
		return 0, false
	}
	return id, true
}

// RespondError maps a service error to an HTTP status and error body.
func (b *Base) RespondError(c *gin.Context, err error) {
	var (
		validation *reconcile.ValidationError
		notFound   *reconcile.NotFoundError
		tolerance  *reconcile.ToleranceError
		conflict   *reconcile.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, dto.ValidationError(validation.Error()))
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, dto.NotFoundError(notFound.Error()))
	case errors.As(err, &tolerance):
		c.JSON(http.StatusUnprocessableEntity, dto.ToleranceError(tolerance.Error()))
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, dto.ConflictError(conflict.Error()))
	default:
		b.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, dto.InternalError())
	}
}

// ParseBoolQuery parses a boolean query parameter with a default.
func ParseBoolQuery(c *gin.Context, name string, defaultVal bool) bool {
	val := c.Query(name)
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "1"
}

// DateRangeQuery builds an optional date range from start/end query params.
func DateRangeQuery(c *gin.Context) *storage.DateRange {
	start := c.Query("start")
	end := c.Query("end")
	if start == "" && end == "" {
		return nil
	}
	return &storage.DateRange{Start: start, End: end}
}
