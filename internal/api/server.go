// Package api assembles the HTTP surface of the reconciliation backend.
package api

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/clarify-money/reconcile-backend/internal/api/handlers"
	"github.com/clarify-money/reconcile-backend/internal/application/reconcile"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/config"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/storage"
)

// NewRouter builds the gin engine with all routes and middleware wired.
func NewRouter(cfg *config.Config, repo storage.Repository, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/api/health"},
	}))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	service := reconcile.NewService(repo, logger)
	base := handlers.NewBase(service, repo, cfg.Matching, logger)

	api := router.Group("/api")
	{
		api.GET("/health", base.Health)

		api.GET("/pairings", base.ListPairings)
		api.POST("/pairings", base.SavePairing)

		pairing := api.Group("/pairings/:id")
		{
			pairing.GET("/repayments/unmatched", base.ListUnmatchedRepayments)
			pairing.GET("/repayments", base.ListRepaymentsForProcessedDate)
			pairing.GET("/processed-dates", base.ListProcessedDates)
			pairing.GET("/expenses", base.ListAvailableExpenses)
			pairing.POST("/combinations", base.FindCombinations)
			pairing.POST("/matches", base.SaveMatch)
			pairing.GET("/stats", base.MatchingStats)
			pairing.GET("/stats/weekly", base.WeeklyMatchingStats)
		}
	}

	return router
}
