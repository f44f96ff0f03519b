package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/metrics"
)

// SetupRoutes sets up the API routes. collector may be nil to disable /metrics.
func SetupRoutes(handler *Handler, collector *metrics.HTTPCollector, logger *slog.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(logger))
	if collector != nil {
		router.Use(collector.Middleware())
		router.GET("/metrics", gin.WrapH(collector.Handler()))
	}

	// Health check
	router.GET("/health", handler.HealthCheck)

	dashboard := router.Group("/api")
	{
		// Snapshot artifacts
		dashboard.GET("/data", handler.GetData)
		dashboard.GET("/status", handler.GetStatus)

		// Run ledger
		runs := dashboard.Group("/runs")
		{
			runs.GET("", handler.GetRuns)
			runs.GET("/:id/projects", handler.GetRunProjects)
		}
	}

	return router
}
