package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/domain"
	apperrors "github.com/kurihiro0119/devops-activity-snapshot/internal/errors"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/snapshot"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/storage"
)

// Handler handles API requests
type Handler struct {
	snapshots *snapshot.Store
	ledger    storage.Storage
	logger    *slog.Logger
}

// NewHandler creates a new API handler. ledger may be nil when the run ledger is disabled.
func NewHandler(snapshots *snapshot.Store, ledger storage.Storage, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		snapshots: snapshots,
		ledger:    ledger,
		logger:    logger,
	}
}

// GetData returns the project activity records of the last successful run
// GET /api/data
func (h *Handler) GetData(c *gin.Context) {
	records, err := h.snapshots.ReadActivities()
	if err != nil {
		if !apperrors.IsNotFound(err) {
			h.logger.Warn("failed to read data artifact", "error", err)
		}
		records = []*domain.ProjectActivity{}
	}

	c.JSON(http.StatusOK, records)
}

// GetStatus returns the outcome of the last run
// GET /api/status
func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.snapshots.ReadStatus()
	if err != nil {
		if !apperrors.IsNotFound(err) {
			h.logger.Warn("failed to read status artifact", "error", err)
		}
		status = &domain.RunStatus{Error: true, Message: snapshot.NoDataMessage}
	}

	c.JSON(http.StatusOK, status)
}

// GetRuns returns the most recent runs from the ledger
// GET /api/runs
func (h *Handler) GetRuns(c *gin.Context) {
	if h.ledger == nil {
		respondError(c, apperrors.NewNotFoundError("run ledger"))
		return
	}

	limit := parseIntQuery(c, "limit", storage.DefaultRunLimit)
	runs, err := h.ledger.GetRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// GetRunProjects returns the records a completed run produced
// GET /api/runs/:id/projects
func (h *Handler) GetRunProjects(c *gin.Context) {
	if h.ledger == nil {
		respondError(c, apperrors.NewNotFoundError("run ledger"))
		return
	}

	records, err := h.ledger.GetProjectActivities(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": records,
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// parseIntQuery parses an integer query parameter
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	if code := apperrors.CodeOf(err); code != "" {
		status := http.StatusInternalServerError
		switch code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeUnauthorized:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeUnavailable:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    code,
				"message": apperrors.Message(err),
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}
