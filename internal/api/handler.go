package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/search-conflict-checker/internal/checker"
	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
	"github.com/kurihiro0119/search-conflict-checker/internal/storage"
)

// CheckService is the part of the checker the API serves
type CheckService interface {
	Check(ctx context.Context, keyword string, opts checker.CheckOptions) (*domain.ConflictReport, error)
	GetReport(ctx context.Context, id string) (*domain.ConflictReport, error)
	ListReports(ctx context.Context, keyword string, limit int) ([]domain.ReportSummary, error)
	URLHistory(ctx context.Context, url string, limit int) ([]domain.URLHistoryEntry, error)
}

// CheckRequest is the body of POST /api/v1/checks
type CheckRequest struct {
	Keyword              string  `json:"keyword" binding:"required"`
	Windows              []int   `json:"windows,omitempty"`
	PositionThreshold    float64 `json:"position_threshold,omitempty"`
	ImpressionsThreshold float64 `json:"impressions_threshold,omitempty"`
}

// CheckResponse wraps a report with the gating flags a caller acts on
type CheckResponse struct {
	Data            *domain.ConflictReport `json:"data"`
	Partial         bool                   `json:"partial"`
	HasConflict     bool                   `json:"has_conflict"`
	UpdateCandidate string                 `json:"update_candidate,omitempty"`
}

// Handler handles API requests
type Handler struct {
	checks CheckService
}

// NewHandler creates a new API handler
func NewHandler(checks CheckService) *Handler {
	return &Handler{
		checks: checks,
	}
}

// CreateCheck runs a conflict check for a keyword
// POST /api/v1/checks
func (h *Handler) CreateCheck(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid request body: "+err.Error()))
		return
	}

	report, err := h.checks.Check(c.Request.Context(), req.Keyword, checker.CheckOptions{
		Windows: req.Windows,
		Thresholds: domain.Thresholds{
			Position:    req.PositionThreshold,
			Impressions: req.ImpressionsThreshold,
		},
	})
	if _, partial := apperrors.AsPartialFailure(err); err != nil && !partial {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newCheckResponse(report))
}

// GetCheck returns a stored report
// GET /api/v1/checks/:id
func (h *Handler) GetCheck(c *gin.Context) {
	report, err := h.checks.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newCheckResponse(report))
}

// ListChecks returns stored report summaries
// GET /api/v1/checks?keyword=&limit=
func (h *Handler) ListChecks(c *gin.Context) {
	limit := parseIntQuery(c, "limit", storage.DefaultListLimit)

	summaries, err := h.checks.ListReports(c.Request.Context(), c.Query("keyword"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if summaries == nil {
		summaries = []domain.ReportSummary{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": summaries,
	})
}

// GetURLHistory returns the past alerts raised for a URL
// GET /api/v1/urls/history?url=&limit=
func (h *Handler) GetURLHistory(c *gin.Context) {
	limit := parseIntQuery(c, "limit", storage.DefaultListLimit)

	entries, err := h.checks.URLHistory(c.Request.Context(), c.Query("url"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.URLHistoryEntry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": entries,
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func newCheckResponse(report *domain.ConflictReport) CheckResponse {
	candidate, _ := report.UpdateCandidate()
	return CheckResponse{
		Data:            report,
		Partial:         report.Partial(),
		HasConflict:     report.HasConflict(),
		UpdateCandidate: candidate,
	}
}

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

// respondError maps an error to its HTTP status and JSON body
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeUnauthorized:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
			if appErr.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(appErr.RetryAfter.Seconds())))
			}
		case apperrors.ErrCodeBackend:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": "internal server error",
		},
	})
}
