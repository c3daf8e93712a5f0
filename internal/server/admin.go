package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	"github.com/smallbiznis/coursemart/pkg/db/pagination"
	"go.uber.org/zap"
)

// GetPurchaseAdmin returns any purchase with its transition trail.
func (s *Server) GetPurchaseAdmin(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, purchasedomain.ErrPurchaseNotFound)
		return
	}

	ctx := c.Request.Context()
	item, err := s.purchaseSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	transitions, err := s.auditSvc.List(ctx, auditdomain.ListTransitionsRequest{
		Pagination: pagination.Pagination{
			PageToken: c.Query("page_token"),
			PageSize:  pagination.MaxPageSize,
		},
		PurchaseID: item.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"purchase":          item,
			"correlation_token": item.CorrelationToken,
			"transitions":       transitions.Transitions,
		},
		"next_page_token": transitions.NextPageToken,
		"has_more":        transitions.HasMore,
	})
}

// RunSweep runs one sweeper pass synchronously.
func (s *Server) RunSweep(c *gin.Context) {
	if s.sweeper == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	report, err := s.sweeper.RunOnce(c.Request.Context())
	body := gin.H{"data": report}
	if err != nil {
		s.log.Warn("operator sweep finished with errors", zap.String("run_id", report.RunID), zap.Error(err))
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// GetConsistency counts enrollment gaps without repairing them.
func (s *Server) GetConsistency(c *gin.Context) {
	limit := s.tuning.Get().Sweeper.BatchSize
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = min(parsed, pagination.MaxPageSize)
	}

	report, err := s.enrollmentSvc.Repair(c.Request.Context(), limit, false)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       report,
		"consistent": report.MissingLearner == 0 && report.MissingRoster == 0,
	})
}
