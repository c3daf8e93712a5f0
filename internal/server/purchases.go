package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	"github.com/smallbiznis/coursemart/pkg/db/pagination"
)

type createPurchaseRequest struct {
	CourseID string `json:"course_id"`
}

func (s *Server) CreatePurchase(c *gin.Context) {
	learnerID, ok := learnerIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	courseID, err := parseID(req.CourseID)
	if err != nil {
		AbortWithError(c, newValidationError("course_id", "invalid_course", "invalid course id"))
		return
	}

	result, err := s.checkout.Initiate(c.Request.Context(), purchasedomain.CheckoutRequest{
		LearnerID: learnerID,
		CourseID:  courseID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) GetPurchase(c *gin.Context) {
	learnerID, ok := learnerIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, purchasedomain.ErrPurchaseNotFound)
		return
	}

	item, err := s.purchaseSvc.GetForLearner(c.Request.Context(), learnerID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ListPurchases(c *gin.Context) {
	learnerID, ok := learnerIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.purchaseSvc.ListForLearner(c.Request.Context(), purchasedomain.ListPurchasesRequest{
		Pagination: page,
		LearnerID:  learnerID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListEnrollments(c *gin.Context) {
	learnerID, ok := learnerIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	ids, err := s.enrollmentSvc.ListCourses(c.Request.Context(), learnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if ids == nil {
		ids = []snowflake.ID{}
	}

	c.JSON(http.StatusOK, gin.H{"course_ids": ids})
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, ErrInvalidRequest
	}
	return id, nil
}
