package server

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/coursemart/internal/authorization"
)

// authorizeAction gates operator routes on the caller's role.
func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		learnerID, ok := learnerIDFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), authorization.UserActor(learnerID), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
