package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/coursemart/internal/observability/context"
)

const (
	// HeaderUserID carries the learner id resolved by the upstream auth gateway.
	HeaderUserID     = "X-User-Id"
	contextUserIDKey = "user_id"

	actorLearner = "learner"
)

// LearnerRequired rejects requests without an authenticated learner.
func (s *Server) LearnerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		learnerID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if learnerID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, learnerID)
		ctx := obscontext.WithActor(c.Request.Context(), actorLearner, learnerID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func learnerIDFromContext(c *gin.Context) (string, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return "", false
	}
	learnerID, ok := value.(string)
	if !ok || strings.TrimSpace(learnerID) == "" {
		return "", false
	}
	return learnerID, true
}
