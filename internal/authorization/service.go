package authorization

import (
	"context"
	"errors"
)

type Service interface {
	// Authorize checks whether actor ("system" or "user:<id>") may perform
	// action on object.
	Authorize(ctx context.Context, actor string, object string, action string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

// UserActor formats a learner id as an authorization subject.
func UserActor(learnerID string) string {
	return "user:" + learnerID
}
