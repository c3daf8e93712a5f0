package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// Purchase is a learner's intent to buy a course and its outcome. The amount
// is fixed at creation.
type Purchase struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	LearnerID        string       `json:"learner_id"`
	CourseID         snowflake.ID `json:"course_id"`
	Amount           int64        `json:"amount"`
	Currency         string       `json:"currency"`
	Status           Status       `json:"status"`
	Provider         string       `json:"provider"`
	CorrelationToken string       `json:"-"`
	CheckoutURL      string       `json:"checkout_url,omitempty"`
	FailureReason    string       `json:"failure_reason,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	FailedAt         *time.Time   `json:"failed_at,omitempty"`
	ExpiredAt        *time.Time   `json:"expired_at,omitempty"`
	LastSweptAt      *time.Time   `json:"last_swept_at,omitempty"`
}

func (Purchase) TableName() string { return "purchases" }

// TransitionRequest moves a pending purchase to a terminal status.
type TransitionRequest struct {
	ID            snowflake.ID
	To            Status
	FailureReason string
	At            time.Time
}

type StaleFilter struct {
	UpdatedBefore time.Time
	Limit         int
}

type ListFilter struct {
	LearnerID string
	Cursor    *Cursor
	Limit     int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// Repository methods take the handle to run on so callers can compose them in a transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, purchase *Purchase) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Purchase, error)
	FindByCorrelationToken(ctx context.Context, db *gorm.DB, provider, token string) (*Purchase, error)
	FindOpenByPair(ctx context.Context, db *gorm.DB, learnerID string, courseID snowflake.ID) (*Purchase, error)
	Transition(ctx context.Context, db *gorm.DB, req TransitionRequest) (bool, error)
	ListStalePending(ctx context.Context, db *gorm.DB, filter StaleFilter) ([]*Purchase, error)
	MarkSwept(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) error
	ListByLearner(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Purchase, error)
	ListCompletedWithoutRoster(ctx context.Context, db *gorm.DB, limit int) ([]*Purchase, error)
}

var (
	ErrAlreadyEnrolled     = errors.New("already_enrolled")
	ErrDuplicatePending    = errors.New("duplicate_pending")
	ErrPurchaseNotFound    = errors.New("purchase_not_found")
	ErrRateLimited         = errors.New("rate_limited")
	ErrInvalidLearner      = errors.New("invalid_learner")
	ErrInvalidCourse       = errors.New("invalid_course")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrProcessorNotDefined = errors.New("processor_not_defined")
)
