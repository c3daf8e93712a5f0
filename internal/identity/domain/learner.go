package domain

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RoleLearner  Role = "learner"
	RoleEducator Role = "educator"
	RoleAdmin    Role = "admin"
)

// ParseRole maps an identity provider role claim onto a known role.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleEducator:
		return RoleEducator
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleLearner
	}
}

// Learner mirrors a user account owned by the identity provider.
type Learner struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	ImageURL  string     `json:"image_url"`
	Role      Role       `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (Learner) TableName() string { return "learners" }

func (l *Learner) Active() bool { return l != nil && l.DeletedAt == nil }

const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// EventResult reports what an identity webhook did.
type EventResult struct {
	MessageID string `json:"message_id"`
	Type      string `json:"type"`
	LearnerID string `json:"learner_id,omitempty"`
	Applied   bool   `json:"applied"`
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, learner *Learner) error
	Update(ctx context.Context, db *gorm.DB, learner *Learner) (bool, error)
	SoftDelete(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error)
	// FindByID returns soft-deleted rows too.
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Learner, error)
}

type Service interface {
	HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (EventResult, error)
	GetLearner(ctx context.Context, id string) (*Learner, error)
	// RoleOf resolves the role of an active learner.
	RoleOf(ctx context.Context, id string) (Role, error)
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrStaleTimestamp   = errors.New("stale_timestamp")
	ErrMalformedPayload = errors.New("malformed_payload")
	ErrLearnerNotFound  = errors.New("learner_not_found")
)
