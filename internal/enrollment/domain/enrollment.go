package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// LearnerEnrollment is the learner-side half of the enrollment relation.
type LearnerEnrollment struct {
	LearnerID  string       `gorm:"primaryKey"`
	CourseID   snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	PurchaseID snowflake.ID
	CreatedAt  time.Time
}

func (LearnerEnrollment) TableName() string { return "learner_enrollments" }

// RosterEntry is the course-side half of the enrollment relation.
type RosterEntry struct {
	CourseID   snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	LearnerID  string       `gorm:"primaryKey"`
	PurchaseID snowflake.ID
	CreatedAt  time.Time
}

func (RosterEntry) TableName() string { return "course_rosters" }

type EnrollRequest struct {
	LearnerID  string
	CourseID   snowflake.ID
	PurchaseID snowflake.ID
	At         time.Time
}

// EnrollResult reports which halves were newly written.
type EnrollResult struct {
	LearnerInserted bool
	RosterInserted  bool
}

// Membership is what each half of the relation says about a pair.
type Membership struct {
	Learner bool
	Roster  bool
}

// Enrolled is true only when both halves agree.
func (m Membership) Enrolled() bool { return m.Learner && m.Roster }

// Any is true when either half has the pair.
func (m Membership) Any() bool { return m.Learner || m.Roster }

type Repository interface {
	Enroll(ctx context.Context, db *gorm.DB, req EnrollRequest) (EnrollResult, error)
	Lookup(ctx context.Context, db *gorm.DB, learnerID string, courseID snowflake.ID) (Membership, error)
	ListCourses(ctx context.Context, db *gorm.DB, learnerID string) ([]snowflake.ID, error)
}

type RepairReport struct {
	Scanned         int  `json:"scanned"`
	MissingLearner  int  `json:"missing_learner_rows"`
	MissingRoster   int  `json:"missing_roster_rows"`
	RepairedLearner int  `json:"repaired_learner_rows"`
	RepairedRoster  int  `json:"repaired_roster_rows"`
	Fixed           bool `json:"fixed"`
}

type Service interface {
	Lookup(ctx context.Context, learnerID string, courseID snowflake.ID) (Membership, error)
	ListCourses(ctx context.Context, learnerID string) ([]snowflake.ID, error)
	// Enroll writes both halves on tx; repeated calls are no-ops.
	Enroll(ctx context.Context, tx *gorm.DB, req EnrollRequest) (EnrollResult, error)
	// Repair scans completed purchases for missing halves and, when fix is
	// set, writes them.
	Repair(ctx context.Context, limit int, fix bool) (RepairReport, error)
}

var (
	ErrInvalidLearner = errors.New("invalid_learner")
	ErrInvalidCourse  = errors.New("invalid_course")
)
