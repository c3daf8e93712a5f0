package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/enrollment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Enroll(ctx context.Context, db *gorm.DB, req domain.EnrollRequest) (domain.EnrollResult, error) {
	var result domain.EnrollResult

	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.LearnerEnrollment{
		LearnerID:  req.LearnerID,
		CourseID:   req.CourseID,
		PurchaseID: req.PurchaseID,
		CreatedAt:  req.At,
	})
	if res.Error != nil {
		return result, res.Error
	}
	result.LearnerInserted = res.RowsAffected > 0

	res = db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.RosterEntry{
		CourseID:   req.CourseID,
		LearnerID:  req.LearnerID,
		PurchaseID: req.PurchaseID,
		CreatedAt:  req.At,
	})
	if res.Error != nil {
		return result, res.Error
	}
	result.RosterInserted = res.RowsAffected > 0
	return result, nil
}

func (r *repo) Lookup(ctx context.Context, db *gorm.DB, learnerID string, courseID snowflake.ID) (domain.Membership, error) {
	var row struct {
		LearnerCount int64
		RosterCount  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT
			(SELECT COUNT(1) FROM learner_enrollments WHERE learner_id = ? AND course_id = ?) AS learner_count,
			(SELECT COUNT(1) FROM course_rosters WHERE course_id = ? AND learner_id = ?) AS roster_count`,
		learnerID, courseID,
		courseID, learnerID,
	).Scan(&row).Error
	if err != nil {
		return domain.Membership{}, err
	}
	return domain.Membership{
		Learner: row.LearnerCount > 0,
		Roster:  row.RosterCount > 0,
	}, nil
}

func (r *repo) ListCourses(ctx context.Context, db *gorm.DB, learnerID string) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT le.course_id
		 FROM learner_enrollments le
		 JOIN course_rosters cr ON cr.course_id = le.course_id AND cr.learner_id = le.learner_id
		 WHERE le.learner_id = ?
		 ORDER BY le.created_at ASC, le.course_id ASC`,
		learnerID,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
