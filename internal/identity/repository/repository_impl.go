package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/coursemart/internal/identity/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Upsert inserts the learner or overwrites the profile of an existing row,
// reviving it if it was soft-deleted.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, learner *domain.Learner) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "image_url", "role", "updated_at", "deleted_at"}),
	}).Create(learner).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, learner *domain.Learner) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE learners
		 SET email = ?, name = ?, image_url = ?, role = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		learner.Email,
		learner.Name,
		learner.ImageURL,
		string(learner.Role),
		learner.UpdatedAt,
		learner.ID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE learners
		 SET deleted_at = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		at,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Learner, error) {
	var item domain.Learner
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, name, image_url, role, created_at, updated_at, deleted_at
		 FROM learners
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}
