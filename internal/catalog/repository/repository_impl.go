package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/coursemart/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, course *domain.Course) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO courses (
			id, educator_id, title, slug, price, discount, currency, published, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		course.ID,
		course.EducatorID,
		course.Title,
		course.Slug,
		course.Price,
		course.Discount,
		course.Currency,
		course.Published,
		course.CreatedAt,
		course.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Course, error) {
	var item domain.Course
	err := db.WithContext(ctx).Raw(
		`SELECT id, educator_id, title, slug, price, discount, currency, published, created_at, updated_at
		 FROM courses
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdatePricing(ctx context.Context, db *gorm.DB, id snowflake.ID, price, discount decimal.Decimal, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE courses
		 SET price = ?, discount = ?, updated_at = ?
		 WHERE id = ?`,
		price,
		discount,
		updatedAt,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
