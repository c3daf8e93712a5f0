package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Course is the catalog read model the purchase flow prices against.
type Course struct {
	ID         snowflake.ID    `json:"id" gorm:"primaryKey"`
	EducatorID string          `json:"educator_id"`
	Title      string          `json:"title"`
	Slug       string          `json:"slug"`
	Price      decimal.Decimal `json:"price"`
	Discount   decimal.Decimal `json:"discount"`
	Currency   string          `json:"currency"`
	Published  bool            `json:"published"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (Course) TableName() string { return "courses" }

type CreateCourseRequest struct {
	EducatorID string
	Title      string
	Price      decimal.Decimal
	Discount   decimal.Decimal
	Currency   string
	Published  bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, course *Course) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Course, error)
	UpdatePricing(ctx context.Context, db *gorm.DB, id snowflake.ID, price, discount decimal.Decimal, updatedAt time.Time) (bool, error)
}

type Service interface {
	GetCourse(ctx context.Context, id snowflake.ID) (*Course, error)
	Create(ctx context.Context, req CreateCourseRequest) (*Course, error)
	UpdatePricing(ctx context.Context, id snowflake.ID, price, discount decimal.Decimal) error
}

var (
	ErrCourseNotFound   = errors.New("course_not_found")
	ErrInvalidPrice     = errors.New("invalid_price")
	ErrInvalidDiscount  = errors.New("invalid_discount")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidTitle     = errors.New("invalid_title")
	ErrInvalidEducator  = errors.New("invalid_educator")
	ErrCourseNotForSale = errors.New("course_not_for_sale")
)
