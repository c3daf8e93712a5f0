package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/coursemart/internal/catalog/domain"
	"github.com/smallbiznis/coursemart/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) GetCourse(ctx context.Context, id snowflake.ID) (*domain.Course, error) {
	if id == 0 {
		return nil, domain.ErrCourseNotFound
	}
	course, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, domain.ErrCourseNotFound
	}
	return course, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateCourseRequest) (*domain.Course, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.ErrInvalidTitle
	}
	educatorID := strings.TrimSpace(req.EducatorID)
	if educatorID == "" {
		return nil, domain.ErrInvalidEducator
	}
	if _, err := domain.ComputeCharge(req.Price, req.Discount, req.Currency); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	course := &domain.Course{
		ID:         s.genID.Generate(),
		EducatorID: educatorID,
		Title:      title,
		Slug:       slug.Make(title),
		Price:      req.Price.Round(2),
		Discount:   req.Discount.Round(2),
		Currency:   strings.ToLower(strings.TrimSpace(req.Currency)),
		Published:  req.Published,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, course); err != nil {
		return nil, err
	}
	s.log.Info("course created", zap.String("course_id", course.ID.String()))
	return course, nil
}

// UpdatePricing changes list pricing. Purchases already created keep their stored amount.
func (s *Service) UpdatePricing(ctx context.Context, id snowflake.ID, price, discount decimal.Decimal) error {
	course, err := s.GetCourse(ctx, id)
	if err != nil {
		return err
	}
	if _, err := domain.ComputeCharge(price, discount, course.Currency); err != nil {
		return err
	}
	updated, err := s.repo.UpdatePricing(ctx, s.db, id, price.Round(2), discount.Round(2), s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrCourseNotFound
	}
	return nil
}
