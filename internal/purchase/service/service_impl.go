package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/purchase/domain"
	"github.com/smallbiznis/coursemart/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("purchase.service"),
		repo: p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Purchase, error) {
	if id == 0 {
		return nil, domain.ErrPurchaseNotFound
	}
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrPurchaseNotFound
	}
	return item, nil
}

// GetForLearner hides purchases of other learners behind not found.
func (s *Service) GetForLearner(ctx context.Context, learnerID string, id snowflake.ID) (*domain.Purchase, error) {
	learnerID = strings.TrimSpace(learnerID)
	if learnerID == "" {
		return nil, domain.ErrInvalidLearner
	}
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.LearnerID != learnerID {
		return nil, domain.ErrPurchaseNotFound
	}
	return item, nil
}

func (s *Service) ListForLearner(ctx context.Context, req domain.ListPurchasesRequest) (domain.ListPurchasesResponse, error) {
	learnerID := strings.TrimSpace(req.LearnerID)
	if learnerID == "" {
		return domain.ListPurchasesResponse{}, domain.ErrInvalidLearner
	}

	var cursor *domain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListPurchasesResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListPurchasesResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListPurchasesResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := pagination.ClampPageSize(req.PageSize, 20)
	items, err := s.repo.ListByLearner(ctx, s.db, domain.ListFilter{
		LearnerID: learnerID,
		Cursor:    cursor,
		Limit:     pageSize,
	})
	if err != nil {
		return domain.ListPurchasesResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *domain.Purchase) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	purchases := make([]domain.Purchase, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		purchases = append(purchases, *item)
	}

	resp := domain.ListPurchasesResponse{Purchases: purchases}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
