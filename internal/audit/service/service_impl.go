package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	"github.com/smallbiznis/coursemart/internal/audit/masking"
	"github.com/smallbiznis/coursemart/internal/clock"
	obscontext "github.com/smallbiznis/coursemart/internal/observability/context"
	"github.com/smallbiznis/coursemart/pkg/db/pagination"
	"github.com/smallbiznis/coursemart/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, req auditdomain.RecordRequest) error {
	if req.PurchaseID == 0 {
		return auditdomain.ErrInvalidPurchase
	}
	switch req.Source {
	case auditdomain.SourceWebhook, auditdomain.SourceSweeper, auditdomain.SourceRepair:
	default:
		return auditdomain.ErrInvalidSource
	}
	if tx == nil {
		tx = s.db
	}

	payload := map[string]any{}
	for key, value := range req.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	if correlationID := correlation.ExtractCorrelationID(ctx); correlationID != "" {
		payload["correlation_id"] = correlationID
	}
	if actorType, actorID := obscontext.ActorFromContext(ctx); actorType != "" {
		payload["actor_type"] = actorType
		if actorID != "" {
			payload["actor_id"] = actorID
		}
	}

	entry := auditdomain.Transition{
		ID:         s.genID.Generate(),
		PurchaseID: req.PurchaseID,
		FromStatus: strings.TrimSpace(req.FromStatus),
		ToStatus:   strings.TrimSpace(req.ToStatus),
		Source:     req.Source,
		EventID:    strings.TrimSpace(req.EventID),
		Metadata:   datatypes.JSONMap(masking.MaskKeys(payload, "correlation_token", "checkout_url")),
		CreatedAt:  s.clock.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, tx, &entry); err != nil {
		s.log.Warn("failed to write purchase transition",
			zap.String("purchase_id", req.PurchaseID.String()),
			zap.String("to_status", entry.ToStatus),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListTransitionsRequest) (auditdomain.ListTransitionsResponse, error) {
	if req.PurchaseID == 0 {
		return auditdomain.ListTransitionsResponse{}, auditdomain.ErrInvalidPurchase
	}

	var cursor *auditdomain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListTransitionsResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListTransitionsResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListTransitionsResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := pagination.ClampPageSize(req.PageSize, 50)

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		PurchaseID: req.PurchaseID,
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return auditdomain.ListTransitionsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *auditdomain.Transition) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	transitions := make([]auditdomain.Transition, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		transitions = append(transitions, *item)
	}

	resp := auditdomain.ListTransitionsResponse{Transitions: transitions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
