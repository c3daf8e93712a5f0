package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/enrollment/domain"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultRepairLimit = 100

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Repo         domain.Repository
	PurchaseRepo purchasedomain.Repository
	AuditSvc     auditdomain.Service
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	repo         domain.Repository
	purchaseRepo purchasedomain.Repository
	auditSvc     auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("enrollment.service"),
		clock:        p.Clock,
		repo:         p.Repo,
		purchaseRepo: p.PurchaseRepo,
		auditSvc:     p.AuditSvc,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) Lookup(ctx context.Context, learnerID string, courseID snowflake.ID) (domain.Membership, error) {
	learnerID = strings.TrimSpace(learnerID)
	if learnerID == "" {
		return domain.Membership{}, domain.ErrInvalidLearner
	}
	if courseID == 0 {
		return domain.Membership{}, domain.ErrInvalidCourse
	}
	return s.repo.Lookup(ctx, s.db, learnerID, courseID)
}

func (s *Service) ListCourses(ctx context.Context, learnerID string) ([]snowflake.ID, error) {
	learnerID = strings.TrimSpace(learnerID)
	if learnerID == "" {
		return nil, domain.ErrInvalidLearner
	}
	ids, err := s.repo.ListCourses(ctx, s.db, learnerID)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []snowflake.ID{}
	}
	return ids, nil
}

func (s *Service) Enroll(ctx context.Context, tx *gorm.DB, req domain.EnrollRequest) (domain.EnrollResult, error) {
	req.LearnerID = strings.TrimSpace(req.LearnerID)
	if req.LearnerID == "" {
		return domain.EnrollResult{}, domain.ErrInvalidLearner
	}
	if req.CourseID == 0 {
		return domain.EnrollResult{}, domain.ErrInvalidCourse
	}
	if tx == nil {
		tx = s.db
	}
	if req.At.IsZero() {
		req.At = s.clock.Now().UTC()
	}
	return s.repo.Enroll(ctx, tx, req)
}

func (s *Service) Repair(ctx context.Context, limit int, fix bool) (domain.RepairReport, error) {
	if limit <= 0 {
		limit = defaultRepairLimit
	}
	report := domain.RepairReport{Fixed: fix}

	gaps, err := s.purchaseRepo.ListCompletedWithoutRoster(ctx, s.db, limit)
	if err != nil {
		return report, err
	}
	report.Scanned = len(gaps)

	for _, purchase := range gaps {
		membership, err := s.repo.Lookup(ctx, s.db, purchase.LearnerID, purchase.CourseID)
		if err != nil {
			return report, err
		}
		if !membership.Learner {
			report.MissingLearner++
		}
		if !membership.Roster {
			report.MissingRoster++
		}
		if !fix {
			continue
		}

		var result domain.EnrollResult
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			result, txErr = s.repo.Enroll(ctx, tx, domain.EnrollRequest{
				LearnerID:  purchase.LearnerID,
				CourseID:   purchase.CourseID,
				PurchaseID: purchase.ID,
				At:         s.clock.Now().UTC(),
			})
			if txErr != nil {
				return txErr
			}
			return s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
				PurchaseID: purchase.ID,
				FromStatus: string(purchase.Status),
				ToStatus:   string(purchase.Status),
				Source:     auditdomain.SourceRepair,
				Metadata: map[string]any{
					"learner_row_inserted": result.LearnerInserted,
					"roster_row_inserted":  result.RosterInserted,
				},
			})
		})
		if err != nil {
			s.log.Error("roster repair failed",
				zap.String("purchase_id", purchase.ID.String()),
				zap.Error(err),
			)
			return report, err
		}
		if result.LearnerInserted {
			report.RepairedLearner++
		}
		if result.RosterInserted {
			report.RepairedRoster++
		}
	}

	if fix {
		s.obsMetrics.RecordRosterRepair(ctx, "learner", report.RepairedLearner)
		s.obsMetrics.RecordRosterRepair(ctx, "roster", report.RepairedRoster)
	}
	if report.MissingLearner > 0 || report.MissingRoster > 0 {
		s.log.Warn("enrollment mismatch detected",
			zap.Int("missing_learner_rows", report.MissingLearner),
			zap.Int("missing_roster_rows", report.MissingRoster),
			zap.Bool("fixed", fix),
		)
	}
	return report, nil
}
