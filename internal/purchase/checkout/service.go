// Package checkout starts purchases: it prices the course, opens a hosted
// checkout session and records the pending purchase.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	enrollmentdomain "github.com/smallbiznis/coursemart/internal/enrollment/domain"
	"github.com/smallbiznis/coursemart/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	"github.com/smallbiznis/coursemart/internal/purchase/domain"
	"github.com/smallbiznis/coursemart/internal/ratelimit"
	pkgdb "github.com/smallbiznis/coursemart/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Config        config.Config
	Tuning        *config.TuningHolder
	Clock         clock.Clock
	GenID         *snowflake.Node
	Repo          domain.Repository
	CatalogSvc    catalogdomain.Service
	EnrollmentSvc enrollmentdomain.Service
	Processor     paymentdomain.Processor
	Limiter       *ratelimit.CheckoutLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	origin        string
	tuning        *config.TuningHolder
	clock         clock.Clock
	genID         *snowflake.Node
	repo          domain.Repository
	catalogSvc    catalogdomain.Service
	enrollmentSvc enrollmentdomain.Service
	processor     paymentdomain.Processor
	limiter       *ratelimit.CheckoutLimiter
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Initiator {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("purchase.checkout"),
		origin:        strings.TrimRight(p.Config.PublicOrigin, "/"),
		tuning:        p.Tuning,
		clock:         p.Clock,
		genID:         p.GenID,
		repo:          p.Repo,
		catalogSvc:    p.CatalogSvc,
		enrollmentSvc: p.EnrollmentSvc,
		processor:     p.Processor,
		limiter:       p.Limiter,
		obsMetrics:    p.ObsMetrics,
	}
}

func (s *Service) Initiate(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	result, err := s.initiate(ctx, req)
	s.obsMetrics.RecordCheckout(ctx, checkoutResult(err))
	return result, err
}

func (s *Service) initiate(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	learnerID := strings.TrimSpace(req.LearnerID)
	if learnerID == "" {
		return domain.CheckoutResult{}, domain.ErrInvalidLearner
	}
	if req.CourseID == 0 {
		return domain.CheckoutResult{}, domain.ErrInvalidCourse
	}
	if s.processor == nil {
		return domain.CheckoutResult{}, domain.ErrProcessorNotDefined
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("learner_id", learnerID),
		zap.String("course_id", req.CourseID.String()),
	)

	if s.limiter.Enabled() {
		decision, err := s.limiter.Allow(ctx, learnerID)
		switch {
		case err != nil:
			log.Warn("checkout rate limiter unavailable", zap.Error(err))
		case !decision.Allowed:
			return domain.CheckoutResult{}, domain.ErrRateLimited
		}
	}

	membership, err := s.enrollmentSvc.Lookup(ctx, learnerID, req.CourseID)
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	if membership.Any() {
		return domain.CheckoutResult{}, domain.ErrAlreadyEnrolled
	}

	open, err := s.repo.FindOpenByPair(ctx, s.db, learnerID, req.CourseID)
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	if open != nil {
		if open.Status == domain.StatusCompleted {
			// Completed but the roster has not caught up yet.
			return domain.CheckoutResult{}, domain.ErrAlreadyEnrolled
		}
		return domain.CheckoutResult{}, domain.ErrDuplicatePending
	}

	course, err := s.catalogSvc.GetCourse(ctx, req.CourseID)
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	if !course.Published {
		return domain.CheckoutResult{}, catalogdomain.ErrCourseNotForSale
	}
	charge, err := course.Charge()
	if err != nil {
		return domain.CheckoutResult{}, err
	}

	now := s.clock.Now().UTC()
	purchaseID := s.genID.Generate()
	session, err := s.processor.CreateCheckoutSession(ctx, paymentdomain.CheckoutSessionRequest{
		IdempotencyKey: purchaseID.String(),
		Amount:         charge.Minor,
		Currency:       charge.Currency,
		ProductName:    course.Title,
		SuccessURL:     s.returnURL(purchaseID, "success"),
		CancelURL:      s.returnURL(purchaseID, "cancel"),
		ClientRefID:    learnerID,
		Metadata: map[string]string{
			paymentdomain.MetadataPurchaseID: purchaseID.String(),
			"course_id":                      course.ID.String(),
			"learner_id":                     learnerID,
		},
		ExpiresAt: now.Add(s.tuning.Get().Checkout.SessionTTL),
	})
	if err != nil {
		log.Warn("checkout session creation failed", zap.Error(err))
		return domain.CheckoutResult{}, err
	}

	purchase := &domain.Purchase{
		ID:               purchaseID,
		LearnerID:        learnerID,
		CourseID:         course.ID,
		Amount:           charge.Minor,
		Currency:         charge.Currency,
		Status:           domain.StatusPending,
		Provider:         strings.ToLower(s.processor.Name()),
		CorrelationToken: session.CorrelationToken,
		CheckoutURL:      session.URL,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Insert(ctx, s.db, purchase); err != nil {
		s.abandonSession(ctx, log, session.CorrelationToken)
		if pkgdb.IsDuplicateKeyErr(err) {
			return domain.CheckoutResult{}, domain.ErrDuplicatePending
		}
		return domain.CheckoutResult{}, err
	}

	log.Info("purchase initiated",
		zap.String("purchase_id", purchaseID.String()),
		zap.Int64("amount", charge.Minor),
		zap.String("currency", charge.Currency),
	)
	return domain.CheckoutResult{
		PurchaseID:  purchaseID,
		CheckoutURL: session.URL,
		Amount:      charge.Minor,
		Currency:    charge.Currency,
	}, nil
}

// abandonSession expires a session whose purchase row could not be written,
// so the learner cannot pay for a purchase the ledger never saw.
func (s *Service) abandonSession(ctx context.Context, log *zap.Logger, token string) {
	if err := s.processor.ExpireSession(context.WithoutCancel(ctx), token); err != nil {
		log.Warn("failed to expire orphaned checkout session", zap.Error(err))
	}
}

func (s *Service) returnURL(purchaseID snowflake.ID, status string) string {
	return fmt.Sprintf("%s/purchases/%s?status=%s", s.origin, purchaseID.String(), url.QueryEscape(status))
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, domain.ErrAlreadyEnrolled):
		return "already_enrolled"
	case errors.Is(err, domain.ErrDuplicatePending):
		return "duplicate_pending"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, catalogdomain.ErrCourseNotFound), errors.Is(err, catalogdomain.ErrCourseNotForSale):
		return "course_unavailable"
	case errors.Is(err, paymentdomain.ErrTransientUpstream):
		return "upstream_unavailable"
	case errors.Is(err, paymentdomain.ErrAuthenticationFailure), errors.Is(err, paymentdomain.ErrValidationFailure):
		return "upstream_rejected"
	default:
		return "error"
	}
}
