// Package reconcile applies verified processor outcomes to the purchase ledger.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	"github.com/smallbiznis/coursemart/internal/clock"
	enrollmentdomain "github.com/smallbiznis/coursemart/internal/enrollment/domain"
	"github.com/smallbiznis/coursemart/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	PurchaseRepo  purchasedomain.Repository
	EnrollmentSvc enrollmentdomain.Service
	AuditSvc      auditdomain.Service
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

// Reconciler is the single writer of purchase status. Every transition is a
// conditional update guarded by status='pending'; whoever loses the race
// observes zero affected rows and absorbs the event.
type Reconciler struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	purchaseRepo  purchasedomain.Repository
	enrollmentSvc enrollmentdomain.Service
	auditSvc      auditdomain.Service
	obsMetrics    *obsmetrics.Metrics
}

func NewReconciler(p Params) *Reconciler {
	return &Reconciler{
		db:            p.DB,
		log:           p.Log.Named("reconcile.reconciler"),
		clock:         p.Clock,
		purchaseRepo:  p.PurchaseRepo,
		enrollmentSvc: p.EnrollmentSvc,
		auditSvc:      p.AuditSvc,
		obsMetrics:    p.ObsMetrics,
	}
}

// Apply reconciles an event delivered by the processor's webhook.
func (r *Reconciler) Apply(ctx context.Context, event paymentdomain.Event) (paymentdomain.Outcome, error) {
	return r.ApplyFrom(ctx, event, auditdomain.SourceWebhook)
}

// ApplyFrom reconciles event and records source on the audit row.
func (r *Reconciler) ApplyFrom(ctx context.Context, event paymentdomain.Event, source auditdomain.Source) (paymentdomain.Outcome, error) {
	if event == nil {
		return "", paymentdomain.ErrMalformedPayload
	}
	meta := event.Meta()
	if strings.TrimSpace(meta.CorrelationToken) == "" {
		return "", paymentdomain.ErrMalformedPayload
	}
	target, failureReason := targetOf(event)

	log := logger.WithContext(ctx, r.log).With(
		zap.String("provider", meta.Provider),
		zap.String("event_id", meta.EventID),
		zap.String("event_kind", string(event.Kind())),
		zap.String("source", string(source)),
	)

	var (
		outcome  = paymentdomain.OutcomeNoop
		purchase *purchasedomain.Purchase
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		purchase, err = r.purchaseRepo.FindByCorrelationToken(ctx, tx, meta.Provider, meta.CorrelationToken)
		if err != nil {
			return err
		}
		if purchase == nil {
			return paymentdomain.ErrUnknownCorrelation
		}
		if purchase.Status.IsTerminal() {
			// Terminal purchases absorb every later event.
			log.Debug("event absorbed by terminal purchase",
				zap.String("purchase_id", purchase.ID.String()),
				zap.String("status", string(purchase.Status)),
				zap.Error(paymentdomain.ErrTerminalState),
			)
			return nil
		}

		now := r.clock.Now().UTC()
		moved, err := r.purchaseRepo.Transition(ctx, tx, purchasedomain.TransitionRequest{
			ID:            purchase.ID,
			To:            target,
			FailureReason: failureReason,
			At:            now,
		})
		if err != nil {
			return err
		}
		if !moved {
			log.Info("transition lost to a concurrent writer", zap.String("purchase_id", purchase.ID.String()))
			return nil
		}

		metadata := map[string]any{
			"provider":          meta.Provider,
			"event_type":        meta.Type,
			"correlation_token": meta.CorrelationToken,
		}
		if failureReason != "" {
			metadata["failure_reason"] = failureReason
		}

		if target == purchasedomain.StatusCompleted {
			if succeeded, ok := event.(paymentdomain.PaymentSucceeded); ok && succeeded.AmountTotal > 0 && succeeded.AmountTotal != purchase.Amount {
				log.Warn("settled amount differs from purchase amount",
					zap.String("purchase_id", purchase.ID.String()),
					zap.Int64("purchase_amount", purchase.Amount),
					zap.Int64("settled_amount", succeeded.AmountTotal),
				)
				metadata["settled_amount"] = succeeded.AmountTotal
			}
			if _, err := r.enrollmentSvc.Enroll(ctx, tx, enrollmentdomain.EnrollRequest{
				LearnerID:  purchase.LearnerID,
				CourseID:   purchase.CourseID,
				PurchaseID: purchase.ID,
				At:         now,
			}); err != nil {
				return err
			}
		}

		if err := r.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			PurchaseID: purchase.ID,
			FromStatus: string(purchasedomain.StatusPending),
			ToStatus:   string(target),
			Source:     source,
			EventID:    meta.EventID,
			Metadata:   metadata,
		}); err != nil {
			return err
		}
		outcome = paymentdomain.OutcomeApplied
		return nil
	})

	if err != nil {
		if errors.Is(err, paymentdomain.ErrUnknownCorrelation) {
			r.obsMetrics.RecordUnknownCorrelation(ctx, meta.Provider)
			r.obsMetrics.RecordReconcile(ctx, string(source), string(target), "unknown_correlation")
			log.Error("event references no purchase",
				zap.String("correlation_token", meta.CorrelationToken),
			)
			return "", err
		}
		r.obsMetrics.RecordReconcile(ctx, string(source), string(target), "error")
		log.Error("reconcile failed", zap.Error(err))
		if paymentdomain.CategoryOf(err) != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", paymentdomain.ErrStorageUnavailable, err)
	}

	r.obsMetrics.RecordReconcile(ctx, string(source), string(target), string(outcome))
	if outcome == paymentdomain.OutcomeApplied {
		log.Info("purchase transitioned",
			zap.String("purchase_id", purchase.ID.String()),
			zap.String("to", string(target)),
		)
	}
	return outcome, nil
}

func targetOf(event paymentdomain.Event) (purchasedomain.Status, string) {
	switch e := event.(type) {
	case paymentdomain.PaymentSucceeded:
		return purchasedomain.StatusCompleted, ""
	case paymentdomain.PaymentFailed:
		reason := strings.TrimSpace(e.Reason)
		if reason == "" {
			reason = "payment_failed"
		}
		return purchasedomain.StatusFailed, reason
	case paymentdomain.SessionExpired:
		return purchasedomain.StatusExpired, ""
	default:
		panic(fmt.Sprintf("reconcile: unhandled event kind %T", event))
	}
}
