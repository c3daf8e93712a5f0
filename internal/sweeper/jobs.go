package sweeper

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	"github.com/smallbiznis/coursemart/internal/config"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	reasonProcessorFailed = "processor_reported_failure"
	reasonHardDeadline    = "hard_deadline"
	reasonSessionMissing  = "session_missing"
)

// claimStale locks a batch of stale pending purchases in a short transaction
// and stamps them as swept, so rows that keep deferring rotate behind the
// rest of the backlog. Rows locked elsewhere are skipped rather than waited on.
func (s *Sweeper) claimStale(ctx context.Context, now time.Time, tuning config.SweeperTuning) ([]*purchasedomain.Purchase, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var purchases []*purchasedomain.Purchase
	lockStart := time.Now()
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		var err error
		purchases, err = s.purchaseRepo.ListStalePending(claimCtx, tx, purchasedomain.StaleFilter{
			UpdatedBefore: now.Add(-tuning.PendingDeadline),
			Limit:         tuning.BatchSize,
		})
		if err != nil {
			return err
		}
		ids := make([]snowflake.ID, 0, len(purchases))
		for _, purchase := range purchases {
			ids = append(ids, purchase.ID)
		}
		return s.purchaseRepo.MarkSwept(claimCtx, tx, ids, now)
	})
	s.metrics.ObserveDBLockWait(obsmetrics.LockResourceStalePurchases, time.Since(lockStart))
	return purchases, err
}

func (s *Sweeper) stuckPurchasesJob(ctx context.Context, job *jobRun, tuning config.SweeperTuning, report *Report) error {
	now := s.clock.Now().UTC()
	purchases, err := s.claimStale(ctx, now, tuning)
	if err != nil {
		return err
	}
	report.Scanned += len(purchases)

	for _, purchase := range purchases {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, target, err := s.settle(ctx, job, purchase, now, tuning)
		if err != nil {
			s.logSweeperError(ctx, job, "sweeper.purchase.failed", err,
				zap.String("purchase_id", purchase.ID.String()),
			)
			continue
		}
		switch {
		case target == "":
			report.Deferred++
		case outcome == paymentdomain.OutcomeApplied:
			job.AddProcessed(1)
			s.metrics.IncTransition(string(target))
			switch target {
			case purchasedomain.StatusCompleted:
				report.Completed++
			case purchasedomain.StatusFailed:
				report.Failed++
			case purchasedomain.StatusExpired:
				report.Expired++
			}
		default:
			report.Noop++
		}
	}
	s.metrics.AddBatchProcessed(JobStuckPurchases, "purchases", job.processedCount)
	return nil
}

// processorFor resolves the adapter the purchase was opened with.
func (s *Sweeper) processorFor(provider string) (paymentdomain.Processor, error) {
	if s.registry != nil {
		return s.registry.Get(provider)
	}
	if strings.EqualFold(strings.TrimSpace(provider), s.processor.Name()) {
		return s.processor, nil
	}
	return nil, paymentdomain.ErrUnsupportedProvider
}

// settle asks the processor where a stale purchase stands and reconciles it.
// An empty target means the purchase was left for a later pass.
func (s *Sweeper) settle(ctx context.Context, job *jobRun, purchase *purchasedomain.Purchase, now time.Time, tuning config.SweeperTuning) (paymentdomain.Outcome, purchasedomain.Status, error) {
	log := s.logger(ctx).With(
		zap.String("purchase_id", purchase.ID.String()),
		zap.String("provider", purchase.Provider),
	)
	pastHardDeadline := now.Sub(purchase.CreatedAt) >= tuning.HardDeadline

	meta := paymentdomain.EventMeta{
		Provider:         purchase.Provider,
		EventID:          "sweep:" + job.runID + ":" + purchase.ID.String(),
		CorrelationToken: purchase.CorrelationToken,
		OccurredAt:       now,
		ReceivedAt:       now,
	}

	processor, err := s.processorFor(purchase.Provider)
	var status paymentdomain.SessionStatus
	if err == nil {
		status, err = processor.GetSessionStatus(ctx, purchase.CorrelationToken)
	}

	var event paymentdomain.Event
	switch {
	case errors.Is(err, paymentdomain.ErrSessionNotFound):
		// Nothing left at the processor that could still be paid.
		meta.Type = "sweeper." + reasonSessionMissing
		event = paymentdomain.SessionExpired{EventMeta: meta}
	case err != nil && !pastHardDeadline:
		job.IncDeferred()
		s.metrics.IncBatchDeferred(JobStuckPurchases, obsmetrics.SweeperDeferredReasonUpstreamFailed)
		log.Warn("session status unavailable; deferring", zap.Error(err))
		return "", "", nil
	case err != nil:
		// Checkout sessions live at most a day, so past the hard deadline the
		// session is gone whether or not the processor answers.
		if processor != nil {
			if expireErr := processor.ExpireSession(ctx, purchase.CorrelationToken); expireErr != nil && !errors.Is(expireErr, paymentdomain.ErrSessionNotFound) {
				log.Warn("best-effort session expiry failed", zap.Error(expireErr))
			}
		}
		log.Warn("session status unavailable past hard deadline; expiring", zap.Error(err))
		meta.Type = "sweeper." + reasonHardDeadline
		event = paymentdomain.SessionExpired{EventMeta: meta}
	case status == paymentdomain.SessionStatusPaid:
		meta.Type = "sweeper." + string(status)
		event = paymentdomain.PaymentSucceeded{EventMeta: meta}
	case status == paymentdomain.SessionStatusFailed:
		meta.Type = "sweeper." + string(status)
		event = paymentdomain.PaymentFailed{EventMeta: meta, Reason: reasonProcessorFailed}
	case status == paymentdomain.SessionStatusExpired:
		meta.Type = "sweeper." + string(status)
		event = paymentdomain.SessionExpired{EventMeta: meta}
	default:
		if !pastHardDeadline {
			job.IncDeferred()
			s.metrics.IncBatchDeferred(JobStuckPurchases, obsmetrics.SweeperDeferredReasonSessionOpen)
			return "", "", nil
		}
		// Close the session first so the learner cannot pay after we give up.
		if err := processor.ExpireSession(ctx, purchase.CorrelationToken); err != nil && !errors.Is(err, paymentdomain.ErrSessionNotFound) {
			job.IncDeferred()
			s.metrics.IncBatchDeferred(JobStuckPurchases, obsmetrics.SweeperDeferredReasonUpstreamFailed)
			log.Warn("failed to expire session past hard deadline; deferring", zap.Error(err))
			return "", "", nil
		}
		meta.Type = "sweeper." + reasonHardDeadline
		event = paymentdomain.SessionExpired{EventMeta: meta}
	}

	outcome, err := s.reconciler.ApplyFrom(ctx, event, auditdomain.SourceSweeper)
	if err != nil {
		return "", "", err
	}
	target := targetStatus(event)
	log.Info("sweeper.purchase.settled",
		zap.String("session_status", string(status)),
		zap.String("reason", meta.Type),
		zap.String("to", string(target)),
		zap.String("outcome", string(outcome)),
	)
	return outcome, target, nil
}

func (s *Sweeper) rosterRepairJob(ctx context.Context, job *jobRun, tuning config.SweeperTuning, report *Report) error {
	repair, err := s.enrollmentSvc.Repair(ctx, tuning.BatchSize, true)
	report.Roster = repair
	if err != nil {
		return err
	}
	job.AddProcessed(repair.RepairedLearner + repair.RepairedRoster)
	s.metrics.AddBatchProcessed(JobRosterRepair, "learner_enrollments", repair.RepairedLearner)
	s.metrics.AddBatchProcessed(JobRosterRepair, "course_rosters", repair.RepairedRoster)
	return nil
}

func targetStatus(event paymentdomain.Event) purchasedomain.Status {
	switch event.Kind() {
	case paymentdomain.KindPaymentSucceeded:
		return purchasedomain.StatusCompleted
	case paymentdomain.KindPaymentFailed:
		return purchasedomain.StatusFailed
	default:
		return purchasedomain.StatusExpired
	}
}
