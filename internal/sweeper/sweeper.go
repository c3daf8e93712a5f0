// Package sweeper drives purchases stuck in pending to a terminal state and
// repairs enrollment gaps left behind by partial failures.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	enrollmentdomain "github.com/smallbiznis/coursemart/internal/enrollment/domain"
	obscontext "github.com/smallbiznis/coursemart/internal/observability/context"
	"github.com/smallbiznis/coursemart/pkg/telemetry/correlation"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	"github.com/smallbiznis/coursemart/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	"github.com/smallbiznis/coursemart/internal/ratelimit"
	"github.com/smallbiznis/coursemart/internal/reconcile"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobStuckPurchases = "stuck_purchases"
	JobRosterRepair   = "roster_repair"

	leaderLockName = "sweeper"
)

var ErrInvalidConfig = errors.New("sweeper: invalid config")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Tuning        *config.TuningHolder
	PurchaseRepo  purchasedomain.Repository
	EnrollmentSvc enrollmentdomain.Service
	Processor     paymentdomain.Processor
	Registry      *adapters.Registry `optional:"true"`
	Reconciler    *reconcile.Reconciler
	Locker        *ratelimit.Locker           `optional:"true"`
	Metrics       *obsmetrics.SweeperMetrics `optional:"true"`
}

type Sweeper struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	tuning        *config.TuningHolder
	purchaseRepo  purchasedomain.Repository
	enrollmentSvc enrollmentdomain.Service
	processor     paymentdomain.Processor
	registry      *adapters.Registry
	reconciler    *reconcile.Reconciler
	locker        *ratelimit.Locker
	metrics       *obsmetrics.SweeperMetrics

	// mu keeps operator-triggered runs from overlapping the loop in this process.
	mu sync.Mutex
}

// Report summarizes one sweeper pass.
type Report struct {
	RunID     string                        `json:"run_id"`
	Skipped   bool                          `json:"skipped"`
	Scanned   int                           `json:"scanned"`
	Completed int                           `json:"completed"`
	Failed    int                           `json:"failed"`
	Expired   int                           `json:"expired"`
	Noop      int                           `json:"noop"`
	Deferred  int                           `json:"deferred"`
	Roster    enrollmentdomain.RepairReport `json:"roster"`
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.PurchaseRepo == nil || p.EnrollmentSvc == nil || p.Processor == nil || p.Reconciler == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		db:            p.DB,
		log:           p.Log.Named("sweeper").With(zap.String("component", "sweeper")),
		clock:         p.Clock,
		tuning:        p.Tuning,
		purchaseRepo:  p.PurchaseRepo,
		enrollmentSvc: p.EnrollmentSvc,
		processor:     p.Processor,
		registry:      p.Registry,
		reconciler:    p.Reconciler,
		locker:        p.Locker,
		metrics:       p.Metrics,
	}, nil
}

func (s *Sweeper) runJob(
	parent context.Context,
	run *sweepRun,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, job *jobRun) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	job := run.startJob(name)
	s.logJobStart(ctx, job)
	s.metrics.IncJobRun(name)

	err := fn(ctx, job)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && job.errorCount == 0 {
		job.IncError()
	}
	s.logJobFinish(ctx, job)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		// The rest of the batch is picked up by the next pass.
		s.logger(ctx).Warn("sweeper job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce performs one pass of every job. When redis is configured only one
// replica runs a pass at a time; the others report Skipped.
func (s *Sweeper) RunOnce(parent context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tuning := s.tuning.Get().Sweeper
	run := s.newRun()
	ctx := s.withRunContext(parent, run)
	report := Report{RunID: run.runID}

	var lease *ratelimit.Lease
	if s.locker.Enabled() {
		var err error
		lease, err = s.locker.Acquire(ctx, leaderLockName, tuning.LockTTL)
		if err != nil {
			s.metrics.IncJobError("leader_lock", err)
			return report, fmt.Errorf("acquire sweeper lock: %w", err)
		}
		if lease == nil {
			s.metrics.IncBatchDeferred("leader_lock", obsmetrics.SweeperDeferredReasonLockHeld)
			s.logger(ctx).Debug("sweeper pass held by another replica")
			report.Skipped = true
			return report, nil
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger(ctx).Warn("failed to release sweeper lock", zap.Error(err))
			}
		}()
	}

	jobTimeout := tuning.LockTTL / 2
	var err error
	err = errors.Join(err, s.runJob(ctx, run, JobStuckPurchases, jobTimeout, func(ctx context.Context, job *jobRun) error {
		return s.stuckPurchasesJob(ctx, job, tuning, &report)
	}))
	if lease != nil {
		held, extendErr := lease.Extend(ctx, tuning.LockTTL)
		if extendErr != nil || !held {
			s.logger(ctx).Warn("sweeper lock lost before roster repair", zap.Bool("held", held), zap.Error(extendErr))
			return report, errors.Join(err, extendErr)
		}
	}
	err = errors.Join(err, s.runJob(ctx, run, JobRosterRepair, jobTimeout, func(ctx context.Context, job *jobRun) error {
		return s.rosterRepairJob(ctx, job, tuning, &report)
	}))
	return report, err
}

func (s *Sweeper) RunForever(ctx context.Context) {
	nextRun := s.clock.Now()

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweeper run failed", zap.Error(err))
		}

		// Interval changes in checkout.yml apply from the next tick.
		interval := s.tuning.Get().Sweeper.RunInterval
		nextRun = nextRun.Add(interval)
		wait := nextRun.Sub(s.clock.Now())
		if wait < 0 {
			wait = 0
			nextRun = s.clock.Now()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Sweeper) withRunContext(ctx context.Context, run *sweepRun) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = obscontext.WithActor(ctx, "system", "sweeper")
	if correlation.ExtractCorrelationID(ctx) == "" {
		ctx = correlation.ContextWithCorrelationID(ctx, run.runID)
	}
	return ctx
}
