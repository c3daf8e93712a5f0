package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	auditrepo "github.com/smallbiznis/coursemart/internal/audit/repository"
	auditservice "github.com/smallbiznis/coursemart/internal/audit/service"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	enrollmentdomain "github.com/smallbiznis/coursemart/internal/enrollment/domain"
	enrollmentrepo "github.com/smallbiznis/coursemart/internal/enrollment/repository"
	enrollmentservice "github.com/smallbiznis/coursemart/internal/enrollment/service"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	"github.com/smallbiznis/coursemart/internal/payment/adapters"
	"github.com/smallbiznis/coursemart/internal/payment/adapters/mock"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/coursemart/internal/purchase/repository"
	"github.com/smallbiznis/coursemart/internal/reconcile"
	"github.com/smallbiznis/coursemart/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type env struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	processor  *mock.Processor
	purchases  purchasedomain.Repository
	enrollment enrollmentdomain.Service
	sweeper    *Sweeper
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, config.DefaultTuning(), false)
}

// newEnvWith builds a sweeper with the given tuning; withRegistry routes
// processor lookups through a registry holding only the mock adapter.
func newEnvWith(t *testing.T, tuning config.Tuning, withRegistry bool) *env {
	t.Helper()
	db := testutil.NewTestDB(t)
	node := testutil.NewNode(t)
	fake := clock.NewFakeClock(now)
	processor := mock.New("http://localhost:8080")
	purchases := purchaserepo.Provide()

	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: auditrepo.Provide(),
	})
	enrollment := enrollmentservice.NewService(enrollmentservice.Params{
		DB: db, Log: zap.NewNop(), Clock: fake, Repo: enrollmentrepo.Provide(),
		PurchaseRepo: purchases, AuditSvc: audit,
	})
	reconciler := reconcile.NewReconciler(reconcile.Params{
		DB: db, Log: zap.NewNop(), Clock: fake, PurchaseRepo: purchases,
		EnrollmentSvc: enrollment, AuditSvc: audit, ObsMetrics: obsmetrics.NewNoop(),
	})
	var registry *adapters.Registry
	if withRegistry {
		registry = adapters.NewRegistry(processor)
	}
	sweeper, err := New(Params{
		DB:            db,
		Log:           zap.NewNop(),
		Clock:         fake,
		Tuning:        config.NewStaticTuningHolder(tuning),
		PurchaseRepo:  purchases,
		EnrollmentSvc: enrollment,
		Processor:     processor,
		Registry:      registry,
		Reconciler:    reconciler,
		Metrics:       obsmetrics.NewSweeperMetricsWithRegistry(prometheus.NewRegistry(), obsmetrics.Config{}),
	})
	require.NoError(t, err)

	return &env{db: db, clock: fake, processor: processor, purchases: purchases, enrollment: enrollment, sweeper: sweeper}
}

// pending opens a mock session and records a pending purchase last touched age ago.
func (e *env) pending(t *testing.T, id int64, learner string, age time.Duration, status paymentdomain.SessionStatus) string {
	t.Helper()
	session, err := e.processor.CreateCheckoutSession(context.Background(), paymentdomain.CheckoutSessionRequest{
		IdempotencyKey: snowflake.ID(id).String(),
		Amount:         9000,
		Currency:       "usd",
	})
	require.NoError(t, err)
	require.True(t, e.processor.SetStatus(session.CorrelationToken, status))

	at := now.Add(-age)
	require.NoError(t, e.purchases.Insert(context.Background(), e.db, &purchasedomain.Purchase{
		ID:               snowflake.ID(id),
		LearnerID:        learner,
		CourseID:         snowflake.ID(100 + id),
		Amount:           9000,
		Currency:         "usd",
		Status:           purchasedomain.StatusPending,
		Provider:         mock.ProviderName,
		CorrelationToken: session.CorrelationToken,
		CreatedAt:        at,
		UpdatedAt:        at,
	}))
	return session.CorrelationToken
}

func (e *env) status(t *testing.T, id int64) purchasedomain.Status {
	t.Helper()
	purchase, err := e.purchases.FindByID(context.Background(), e.db, snowflake.ID(id))
	require.NoError(t, err)
	require.NotNil(t, purchase)
	return purchase.Status
}

func TestRunOnceDrivesStalePurchases(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.pending(t, 1, "paid", 2*time.Hour, paymentdomain.SessionStatusPaid)
	e.pending(t, 2, "declined", 2*time.Hour, paymentdomain.SessionStatusFailed)
	e.pending(t, 3, "lapsed", 2*time.Hour, paymentdomain.SessionStatusExpired)
	e.pending(t, 4, "browsing", 2*time.Hour, paymentdomain.SessionStatusOpen)
	abandoned := e.pending(t, 5, "abandoned", 49*time.Hour, paymentdomain.SessionStatusOpen)
	e.pending(t, 6, "fresh", 10*time.Minute, paymentdomain.SessionStatusPaid)

	report, err := e.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.False(t, report.Skipped)
	require.NotEmpty(t, report.RunID)
	require.Equal(t, 5, report.Scanned)
	require.Equal(t, 1, report.Completed)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 2, report.Expired)
	require.Equal(t, 1, report.Deferred)

	require.Equal(t, purchasedomain.StatusCompleted, e.status(t, 1))
	require.Equal(t, purchasedomain.StatusFailed, e.status(t, 2))
	require.Equal(t, purchasedomain.StatusExpired, e.status(t, 3))
	require.Equal(t, purchasedomain.StatusPending, e.status(t, 4))
	require.Equal(t, purchasedomain.StatusExpired, e.status(t, 5))
	require.Equal(t, purchasedomain.StatusPending, e.status(t, 6))

	membership, err := e.enrollment.Lookup(ctx, "paid", 101)
	require.NoError(t, err)
	require.True(t, membership.Enrolled())

	sessionStatus, err := e.processor.GetSessionStatus(ctx, abandoned)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.SessionStatusExpired, sessionStatus)

	var sources []string
	require.NoError(t, e.db.Raw(`SELECT DISTINCT source FROM purchase_transitions`).Scan(&sources).Error)
	require.Equal(t, []string{"sweeper"}, sources)
}

func TestRunOnceEventuallyExpiresAtHardDeadline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.pending(t, 1, "browsing", 2*time.Hour, paymentdomain.SessionStatusOpen)

	report, err := e.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deferred)
	require.Equal(t, purchasedomain.StatusPending, e.status(t, 1))

	e.clock.Advance(47 * time.Hour)
	report, err = e.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Expired)
	require.Equal(t, purchasedomain.StatusExpired, e.status(t, 1))

	report, err = e.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Scanned)
}

func TestRunOnceDefersOnProcessorError(t *testing.T) {
	e := newEnv(t)
	e.pending(t, 1, "paid", 2*time.Hour, paymentdomain.SessionStatusPaid)
	e.processor.FailNext(paymentdomain.ErrUpstreamUnavailable)

	report, err := e.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Deferred)
	require.Equal(t, purchasedomain.StatusPending, e.status(t, 1))

	report, err = e.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Completed)
	require.Equal(t, purchasedomain.StatusCompleted, e.status(t, 1))
}

// orphan records a pending purchase whose session the processor does not know.
func (e *env) orphan(t *testing.T, id int64, token, provider string, age time.Duration) {
	t.Helper()
	at := now.Add(-age)
	require.NoError(t, e.purchases.Insert(context.Background(), e.db, &purchasedomain.Purchase{
		ID:               snowflake.ID(id),
		LearnerID:        "orphan",
		CourseID:         snowflake.ID(100 + id),
		Amount:           9000,
		Currency:         "usd",
		Status:           purchasedomain.StatusPending,
		Provider:         provider,
		CorrelationToken: token,
		CreatedAt:        at,
		UpdatedAt:        at,
	}))
}

func TestRunOnceExpiresPurchaseWhoseSessionIsGone(t *testing.T) {
	e := newEnv(t)
	e.orphan(t, 1, "mock_cs_gone", mock.ProviderName, 2*time.Hour)

	report, err := e.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Scanned)
	require.Equal(t, 1, report.Expired)
	require.Zero(t, report.Deferred)
	require.Equal(t, purchasedomain.StatusExpired, e.status(t, 1))

	report, err = e.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Scanned)
}

func TestRunOnceExpiresPastHardDeadlineWhenProcessorErrors(t *testing.T) {
	e := newEnv(t)
	e.pending(t, 1, "young", 2*time.Hour, paymentdomain.SessionStatusOpen)
	e.pending(t, 2, "old", 72*time.Hour, paymentdomain.SessionStatusOpen)

	// One failure per call: the older row sorts first and absorbs it.
	e.processor.FailNext(paymentdomain.ErrUpstreamUnavailable)
	report, err := e.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Scanned)
	require.Equal(t, 1, report.Expired)
	require.Equal(t, 1, report.Deferred)
	require.Equal(t, purchasedomain.StatusExpired, e.status(t, 2))
	require.Equal(t, purchasedomain.StatusPending, e.status(t, 1))
}

func TestRunOnceRotatesPastDeferredRows(t *testing.T) {
	tuning := config.DefaultTuning()
	tuning.Sweeper.BatchSize = 3
	e := newEnvWith(t, tuning, false)

	for id := int64(1); id <= 3; id++ {
		e.pending(t, id, "browsing", 3*time.Hour, paymentdomain.SessionStatusOpen)
	}
	e.pending(t, 4, "paid", 2*time.Hour, paymentdomain.SessionStatusPaid)

	report, err := e.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Scanned)
	require.Equal(t, 3, report.Deferred)
	require.Equal(t, purchasedomain.StatusPending, e.status(t, 4))

	report, err = e.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Completed)
	require.Equal(t, purchasedomain.StatusCompleted, e.status(t, 4))
}

func TestRunOnceQueriesThePurchaseProvider(t *testing.T) {
	e := newEnvWith(t, config.DefaultTuning(), true)

	token := e.pending(t, 1, "paid", 2*time.Hour, paymentdomain.SessionStatusPaid)
	require.NoError(t, e.db.Exec(`UPDATE purchases SET provider = ? WHERE id = ?`, "stripe", 1).Error)
	e.orphan(t, 2, "cs_stripe_old", "stripe", 72*time.Hour)
	e.pending(t, 3, "mock_paid", 2*time.Hour, paymentdomain.SessionStatusPaid)

	report, err := e.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Scanned)
	require.Equal(t, 1, report.Completed)
	require.Equal(t, 1, report.Expired)
	require.Equal(t, 1, report.Deferred)

	// The mock session is paid, but the purchase belongs to an adapter this
	// deployment does not run, so it is not settled from the mock's answer.
	require.Equal(t, purchasedomain.StatusPending, e.status(t, 1))
	require.Equal(t, purchasedomain.StatusExpired, e.status(t, 2))
	require.Equal(t, purchasedomain.StatusCompleted, e.status(t, 3))

	status, err := e.processor.GetSessionStatus(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.SessionStatusPaid, status)
}

func TestRunOnceRepairsRosterGaps(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.purchases.Insert(ctx, e.db, &purchasedomain.Purchase{
		ID: 9, LearnerID: "half", CourseID: 900, Amount: 9000, Currency: "usd",
		Status: purchasedomain.StatusCompleted, Provider: mock.ProviderName, CorrelationToken: "mock_cs_9",
		CreatedAt: now, UpdatedAt: now, CompletedAt: &now,
	}))
	require.NoError(t, e.db.Exec(
		`INSERT INTO learner_enrollments (learner_id, course_id, purchase_id, created_at) VALUES (?, ?, ?, ?)`,
		"half", 900, 9, now,
	).Error)

	report, err := e.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Roster.Scanned)
	require.Equal(t, 1, report.Roster.MissingRoster)
	require.Equal(t, 1, report.Roster.RepairedRoster)
	require.Zero(t, report.Roster.RepairedLearner)

	membership, err := e.enrollment.Lookup(ctx, "half", 900)
	require.NoError(t, err)
	require.True(t, membership.Enrolled())
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
