package service

import (
	"context"
	"testing"
	"time"

	auditrepo "github.com/smallbiznis/coursemart/internal/audit/repository"
	auditservice "github.com/smallbiznis/coursemart/internal/audit/service"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/enrollment/domain"
	"github.com/smallbiznis/coursemart/internal/enrollment/repository"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/coursemart/internal/purchase/repository"
	"github.com/smallbiznis/coursemart/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	fake := clock.NewFakeClock(now)
	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: fake,
		Repo:  auditrepo.Provide(),
	})
	svc := NewService(Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        fake,
		Repo:         repository.Provide(),
		PurchaseRepo: purchaserepo.Provide(),
		AuditSvc:     audit,
		ObsMetrics:   obsmetrics.NewNoop(),
	})
	return svc, db
}

func completedPurchase(t *testing.T, db *gorm.DB, id int64, learner string, course int64) {
	t.Helper()
	completedAt := now
	require.NoError(t, db.Exec(
		`INSERT INTO purchases (id, learner_id, course_id, amount, currency, status, provider, correlation_token, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, 9000, 'usd', ?, 'mock', ?, ?, ?, ?)`,
		id, learner, course, string(purchasedomain.StatusCompleted), "cs_"+learner, now, now, completedAt,
	).Error)
}

func TestEnrollIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Enroll(ctx, nil, domain.EnrollRequest{LearnerID: "user_a", CourseID: 10, PurchaseID: 1})
	require.NoError(t, err)
	require.True(t, first.LearnerInserted)
	require.True(t, first.RosterInserted)

	second, err := svc.Enroll(ctx, nil, domain.EnrollRequest{LearnerID: "user_a", CourseID: 10, PurchaseID: 1})
	require.NoError(t, err)
	require.False(t, second.LearnerInserted)
	require.False(t, second.RosterInserted)

	membership, err := svc.Lookup(ctx, "user_a", 10)
	require.NoError(t, err)
	require.True(t, membership.Enrolled())

	courses, err := svc.ListCourses(ctx, "user_a")
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.EqualValues(t, 10, courses[0])
}

func TestEnrollValidates(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Enroll(context.Background(), nil, domain.EnrollRequest{CourseID: 10})
	require.ErrorIs(t, err, domain.ErrInvalidLearner)
	_, err = svc.Enroll(context.Background(), nil, domain.EnrollRequest{LearnerID: "user_a"})
	require.ErrorIs(t, err, domain.ErrInvalidCourse)
}

func TestRepairReportOnlyThenFix(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	completedPurchase(t, db, 1, "user_a", 10)
	completedPurchase(t, db, 2, "user_b", 10)
	require.NoError(t, db.Exec(
		`INSERT INTO learner_enrollments (learner_id, course_id, purchase_id, created_at) VALUES ('user_b', 10, 2, ?)`, now,
	).Error)

	report, err := svc.Repair(ctx, 50, false)
	require.NoError(t, err)
	require.Equal(t, 2, report.Scanned)
	require.Equal(t, 1, report.MissingLearner)
	require.Equal(t, 2, report.MissingRoster)
	require.Zero(t, report.RepairedRoster)

	membership, err := svc.Lookup(ctx, "user_a", 10)
	require.NoError(t, err)
	require.False(t, membership.Any())

	report, err = svc.Repair(ctx, 50, true)
	require.NoError(t, err)
	require.Equal(t, 1, report.RepairedLearner)
	require.Equal(t, 2, report.RepairedRoster)

	report, err = svc.Repair(ctx, 50, true)
	require.NoError(t, err)
	require.Zero(t, report.Scanned)

	var audits int64
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM purchase_transitions WHERE source = 'repair'`).Scan(&audits).Error)
	require.EqualValues(t, 2, audits)
}
