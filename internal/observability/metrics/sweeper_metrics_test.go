package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	"github.com/stretchr/testify/require"
)

func TestClassifySweeperJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("sweep: %w", context.DeadlineExceeded), want: SweeperJobReasonDeadlineExceeded},
		{name: "upstream transient", err: paymentdomain.ErrUpstreamUnavailable, want: SweeperJobReasonUpstreamTransient},
		{name: "upstream rejected", err: paymentdomain.ErrUpstreamRejected, want: SweeperJobReasonUpstreamRejected},
		{name: "lock timeout", err: &pgconn.PgError{Code: "55P03"}, want: SweeperJobReasonDBLockTimeout},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: SweeperJobReasonSerializationFailure},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: SweeperJobReasonUniqueViolation},
		{name: "other", err: fmt.Errorf("boom"), want: SweeperJobReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ClassifySweeperJobReason(tc.err))
		})
	}
}

func TestIsSweeperErrorRetryable(t *testing.T) {
	require.True(t, IsSweeperErrorRetryable(paymentdomain.ErrUpstreamUnavailable))
	require.True(t, IsSweeperErrorRetryable(&pgconn.PgError{Code: "40001"}))
	require.False(t, IsSweeperErrorRetryable(paymentdomain.ErrUpstreamRejected))
	require.False(t, IsSweeperErrorRetryable(nil))
}

func TestSweeperMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newSweeperMetrics(reg, Config{ServiceName: "coursemart-test", Environment: "test"})

	m.IncJobRun("stuck_purchases")
	m.IncJobRun("stuck_purchases")
	m.IncJobError("stuck_purchases", paymentdomain.ErrUpstreamUnavailable)
	m.AddBatchProcessed("stuck_purchases", "purchase", 3)
	m.AddBatchProcessed("stuck_purchases", "purchase", 0)
	m.IncBatchDeferred("stuck_purchases", SweeperDeferredReasonSessionOpen)
	m.IncTransition("expired")
	m.ObserveRunLoopLag(-time.Second)

	require.Equal(t, 2.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("stuck_purchases")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.jobErrors.WithLabelValues("stuck_purchases", SweeperJobReasonUpstreamTransient)))
	require.Equal(t, 3.0, testutil.ToFloat64(m.batchProcessed.WithLabelValues("stuck_purchases", "purchase")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.batchDeferred.WithLabelValues("stuck_purchases", SweeperDeferredReasonSessionOpen)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("expired")))
}

func TestSweeperMetricsNilSafe(t *testing.T) {
	var m *SweeperMetrics
	require.NotPanics(t, func() {
		m.IncJobRun("x")
		m.IncJobError("x", context.Canceled)
		m.ObserveJobDuration("x", time.Second)
		m.ObserveDBLockWait(LockResourceStalePurchases, time.Millisecond)
	})
}
