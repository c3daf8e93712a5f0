package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	"gorm.io/gorm"
)

const (
	SweeperErrorTypeDeadlineExceeded = "deadline_exceeded"
	SweeperErrorTypeUpstream         = "upstream"
	SweeperErrorTypeDB               = "db"
	SweeperErrorTypeBusinessRule     = "business_rule"
	SweeperErrorTypeUnknown          = "unknown"
)

const (
	SweeperJobReasonDeadlineExceeded     = "deadline_exceeded"
	SweeperJobReasonUpstreamTransient    = "upstream_transient"
	SweeperJobReasonUpstreamRejected     = "upstream_rejected"
	SweeperJobReasonDBLockTimeout        = "db_lock_timeout"
	SweeperJobReasonSerializationFailure = "serialization_failure"
	SweeperJobReasonUniqueViolation      = "unique_violation"
	SweeperJobReasonUnknown              = "unknown"

	SweeperDeferredReasonLockHeld       = "lock_held"
	SweeperDeferredReasonSessionOpen    = "session_open"
	SweeperDeferredReasonUpstreamFailed = "upstream_failed"
)

const (
	LockResourceStalePurchases = "stale_purchases"
)

// SweeperMetrics captures stuck-purchase sweeper health.
type SweeperMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	batchDeferred  *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	runLoopLag     prometheus.Histogram
	dbLockWait     *prometheus.HistogramVec
}

// NewSweeperMetrics registers the sweeper collectors on the default registry.
func NewSweeperMetrics(cfg Config) *SweeperMetrics {
	return newSweeperMetrics(prometheus.DefaultRegisterer, cfg)
}

// NewSweeperMetricsWithRegistry registers the sweeper collectors on registerer.
func NewSweeperMetricsWithRegistry(registerer prometheus.Registerer, cfg Config) *SweeperMetrics {
	return newSweeperMetrics(registerer, cfg)
}

func newSweeperMetrics(registerer prometheus.Registerer, cfg Config) *SweeperMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	m := &SweeperMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "coursemart_sweeper_job_runs_total",
			Help:        "Sweeper job runs by name.",
			ConstLabels: labels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "coursemart_sweeper_job_duration_seconds",
			Help:        "Sweeper job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: labels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "coursemart_sweeper_job_timeouts_total",
			Help:        "Sweeper jobs that hit their deadline.",
			ConstLabels: labels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "coursemart_sweeper_job_errors_total",
			Help:        "Sweeper job errors by low-cardinality reason.",
			ConstLabels: labels,
		}, []string{"job", "reason"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "coursemart_sweeper_batch_processed_total",
			Help:        "Items handled by sweeper jobs.",
			ConstLabels: labels,
		}, []string{"job", "resource"}),
		batchDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "coursemart_sweeper_batch_deferred_total",
			Help:        "Items left for a later sweep, by reason.",
			ConstLabels: labels,
		}, []string{"job", "reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "coursemart_sweeper_purchase_transitions_total",
			Help:        "Purchase transitions performed by the sweeper.",
			ConstLabels: labels,
		}, []string{"to"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "coursemart_sweeper_runloop_lag_seconds",
			Help:        "Sweeper run loop lag beyond the configured interval.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: labels,
		}),
		dbLockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "coursemart_sweeper_db_lock_wait_seconds",
			Help:        "Time spent claiming rows with FOR UPDATE SKIP LOCKED.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: labels,
		}, []string{"resource"}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.batchProcessed,
		m.batchDeferred,
		m.transitions,
		m.runLoopLag,
		m.dbLockWait,
	)
	return m
}

func (m *SweeperMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SweeperMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SweeperMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SweeperMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySweeperJobReason(err)).Inc()
}

func (m *SweeperMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *SweeperMetrics) IncBatchDeferred(job, reason string) {
	if m == nil {
		return
	}
	m.batchDeferred.WithLabelValues(job, reason).Inc()
}

func (m *SweeperMetrics) IncTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *SweeperMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(max(duration, 0).Seconds())
}

func (m *SweeperMetrics) ObserveDBLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// ClassifySweeperErrorType returns a low-cardinality error type for logging.
func ClassifySweeperErrorType(err error) string {
	switch {
	case err == nil:
		return SweeperErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SweeperErrorTypeDeadlineExceeded
	case errors.Is(err, paymentdomain.ErrTransientUpstream),
		errors.Is(err, paymentdomain.ErrAuthenticationFailure):
		return SweeperErrorTypeUpstream
	case isDBError(err):
		return SweeperErrorTypeDB
	default:
		return SweeperErrorTypeBusinessRule
	}
}

// IsSweeperErrorRetryable reports whether the next sweep may succeed where this one failed.
func IsSweeperErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, paymentdomain.ErrTransientUpstream) {
		return true
	}
	return isDBError(err)
}

// ClassifySweeperJobReason maps sweeper job errors to low-cardinality reasons.
func ClassifySweeperJobReason(err error) string {
	switch {
	case err == nil:
		return SweeperJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SweeperJobReasonDeadlineExceeded
	case errors.Is(err, paymentdomain.ErrTransientUpstream):
		return SweeperJobReasonUpstreamTransient
	case errors.Is(err, paymentdomain.ErrAuthenticationFailure),
		errors.Is(err, paymentdomain.ErrValidationFailure):
		return SweeperJobReasonUpstreamRejected
	case hasPGCode(err, "55P03"):
		return SweeperJobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return SweeperJobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return SweeperJobReasonUniqueViolation
	default:
		return SweeperJobReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
