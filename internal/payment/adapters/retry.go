package adapters

import (
	"context"
	"errors"
	"time"

	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	"github.com/smallbiznis/coursemart/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	DefaultCallTimeout = 10 * time.Second
	DefaultCallRetries = 1
)

type RetryConfig struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
	Metrics *obsmetrics.Metrics
	Log     *zap.Logger
}

// retrying bounds every processor call with a timeout and retries transient failures.
type retrying struct {
	next    domain.Processor
	timeout time.Duration
	retries int
	backoff time.Duration
	metrics *obsmetrics.Metrics
	log     *zap.Logger
}

func WithRetry(next domain.Processor, cfg RetryConfig) domain.Processor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &retrying{
		next:    next,
		timeout: timeout,
		retries: retries,
		backoff: cfg.Backoff,
		metrics: cfg.Metrics,
		log:     log.Named("payment.processor").With(zap.String("provider", next.Name())),
	}
}

func (r *retrying) Name() string { return r.next.Name() }

func (r *retrying) CreateCheckoutSession(ctx context.Context, req domain.CheckoutSessionRequest) (domain.CheckoutSession, error) {
	var session domain.CheckoutSession
	err := r.call(ctx, "create_checkout_session", func(ctx context.Context) error {
		var err error
		session, err = r.next.CreateCheckoutSession(ctx, req)
		return err
	})
	return session, err
}

func (r *retrying) GetSessionStatus(ctx context.Context, correlationToken string) (domain.SessionStatus, error) {
	var status domain.SessionStatus
	err := r.call(ctx, "get_session_status", func(ctx context.Context) error {
		var err error
		status, err = r.next.GetSessionStatus(ctx, correlationToken)
		return err
	})
	return status, err
}

func (r *retrying) ExpireSession(ctx context.Context, correlationToken string) error {
	return r.call(ctx, "expire_session", func(ctx context.Context) error {
		return r.next.ExpireSession(ctx, correlationToken)
	})
}

func (r *retrying) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			if waitErr := sleep(ctx, r.backoff); waitErr != nil {
				return err
			}
		}

		started := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err = normalizeCallError(fn(callCtx))
		cancel()
		r.metrics.ObserveProcessorCall(ctx, r.next.Name(), operation, callResult(err), time.Since(started))

		if err == nil || !errors.Is(err, domain.ErrTransientUpstream) || ctx.Err() != nil {
			return err
		}
		r.log.Warn("processor call failed",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return err
}

// normalizeCallError files uncategorized failures, timeouts included, as transient.
func normalizeCallError(err error) error {
	if err == nil || domain.CategoryOf(err) != nil {
		return err
	}
	return errors.Join(domain.ErrUpstreamUnavailable, err)
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrTransientUpstream):
		return "transient"
	case errors.Is(err, domain.ErrAuthenticationFailure):
		return "unauthorized"
	default:
		return "rejected"
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
