package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	"github.com/smallbiznis/coursemart/internal/payment/adapters/mock"
	"github.com/smallbiznis/coursemart/internal/payment/domain"
	"github.com/smallbiznis/coursemart/internal/payment/mocks"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry(mock.New("http://localhost"), nil)

	require.True(t, registry.ProviderExists("MOCK"))
	require.False(t, registry.ProviderExists("stripe"))
	require.Equal(t, []string{"mock"}, registry.Names())

	processor, err := registry.Get(" mock ")
	require.NoError(t, err)
	require.Equal(t, "mock", processor.Name())

	_, err = registry.Get("paypal")
	require.ErrorIs(t, err, domain.ErrUnsupportedProvider)
	require.ErrorIs(t, err, domain.ErrValidationFailure)
}

func TestWithRetryRetriesTransientOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	processor := mocks.NewMockProcessor(ctrl)
	processor.EXPECT().Name().Return("stripe").AnyTimes()

	gomock.InOrder(
		processor.EXPECT().GetSessionStatus(gomock.Any(), "cs_1").Return(domain.SessionStatus(""), domain.ErrUpstreamUnavailable),
		processor.EXPECT().GetSessionStatus(gomock.Any(), "cs_1").Return(domain.SessionStatusPaid, nil),
	)

	wrapped := WithRetry(processor, RetryConfig{Timeout: time.Second, Retries: 1, Metrics: obsmetrics.NewNoop()})
	status, err := wrapped.GetSessionStatus(context.Background(), "cs_1")
	require.NoError(t, err)
	require.Equal(t, domain.SessionStatusPaid, status)
}

func TestWithRetryGivesUpAfterRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	processor := mocks.NewMockProcessor(ctrl)
	processor.EXPECT().Name().Return("stripe").AnyTimes()
	processor.EXPECT().ExpireSession(gomock.Any(), "cs_1").Return(errors.New("connection reset")).Times(2)

	wrapped := WithRetry(processor, RetryConfig{Timeout: time.Second, Retries: 1})
	err := wrapped.ExpireSession(context.Background(), "cs_1")
	require.ErrorIs(t, err, domain.ErrTransientUpstream)
}

func TestWithRetryDoesNotRetryRejections(t *testing.T) {
	ctrl := gomock.NewController(t)
	processor := mocks.NewMockProcessor(ctrl)
	processor.EXPECT().Name().Return("stripe").AnyTimes()
	processor.EXPECT().
		CreateCheckoutSession(gomock.Any(), gomock.Any()).
		Return(domain.CheckoutSession{}, domain.ErrUpstreamRejected).
		Times(1)

	wrapped := WithRetry(processor, RetryConfig{Timeout: time.Second, Retries: 3})
	_, err := wrapped.CreateCheckoutSession(context.Background(), domain.CheckoutSessionRequest{IdempotencyKey: "1"})
	require.ErrorIs(t, err, domain.ErrUpstreamRejected)
}

func TestWithRetryAppliesTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	processor := mocks.NewMockProcessor(ctrl)
	processor.EXPECT().Name().Return("stripe").AnyTimes()
	processor.EXPECT().
		GetSessionStatus(gomock.Any(), "cs_slow").
		DoAndReturn(func(ctx context.Context, _ string) (domain.SessionStatus, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}).
		Times(1)

	wrapped := WithRetry(processor, RetryConfig{Timeout: 20 * time.Millisecond, Retries: 0})
	_, err := wrapped.GetSessionStatus(context.Background(), "cs_slow")
	require.ErrorIs(t, err, domain.ErrTransientUpstream)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockProcessorLifecycle(t *testing.T) {
	processor := mock.New("http://localhost:8080/")
	ctx := context.Background()

	session, err := processor.CreateCheckoutSession(ctx, domain.CheckoutSessionRequest{
		IdempotencyKey: "42",
		Amount:         9000,
		Currency:       "usd",
	})
	require.NoError(t, err)
	require.Contains(t, session.CorrelationToken, mock.TokenPrefix)
	require.Equal(t, "http://localhost:8080/mock-checkout/"+session.CorrelationToken, session.URL)

	again, err := processor.CreateCheckoutSession(ctx, domain.CheckoutSessionRequest{IdempotencyKey: "42", Amount: 9000, Currency: "usd"})
	require.NoError(t, err)
	require.Equal(t, session.CorrelationToken, again.CorrelationToken)

	status, err := processor.GetSessionStatus(ctx, session.CorrelationToken)
	require.NoError(t, err)
	require.Equal(t, domain.SessionStatusOpen, status)

	require.True(t, processor.SetStatus(session.CorrelationToken, domain.SessionStatusPaid))
	require.NoError(t, processor.ExpireSession(ctx, session.CorrelationToken))
	status, err = processor.GetSessionStatus(ctx, session.CorrelationToken)
	require.NoError(t, err)
	require.Equal(t, domain.SessionStatusPaid, status)

	_, err = processor.GetSessionStatus(ctx, "mock_cs_missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	processor.FailNext(domain.ErrUpstreamUnavailable)
	_, err = processor.GetSessionStatus(ctx, session.CorrelationToken)
	require.ErrorIs(t, err, domain.ErrTransientUpstream)
}
