// Package stripe adapts Stripe Checkout to the processor interface.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

const ProviderName = "stripe"

type Config struct {
	SecretKey string
	// Timeout bounds one HTTP round trip. Retries live in adapters.WithRetry.
	Timeout time.Duration
	// BaseURL overrides the API endpoint; used against stripe-mock and in tests.
	BaseURL string
}

type Adapter struct {
	api *client.API
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Adapter, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	backendConfig := &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     log.Named("stripe").Sugar(),
	}
	apiConfig := *backendConfig
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		apiConfig.URL = stripego.String(base)
	}
	backends := &stripego.Backends{
		API:     stripego.GetBackendWithConfig(stripego.APIBackend, &apiConfig),
		Connect: stripego.GetBackendWithConfig(stripego.ConnectBackend, backendConfig),
		Uploads: stripego.GetBackendWithConfig(stripego.UploadsBackend, backendConfig),
	}

	return &Adapter{
		api: client.New(key, backends),
		log: log.Named("payment.stripe"),
	}, nil
}

func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) CreateCheckoutSession(ctx context.Context, req paymentdomain.CheckoutSessionRequest) (paymentdomain.CheckoutSession, error) {
	params := &stripego.CheckoutSessionParams{
		Mode:       stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL: stripego.String(req.SuccessURL),
		CancelURL:  stripego.String(req.CancelURL),
		LineItems: []*stripego.CheckoutSessionLineItemParams{{
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripego.String(strings.ToLower(req.Currency)),
				UnitAmount: stripego.Int64(req.Amount),
				ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripego.String(req.ProductName),
				},
			},
			Quantity: stripego.Int64(1),
		}},
		PaymentIntentData: &stripego.CheckoutSessionPaymentIntentDataParams{
			Metadata: copyMetadata(req.Metadata),
		},
	}
	params.Context = ctx
	if req.ClientRefID != "" {
		params.ClientReferenceID = stripego.String(req.ClientRefID)
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripego.Int64(req.ExpiresAt.Unix())
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}

	session, err := a.api.CheckoutSessions.New(params)
	if err != nil {
		return paymentdomain.CheckoutSession{}, classify(err)
	}
	if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.URL) == "" {
		return paymentdomain.CheckoutSession{}, paymentdomain.ErrUpstreamUnavailable
	}

	result := paymentdomain.CheckoutSession{
		CorrelationToken: session.ID,
		URL:              session.URL,
	}
	if session.ExpiresAt > 0 {
		result.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return result, nil
}

func (a *Adapter) GetSessionStatus(ctx context.Context, correlationToken string) (paymentdomain.SessionStatus, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	session, err := a.api.CheckoutSessions.Get(correlationToken, params)
	if err != nil {
		return "", classify(err)
	}
	return sessionStatus(session), nil
}

func (a *Adapter) ExpireSession(ctx context.Context, correlationToken string) error {
	params := &stripego.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := a.api.CheckoutSessions.Expire(correlationToken, params); err != nil {
		return classify(err)
	}
	return nil
}

func sessionStatus(session *stripego.CheckoutSession) paymentdomain.SessionStatus {
	switch session.Status {
	case stripego.CheckoutSessionStatusExpired:
		return paymentdomain.SessionStatusExpired
	case stripego.CheckoutSessionStatusComplete:
		switch session.PaymentStatus {
		case stripego.CheckoutSessionPaymentStatusPaid, stripego.CheckoutSessionPaymentStatusNoPaymentRequired:
			return paymentdomain.SessionStatusPaid
		}
		if session.PaymentIntent != nil && session.PaymentIntent.Status == stripego.PaymentIntentStatusCanceled {
			return paymentdomain.SessionStatusFailed
		}
		// Async payment methods stay unpaid until they settle.
		return paymentdomain.SessionStatusOpen
	default:
		return paymentdomain.SessionStatusOpen
	}
}

// classify maps stripe errors onto the payment error categories.
func classify(err error) error {
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", paymentdomain.ErrUpstreamUnavailable, err)
	}

	switch status := stripeErr.HTTPStatusCode; {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", paymentdomain.ErrUpstreamUnauthorized, stripeErr.Msg)
	case status == http.StatusNotFound && stripeErr.Code == stripego.ErrorCodeResourceMissing:
		return fmt.Errorf("%w: %s", paymentdomain.ErrSessionNotFound, stripeErr.Msg)
	case status == http.StatusTooManyRequests || status == http.StatusConflict || status >= 500 || status == 0:
		return fmt.Errorf("%w: %s", paymentdomain.ErrUpstreamUnavailable, stripeErr.Msg)
	default:
		return fmt.Errorf("%w: %s", paymentdomain.ErrUpstreamRejected, stripeErr.Msg)
	}
}

func copyMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		out[key] = value
	}
	return out
}
