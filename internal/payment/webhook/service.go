package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/coursemart/internal/cache"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	"github.com/smallbiznis/coursemart/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Applier reconciles a verified event against the purchase ledger.
type Applier interface {
	Apply(ctx context.Context, event paymentdomain.Event) (paymentdomain.Outcome, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Tuning   *config.TuningHolder
	Clock    clock.Clock
	Registry *adapters.Registry
	Deduper  cache.Deduper
	Applier  Applier
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	tuning    *config.TuningHolder
	verifiers map[string]*Verifier
	deduper   cache.Deduper
	applier   Applier
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	tolerance := func() time.Duration { return p.Tuning.Get().Webhook.Tolerance }
	verifiers := make(map[string]*Verifier)
	for _, name := range p.Registry.Names() {
		verifiers[name] = NewVerifier(VerifierConfig{
			Provider:  name,
			Header:    p.Config.Payment.WebhookHeader,
			Secrets:   p.Config.Payment.WebhookSecrets,
			Tolerance: tolerance,
			Clock:     p.Clock,
		})
	}
	if len(p.Config.Payment.WebhookSecrets) == 0 {
		p.Log.Warn("no payment webhook secrets configured; every callback will be rejected")
	}

	return &Service{
		log:       p.Log.Named("payment.webhook"),
		tuning:    p.Tuning,
		verifiers: verifiers,
		deduper:   p.Deduper,
		applier:   p.Applier,
		metrics:   p.Metrics,
	}
}

// Ingest authenticates, deduplicates and reconciles one processor callback.
// A nil error means the event was durably absorbed and may be acknowledged.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.Outcome, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	log := logger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	verifier, ok := s.verifiers[provider]
	if !ok {
		return "", paymentdomain.ErrUnsupportedProvider
	}

	event, err := verifier.Verify(ctx, payload, headers)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrIgnoredEvent) {
			s.metrics.RecordPaymentEvent(ctx, provider, "unrecognized", string(paymentdomain.OutcomeIgnored))
			return paymentdomain.OutcomeIgnored, nil
		}
		s.metrics.RecordPaymentEvent(ctx, provider, "unverified", paymentdomain.CodeOf(err))
		log.Warn("payment webhook rejected", zap.Error(err))
		return "", err
	}

	meta := event.Meta()
	log = log.With(
		zap.String("event_id", meta.EventID),
		zap.String("event_type", meta.Type),
	)

	tuning := s.tuning.Get().Webhook
	key := cache.EventKey(provider, meta.EventID)
	state, claimErr := s.deduper.Claim(ctx, key, tuning.ProcessingLease)
	if claimErr != nil {
		// The guarded transition still absorbs duplicates without the window.
		log.Warn("event dedup claim failed", zap.Error(claimErr))
	} else {
		switch state {
		case cache.ClaimDone:
			s.metrics.RecordPaymentEvent(ctx, provider, string(event.Kind()), string(paymentdomain.OutcomeDuplicate))
			log.Info("duplicate payment event skipped")
			return paymentdomain.OutcomeDuplicate, nil
		case cache.ClaimInFlight:
			// Not yet absorbed elsewhere; the sender must retry rather than see a 2xx.
			s.metrics.RecordPaymentEvent(ctx, provider, string(event.Kind()), "in_flight")
			log.Info("payment event already in flight")
			return "", paymentdomain.ErrEventInFlight
		}
	}

	outcome, err := s.applier.Apply(ctx, event)
	if err != nil {
		if claimErr == nil {
			if releaseErr := s.deduper.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
				log.Warn("event dedup release failed", zap.Error(releaseErr))
			}
		}
		s.metrics.RecordPaymentEvent(ctx, provider, string(event.Kind()), "error")
		return "", err
	}

	if claimErr == nil {
		if completeErr := s.deduper.Complete(context.WithoutCancel(ctx), key, tuning.DedupTTL); completeErr != nil {
			// Already applied; a redelivery is absorbed by the guarded transition.
			log.Warn("event dedup complete failed", zap.Error(completeErr))
		}
	}

	s.metrics.RecordPaymentEvent(ctx, provider, string(event.Kind()), string(outcome))
	log.Info("payment event processed", zap.String("outcome", string(outcome)))
	return outcome, nil
}

// Providers lists the providers callbacks are accepted for.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.verifiers))
	for name := range s.verifiers {
		names = append(names, name)
	}
	return names
}
