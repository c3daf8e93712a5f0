package payment

import (
	"fmt"

	"github.com/smallbiznis/coursemart/internal/config"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	"github.com/smallbiznis/coursemart/internal/payment/adapters"
	"github.com/smallbiznis/coursemart/internal/payment/adapters/mock"
	"github.com/smallbiznis/coursemart/internal/payment/adapters/stripe"
	"github.com/smallbiznis/coursemart/internal/payment/domain"
	"github.com/smallbiznis/coursemart/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(NewRegistry),
	fx.Provide(NewProcessor),
	fx.Provide(webhook.NewService),
)

type RegistryParams struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type ProcessorParams struct {
	fx.In

	Config   config.Config
	Registry *adapters.Registry
}

// NewRegistry registers every processor the configuration enables, each
// behind the retry decorator.
func NewRegistry(p RegistryParams) (*adapters.Registry, error) {
	cfg, log := p.Config, p.Log
	var processors []domain.Processor
	if cfg.Payment.StripeSecretKey != "" {
		adapter, err := stripe.New(stripe.Config{
			SecretKey: cfg.Payment.StripeSecretKey,
			Timeout:   cfg.Payment.CallTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		processors = append(processors, adapter)
	}
	if cfg.Payment.Provider == mock.ProviderName {
		processors = append(processors, mock.New(cfg.PublicOrigin))
	}
	retry := adapters.RetryConfig{
		Timeout: cfg.Payment.CallTimeout,
		Retries: cfg.Payment.CallRetries,
		Metrics: p.Metrics,
		Log:     log,
	}
	for i, processor := range processors {
		processors[i] = adapters.WithRetry(processor, retry)
	}
	return adapters.NewRegistry(processors...), nil
}

// NewProcessor returns the processor new checkouts are opened with.
func NewProcessor(p ProcessorParams) (domain.Processor, error) {
	processor, err := p.Registry.Get(p.Config.Payment.Provider)
	if err != nil {
		return nil, fmt.Errorf("payment provider %q is not configured: %w", p.Config.Payment.Provider, err)
	}
	return processor, nil
}
