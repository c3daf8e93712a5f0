package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes purchase and payment instruments.
type Metrics struct {
	checkouts          metric.Int64Counter
	paymentEvents      metric.Int64Counter
	reconcileOutcomes  metric.Int64Counter
	unknownCorrelation metric.Int64Counter
	rosterRepairs      metric.Int64Counter
	processorCalls     metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "coursemart"
	}
	meter := provider.Meter(name)

	checkouts, err := meter.Int64Counter("coursemart_purchase_checkouts_total",
		metric.WithDescription("Checkout attempts by result."))
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("coursemart_payment_events_total",
		metric.WithDescription("Inbound processor events by provider, kind and outcome."))
	if err != nil {
		return nil, err
	}
	reconcileOutcomes, err := meter.Int64Counter("coursemart_reconcile_outcomes_total",
		metric.WithDescription("Reconciler results by source and target status."))
	if err != nil {
		return nil, err
	}
	unknownCorrelation, err := meter.Int64Counter("coursemart_unknown_correlation_total",
		metric.WithDescription("Events whose correlation token matched no purchase."))
	if err != nil {
		return nil, err
	}
	rosterRepairs, err := meter.Int64Counter("coursemart_roster_repairs_total",
		metric.WithDescription("Roster rows written by the repair scan."))
	if err != nil {
		return nil, err
	}
	processorCalls, err := meter.Float64Histogram("coursemart_processor_call_seconds",
		metric.WithDescription("Latency of outbound processor calls."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		checkouts:          checkouts,
		paymentEvents:      paymentEvents,
		reconcileOutcomes:  reconcileOutcomes,
		unknownCorrelation: unknownCorrelation,
		rosterRepairs:      rosterRepairs,
		processorCalls:     processorCalls,
	}, nil
}

// NewNoop returns instruments bound to a no-op provider, for tests and tools.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordCheckout(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.checkouts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, kind, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_kind", strings.TrimSpace(kind)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordReconcile(ctx context.Context, source, status, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("status", strings.TrimSpace(status)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.reconcileOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordUnknownCorrelation(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.unknownCorrelation.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRosterRepair(ctx context.Context, side string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("side", strings.TrimSpace(side)))
	m.rosterRepairs.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func (m *Metrics) ObserveProcessorCall(ctx context.Context, provider, operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.processorCalls.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":    {},
	"event_kind":  {},
	"outcome":     {},
	"result":      {},
	"source":      {},
	"status":      {},
	"side":        {},
	"operation":   {},
	"route":       {},
	"method":      {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
