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
}

// Metrics exposes application-level instruments.
type Metrics struct {
	sessionTransitions  metric.Int64Counter
	webhookEvents       metric.Int64Counter
	paymentsAfterExpiry metric.Int64Counter
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

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "checkout"
	}
	meter := provider.Meter(name)

	sessionTransitions, err := meter.Int64Counter("checkout_session_transitions_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("checkout_webhook_events_total")
	if err != nil {
		return nil, err
	}
	paymentsAfterExpiry, err := meter.Int64Counter("checkout_payments_after_expiry_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		sessionTransitions:  sessionTransitions,
		webhookEvents:       webhookEvents,
		paymentsAfterExpiry: paymentsAfterExpiry,
	}, nil
}

func (m *Metrics) RecordSessionTransition(ctx context.Context, from, to string) {
	if m == nil || m.sessionTransitions == nil {
		return
	}
	m.sessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("outcome", outcome),
		),
	)
}

func (m *Metrics) RecordPaymentAfterExpiry(ctx context.Context, provider string) {
	if m == nil || m.paymentsAfterExpiry == nil {
		return
	}
	m.paymentsAfterExpiry.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch protocol {
	case "", "grpc":
		return otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http":
		return otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
