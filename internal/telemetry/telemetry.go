// Package telemetry wires OpenTelemetry metrics for the sync and delivery path.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/kalambet/incidentq"

// Config configures metric export.
type Config struct {
	ServiceVersion string
	// OTLPEndpoint is a gRPC host:port. Empty disables export.
	OTLPEndpoint string
	Insecure     bool
	Interval     time.Duration
}

// Provider owns the meter provider, if one was created.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *slog.Logger
}

// New creates a provider. With no endpoint it uses the global (noop by
// default) meter provider and exports nothing.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{logger: slog.Default().With("component", "telemetry")}

	if cfg.OTLPEndpoint == "" {
		p.meter = otel.Meter(meterName)
		p.logger.DebugContext(ctx, "metric export disabled")
		return p, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", "incidentq"),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(meterName)

	p.logger.InfoContext(ctx, "metric export enabled", "endpoint", cfg.OTLPEndpoint, "insecure", cfg.Insecure)
	return p, nil
}

// NewWithMeterProvider builds a provider on an existing meter provider (for testing).
func NewWithMeterProvider(mp metric.MeterProvider) *Provider {
	return &Provider{meter: mp.Meter(meterName), logger: slog.Default().With("component", "telemetry")}
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down meter provider: %w", err)
	}
	return nil
}
