package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Telemetry owns the meter provider lifecycle.
type Telemetry struct {
	cfg      *Config
	provider *sdkmetric.MeterProvider
}

// Init sets up the global meter provider exporting over OTLP. With
// telemetry disabled it returns a Telemetry whose Shutdown is a no-op
// and leaves the global no-op provider in place.
func Init(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	if !cfg.Enabled {
		return &Telemetry{cfg: cfg}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Standalone resource to avoid schema URL conflicts with
	// resource.Default(), which uses a different semconv version.
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(cfg.ExportInterval.Duration()),
			),
		),
	)
	otel.SetMeterProvider(provider)

	return &Telemetry{cfg: cfg, provider: provider}, nil
}

// newExporter creates the OTLP metric exporter for the configured
// protocol. Cumulative temporality is forced for Prometheus-compatible
// backends, overriding any inherited OTEL_* environment preference.
func newExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	cumulative := func(sdkmetric.InstrumentKind) metricdata.Temporality {
		return metricdata.CumulativeTemporality
	}

	switch cfg.Protocol {
	case "http/protobuf":
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint)),
			otlpmetrichttp.WithTemporalitySelector(cumulative),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating http metric exporter: %w", err)
		}
		return exporter, nil
	default: // "grpc"
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithTemporalitySelector(cumulative),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating grpc metric exporter: %w", err)
		}
		return exporter, nil
	}
}

// Shutdown flushes pending metrics and stops the provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ShutdownTimeout.Duration())
	defer cancel()
	return t.provider.Shutdown(ctx)
}

// stripScheme removes http:// or https:// from an endpoint URL. The
// OTLP HTTP exporter expects host:port, not a full URL.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return endpoint
}
