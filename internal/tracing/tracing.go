// Package tracing sets up OpenTelemetry for the SmartPlant binaries and
// provides span helpers for the pipeline and its stores.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/smartplant/internal/config"
)

// Service names reported by the binaries.
const (
	ServiceAPI    = "smartplant-api"
	ServiceWorker = "smartplant-worker"
)

// Supported exporters. An empty exporter type means ExporterOTLPHTTP.
const (
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// DefaultServiceVersion is reported when no version is configured.
const DefaultServiceVersion = "dev"

// Configuration errors returned by Validate and NewProvider.
var (
	ErrServiceNameRequired = errors.New("service name is required")
	ErrInvalidSamplingRate = errors.New("sampling rate must be between 0 and 1")
	ErrUnsupportedExporter = errors.New("unsupported exporter type")
)

// exporterTimeout bounds exporter construction.
const exporterTimeout = 10 * time.Second

// Config holds the tracing settings of one binary.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
	Environment    string
	ExporterType   string
	OTLPEndpoint   string
	// SamplingRate is the fraction of new traces recorded. Requests that
	// arrive with a sampled parent are always recorded.
	SamplingRate float64
	// InsecureMode disables TLS to the collector.
	InsecureMode bool
}

// FromConfig maps the tracing fields of the application config.
func FromConfig(cfg *config.Config, serviceName string) Config {
	return Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecureMode,
	}
}

// Validate reports the first invalid setting of an enabled config.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return ErrServiceNameRequired
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("%w, got %g", ErrInvalidSamplingRate, c.SamplingRate)
	}
	switch c.ExporterType {
	case "", ExporterOTLPHTTP, ExporterOTLPGRPC:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedExporter, c.ExporterType)
	}
}

// Option customizes NewProvider.
type Option func(*providerOptions)

type providerOptions struct {
	exporter sdktrace.SpanExporter
}

// WithExporter exports spans synchronously to exp instead of the configured
// OTLP collector.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *providerOptions) { o.exporter = exp }
}

// Provider owns the process tracer provider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	config Config
}

// NewProvider installs a global tracer provider and W3C propagator. A
// disabled config returns a no-op Provider.
func NewProvider(cfg Config, opts ...Option) (*Provider, error) {
	if !cfg.Enabled {
		slog.Info("tracing disabled", slog.String("service", cfg.ServiceName))
		return &Provider{config: cfg}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = DefaultServiceVersion
	}

	var o providerOptions
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var processor sdktrace.SpanProcessor
	if o.exporter != nil {
		processor = sdktrace.NewSimpleSpanProcessor(o.exporter)
	} else {
		exporter, err := newOTLPExporter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
		processor = sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SamplingRate)),
		sdktrace.WithSpanProcessor(processor),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("tracing initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("exporter", cfg.ExporterType),
		slog.String("endpoint", cfg.OTLPEndpoint),
		slog.Float64("sampling_rate", cfg.SamplingRate),
		slog.String("environment", cfg.Environment))

	return &Provider{tp: tp, config: cfg}, nil
}

// newSampler samples new traces at rate and follows the parent otherwise.
func newSampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch rate {
	case 1:
		root = sdktrace.AlwaysSample()
	case 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

func newOTLPExporter(cfg Config) (sdktrace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), exporterTimeout)
	defer cancel()

	if cfg.ExporterType == ExporterOTLPGRPC {
		var opts []otlptracegrpc.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.InsecureMode {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}

	var opts []otlptracehttp.Option
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
	}
	if cfg.InsecureMode {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

// Shutdown flushes pending spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	slog.Info("shutting down tracer provider", slog.String("service", p.config.ServiceName))
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}

// Tracer returns a named tracer from this provider, or the global one when
// tracing is disabled.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p.tp == nil {
		return otel.Tracer(name)
	}
	return p.tp.Tracer(name)
}

// IsEnabled reports whether spans are exported.
func (p *Provider) IsEnabled() bool {
	return p.config.Enabled
}
