package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/smartplant/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	valid := Config{ServiceName: ServiceAPI, Enabled: true, SamplingRate: 0.1}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"grpc exporter", func(c *Config) { c.ExporterType = ExporterOTLPGRPC }, nil},
		{"http exporter", func(c *Config) { c.ExporterType = ExporterOTLPHTTP }, nil},
		{"missing service", func(c *Config) { c.ServiceName = "" }, ErrServiceNameRequired},
		{"negative rate", func(c *Config) { c.SamplingRate = -0.1 }, ErrInvalidSamplingRate},
		{"rate above one", func(c *Config) { c.SamplingRate = 1.5 }, ErrInvalidSamplingRate},
		{"unknown exporter", func(c *Config) { c.ExporterType = "zipkin" }, ErrUnsupportedExporter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if _, err := NewProvider(cfg); !errors.Is(err, tt.wantErr) {
					t.Errorf("NewProvider() error = %v, want %v", err, tt.wantErr)
				}
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		Env:                 "staging",
		TracingEnabled:      true,
		TracingExporter:     ExporterOTLPGRPC,
		TracingEndpoint:     "otel-collector:4317",
		TracingSampleRate:   0.25,
		TracingInsecureMode: true,
	}
	got := FromConfig(cfg, ServiceWorker)
	want := Config{
		ServiceName:  ServiceWorker,
		Enabled:      true,
		Environment:  "staging",
		ExporterType: ExporterOTLPGRPC,
		OTLPEndpoint: "otel-collector:4317",
		SamplingRate: 0.25,
		InsecureMode: true,
	}
	if got != want {
		t.Errorf("FromConfig() = %+v, want %+v", got, want)
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	// Invalid settings are ignored while tracing is off.
	provider, err := NewProvider(Config{Enabled: false, SamplingRate: 7})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}
	if provider.Tracer("smartplant") == nil {
		t.Error("disabled provider returned a nil tracer")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

// installExporter builds an enabled provider that records into memory and
// restores the global provider afterwards.
func installExporter(t *testing.T, cfg Config) (*Provider, *tracetest.InMemoryExporter) {
	t.Helper()
	prev := otel.GetTracerProvider()
	exporter := tracetest.NewInMemoryExporter()
	provider, err := NewProvider(cfg, WithExporter(exporter))
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return provider, exporter
}

func TestNewProvider_WithExporter(t *testing.T) {
	_, exporter := installExporter(t, Config{
		ServiceName:  ServiceAPI,
		Enabled:      true,
		Environment:  "test",
		SamplingRate: 1,
	})

	ctx, end := StartSpan(context.Background(), "identify.submit")
	SetAttributes(ctx, attribute.String("sighting.id", "plant_1"))
	end(nil)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Name != "identify.submit" {
		t.Errorf("span name = %q", spans[0].Name)
	}

	res := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		res[string(kv.Key)] = kv.Value.Emit()
	}
	if res["service.name"] != ServiceAPI {
		t.Errorf("service.name = %q, want %q", res["service.name"], ServiceAPI)
	}
	if res["service.version"] != DefaultServiceVersion {
		t.Errorf("service.version = %q, want %q", res["service.version"], DefaultServiceVersion)
	}
	if res["deployment.environment"] != "test" {
		t.Errorf("deployment.environment = %q, want test", res["deployment.environment"])
	}
}

func TestNewProvider_ZeroRateStillFollowsSampledParent(t *testing.T) {
	_, exporter := installExporter(t, Config{ServiceName: ServiceAPI, Enabled: true, SamplingRate: 0})

	_, end := StartSpan(context.Background(), "heatmap.build")
	end(nil)
	if n := len(exporter.GetSpans()); n != 0 {
		t.Fatalf("root span exported at rate 0: %d spans", n)
	}

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent)
	_, end = StartSpan(ctx, "identify.submit")
	end(nil)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want the child of the sampled parent", len(spans))
	}
	if spans[0].Parent.TraceID() != parent.TraceID() {
		t.Errorf("child trace id = %s, want %s", spans[0].Parent.TraceID(), parent.TraceID())
	}
}

func TestNewSampler(t *testing.T) {
	root := sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: trace.TraceID{1}, Name: "GET /plants"}

	tests := []struct {
		rate float64
		want sdktrace.SamplingDecision
	}{
		{1, sdktrace.RecordAndSample},
		{0, sdktrace.Drop},
	}
	for _, tt := range tests {
		if got := newSampler(tt.rate).ShouldSample(root).Decision; got != tt.want {
			t.Errorf("newSampler(%g) root decision = %v, want %v", tt.rate, got, tt.want)
		}
	}

	unsampled := trace.ContextWithRemoteSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{2},
		SpanID:  trace.SpanID{2},
		Remote:  true,
	}))
	params := sdktrace.SamplingParameters{ParentContext: unsampled, TraceID: trace.TraceID{2}, Name: "GET /plants"}
	if got := newSampler(1).ShouldSample(params).Decision; got != sdktrace.Drop {
		t.Errorf("unsampled parent decision = %v, want Drop", got)
	}
}

func TestNewProvider_OTLPExporters(t *testing.T) {
	for _, exporterType := range []string{"", ExporterOTLPHTTP, ExporterOTLPGRPC} {
		t.Run("exporter "+exporterType, func(t *testing.T) {
			prev := otel.GetTracerProvider()
			t.Cleanup(func() { otel.SetTracerProvider(prev) })

			provider, err := NewProvider(Config{
				ServiceName:  ServiceWorker,
				Enabled:      true,
				ExporterType: exporterType,
				OTLPEndpoint: "localhost:4318",
				SamplingRate: 0.1,
				InsecureMode: true,
			})
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if !provider.IsEnabled() {
				t.Error("expected tracing to be enabled")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
		})
	}
}

func TestProvider_Shutdown_Nil(t *testing.T) {
	if err := (&Provider{}).Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() on a disabled provider error = %v", err)
	}
}
