package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AppIeBanana/ZhaoSheng/internal/config"
)

// restoreGlobals puts the tracer provider and both seams back after t.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	dial, build := dialExporter, buildResource
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		dialExporter, buildResource = dial, build
	})
}

func tracingOn() config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    true,
		Endpoint:    "localhost:4317",
		ServiceName: "zhaosheng-test",
		SampleRatio: 1,
	}
}

func TestSetupOTel_DisabledLeavesProvider(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{}, "dev")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatalf("provider replaced while disabled")
	}
}

func TestSetupOTel_ExportsSpansWithServiceResource(t *testing.T) {
	restoreGlobals(t)
	exp := tracetest.NewInMemoryExporter()
	dialExporter = func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) { return exp, nil }

	shutdown, err := SetupOTel(context.Background(), tracingOn(), "v1.2.3")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	_, span := otel.Tracer("services/StorageService").Start(context.Background(), "SaveProfile")
	span.End()

	// Shutdown flushes the batcher into the in-memory exporter.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "SaveProfile" {
		t.Fatalf("spans = %+v", spans)
	}
	attrs := map[attribute.Key]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	if attrs["service.name"] != "zhaosheng-test" || attrs["service.version"] != "v1.2.3" || attrs["service.namespace"] != serviceNamespace {
		t.Fatalf("resource attributes = %v", attrs)
	}
}

func TestSetupOTel_RealExporterBothTransports(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		restoreGlobals(t)
		cfg := tracingOn()
		cfg.Insecure = insecure
		if n := len(exporterOptions(cfg)); n != 2 {
			t.Fatalf("insecure=%v: %d exporter options", insecure, n)
		}

		// The gRPC client connects lazily, so no collector is needed.
		shutdown, err := SetupOTel(context.Background(), cfg, "v0")
		if err != nil {
			t.Fatalf("insecure=%v: %v", insecure, err)
		}
		if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
			t.Fatalf("insecure=%v: sdk provider not installed", insecure)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		_ = shutdown(ctx)
		cancel()
	}
}

func TestSetupOTel_FailuresKeepProvider(t *testing.T) {
	cases := []struct {
		name     string
		sabotage func()
		want     string
	}{
		{"exporter", func() {
			dialExporter = func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
				return nil, errors.New("collector unreachable")
			}
		}, "otlp exporter: collector unreachable"},
		{"resource", func() {
			buildResource = func(context.Context, string, string) (*resource.Resource, error) {
				return nil, errors.New("bad attributes")
			}
		}, "otel resource: bad attributes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			restoreGlobals(t)
			dialExporter = func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
				return tracetest.NewInMemoryExporter(), nil
			}
			tc.sabotage()
			before := otel.GetTracerProvider()

			if _, err := SetupOTel(context.Background(), tracingOn(), "v0"); err == nil || err.Error() != tc.want {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
			if otel.GetTracerProvider() != before {
				t.Fatalf("provider replaced on failure")
			}
		})
	}
}

func TestSampler(t *testing.T) {
	for ratio, root := range map[float64]string{
		1.5:  "AlwaysOnSampler",
		1:    "AlwaysOnSampler",
		0:    "AlwaysOffSampler",
		-0.5: "AlwaysOffSampler",
		0.1:  "TraceIDRatioBased{0.1}",
	} {
		if got := sampler(ratio).Description(); !strings.HasPrefix(got, "ParentBased{root:"+root) {
			t.Errorf("sampler(%v) = %q, want root %s", ratio, got, root)
		}
	}
}
