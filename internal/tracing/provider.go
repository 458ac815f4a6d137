// Package tracing exports iteration, step and request spans of a run over OTLP
// and propagates W3C trace context on outgoing HTTP requests.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/stepfire/internal/config"
)

const (
	defaultServiceName = "stepfire"
	instrumentation    = "github.com/torosent/stepfire"
)

// Run identifies the run whose spans a Provider exports. Both values end up
// on the resource of every span.
type Run struct {
	Scenario string
	RunID    string
}

// Provider owns the tracer of one run.
type Provider struct {
	tp        *sdktrace.TracerProvider
	tracer    trace.Tracer
	propagate bool
}

// Init builds the provider for run. Without an endpoint in cfg or in
// OTEL_EXPORTER_OTLP_ENDPOINT the provider hands out a no-op tracer.
func Init(ctx context.Context, cfg config.TracingConfig, run Run) (*Provider, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return &Provider{}, nil
	}

	sampler, err := newSampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	exporter, err := newExporter(ctx, cfg, endpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}
	return newProvider(sdktrace.NewBatchSpanProcessor(exporter), sampler, cfg, run), nil
}

// NewWithExporter builds a provider that hands spans to exporter as soon as
// they end. Sampling and propagation still follow cfg.
func NewWithExporter(exporter sdktrace.SpanExporter, cfg config.TracingConfig, run Run) (*Provider, error) {
	sampler, err := newSampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	return newProvider(sdktrace.NewSimpleSpanProcessor(exporter), sampler, cfg, run), nil
}

func newProvider(processor sdktrace.SpanProcessor, sampler sdktrace.Sampler, cfg config.TracingConfig, run Run) *Provider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(runResource(cfg.ServiceName, run)),
		sdktrace.WithSampler(sampler),
	)

	propagate := cfg.ShouldPropagate()
	if propagate {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	return &Provider{
		tp:        tp,
		tracer:    tp.Tracer(instrumentation),
		propagate: propagate,
	}
}

func runResource(serviceName string, run Run) *resource.Resource {
	if serviceName == "" {
		serviceName = os.Getenv("OTEL_SERVICE_NAME")
	}
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if run.Scenario != "" {
		attrs = append(attrs, AttrScenario.String(run.Scenario))
	}
	if run.RunID != "" {
		attrs = append(attrs, AttrRunID.String(run.RunID))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// newSampler maps sample_rate onto a parent based sampler: 0 drops every new
// trace, 1 keeps all of them.
func newSampler(rate float64) (sdktrace.Sampler, error) {
	var root sdktrace.Sampler
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 0:
		root = sdktrace.NeverSample()
	case rate == 1:
		root = sdktrace.AlwaysSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root), nil
}

// Tracer returns the run tracer, or a no-op tracer when tracing is off.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentation)
	}
	return p.tracer
}

// ShouldPropagate reports whether http steps inject trace headers.
func (p *Provider) ShouldPropagate() bool {
	return p != nil && p.propagate
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func newExporter(ctx context.Context, cfg config.TracingConfig, endpoint string) (sdktrace.SpanExporter, error) {
	switch protocol := strings.ToLower(cfg.Protocol); protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", protocol)
	}
}
