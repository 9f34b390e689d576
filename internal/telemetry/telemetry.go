// Package telemetry provides OpenTelemetry trace instrumentation for the
// ingestion, extraction, and API surfaces.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/vulndash/vulndash/internal/config"
)

// Provider wraps the OpenTelemetry TracerProvider for one service (cmd/api
// or cmd/worker).
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider builds a Provider from TelemetryConfig. A disabled config
// still returns a usable Provider whose spans are no-ops, so callers never
// need to branch on cfg.Enabled themselves.
func NewProvider(cfg config.TelemetryConfig) (*Provider, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "vulndash"
	}

	if !cfg.Enabled {
		return &Provider{tracer: otel.Tracer(serviceName)}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer(serviceName)}, nil
}

func newExporter(cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	ctx := context.Background()

	switch cfg.Exporter {
	case "otlp_grpc":
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	case "otlp_http":
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	case "stdout", "":
		fallthrough
	default:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

// Shutdown flushes pending spans. Safe to call on a disabled Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Span wraps a trace.Span with typed attribute helpers.
type Span struct {
	trace.Span
}

// Start begins a new span under the provider's tracer.
func (p *Provider) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, *Span) {
	ctx, span := p.tracer.Start(ctx, name, opts...)
	return ctx, &Span{Span: span}
}

// SetError records err on the span and marks it failed.
func (s *Span) SetError(err error) {
	s.RecordError(err)
	s.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span as successful.
func (s *Span) SetOK() {
	s.SetStatus(codes.Ok, "")
}

// Middleware traces every inbound HTTP request.
func Middleware(tracer trace.Tracer) func(next http.Handler) http.Handler {
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLFull(r.URL.String()),
					semconv.HTTPRouteKey.String(r.URL.Path),
				),
			)
			defer span.End()

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(semconv.HTTPResponseStatusCode(rw.status))
			if rw.status >= 400 {
				span.SetStatus(codes.Error, http.StatusText(rw.status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// IngestSpan starts a span for one source's fetch-and-parse cycle.
func (p *Provider) IngestSpan(ctx context.Context, source string) (context.Context, *Span) {
	ctx, span := p.Start(ctx, "ingest."+source, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("vulndash.source", source))
	return ctx, span
}

// LLMSpan starts a span for one extraction call to a provider.
func (p *Provider) LLMSpan(ctx context.Context, provider, model string) (context.Context, *Span) {
	ctx, span := p.Start(ctx, "llm.generate", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
	return ctx, span
}

// RecordLLMUsage annotates an LLM span with token and latency counts.
func RecordLLMUsage(span *Span, inputTokens, outputTokens int, latency time.Duration) {
	span.SetAttributes(
		attribute.Int("llm.input_tokens", inputTokens),
		attribute.Int("llm.output_tokens", outputTokens),
		attribute.Int64("llm.latency_ms", latency.Milliseconds()),
	)
}

// DBSpan starts a span for a store-layer query.
func (p *Provider) DBSpan(ctx context.Context, operation string) (context.Context, *Span) {
	ctx, span := p.Start(ctx, "db."+operation, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(semconv.DBSystemKey.String("postgresql"), semconv.DBOperationKey.String(operation))
	return ctx, span
}

// TraceID returns the current span's trace ID, or "" outside a span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
