// Package tracing provides opt-in OpenTelemetry trace propagation.
//
// When TROIKA_OTLP_ENDPOINT is set, Setup wires an OTLP HTTP exporter, a
// TracerProvider, and W3C TraceContext + Baggage propagation. When the
// endpoint is empty, every function degrades to a no-op.
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds the OTel tracing configuration. An empty Endpoint disables
// tracing entirely; Setup then returns a no-op shutdown.
type Config struct {
	Endpoint    string // OTLP HTTP endpoint, e.g. "localhost:4318"
	ServiceName string // resource service name, e.g. "troika"
}

// Setup initialises the OpenTelemetry TracerProvider with an OTLP HTTP
// exporter and installs W3C propagation globally so provider calls carry
// traceparent headers. The returned shutdown must be called on server close
// to flush pending spans.
func Setup(cfg Config) (shutdown func(context.Context) error, err error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(), // endpoint is host:port, no scheme
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Middleware instruments inbound requests. With no global TracerProvider set
// the otelhttp handler is effectively a no-op.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "troika.request")
	}
}

// HTTPTransport wraps a base http.RoundTripper with OTel instrumentation so
// outgoing provider calls propagate traceparent/tracestate headers. If base
// is nil, http.DefaultTransport is used.
func HTTPTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}
