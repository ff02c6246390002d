// Package telemetry exports traces and RED metrics over OTLP. With no
// collector endpoint configured every instrument is a no-op.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/ehr/eligibility"

// Config holds the telemetry settings.
type Config struct {
	ServiceName     string
	ServiceVersion  string
	Environment     string
	OTLPEndpoint    string // host:port of a gRPC collector; empty disables export
	Insecure        bool
	SampleRate      float64 // 0.0 to 1.0
	MetricsInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "eligibility-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1.0
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 15 * time.Second
	}
}

// Provider owns the tracer and meter plus the instruments recorded by the
// HTTP middleware and event counters.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	propagator     propagation.TextMapPropagator
	logger         zerolog.Logger

	requests metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
	events   metric.Int64Counter
}

// New builds a Provider. When cfg.OTLPEndpoint is empty the returned
// Provider records nothing.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Provider, error) {
	cfg.applyDefaults()

	if cfg.OTLPEndpoint == "" {
		logger.Info().Msg("telemetry export disabled: OTEL_EXPORTER_OTLP_ENDPOINT is not set")
		return newProvider(tracenoop.NewTracerProvider().Tracer(instrumentationName),
			metricnoop.NewMeterProvider().Meter(instrumentationName), logger)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(cfg.MetricsInterval))),
	)

	p, err := NewWithProviders(tp, mp, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("endpoint", cfg.OTLPEndpoint).
		Float64("sample_rate", cfg.SampleRate).
		Msg("telemetry export enabled")
	return p, nil
}

// NewWithProviders wires a Provider onto existing SDK providers. Shutdown
// flushes and closes them.
func NewWithProviders(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider, logger zerolog.Logger) (*Provider, error) {
	p, err := newProvider(tp.Tracer(instrumentationName), mp.Meter(instrumentationName), logger)
	if err != nil {
		return nil, err
	}
	p.tracerProvider = tp
	p.meterProvider = mp
	return p, nil
}

func newProvider(tracer trace.Tracer, meter metric.Meter, logger zerolog.Logger) (*Provider, error) {
	p := &Provider{
		tracer: tracer,
		meter:  meter,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}),
		logger: logger,
	}

	var err error
	if p.requests, err = meter.Int64Counter("http.server.requests",
		metric.WithDescription("HTTP requests served"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if p.errors, err = meter.Int64Counter("http.server.errors",
		metric.WithDescription("HTTP requests answered with a 5xx status"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if p.duration, err = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30)); err != nil {
		return nil, err
	}
	if p.active, err = meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if p.events, err = meter.Int64Counter("eligibility.events",
		metric.WithDescription("Domain events, by type"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	return p, nil
}

// Tracer returns the tracer used for request spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes pending telemetry.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.Error().Err(err).Msg("failed to shutdown trace provider")
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.Error().Err(err).Msg("failed to shutdown metric provider")
		}
	}
	return nil
}

// Middleware opens a server span per request, continuing any incoming
// W3C trace context, and records request count, errors and duration by
// method, route pattern and status.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}

			ctx := p.propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := p.tracer.Start(ctx, "HTTP "+req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("http.route", route),
					attribute.String("url.path", req.URL.Path),
				))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			p.active.Add(ctx, 1)
			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)
			p.active.Add(ctx, -1)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if err != nil {
				span.RecordError(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("http.request.method", req.Method),
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", status),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
				p.errors.Add(ctx, 1, attrs)
			}
			p.requests.Add(ctx, 1, attrs)
			p.duration.Record(ctx, elapsed.Seconds(), attrs)
			return err
		}
	}
}

// CountEvents increments the events counter for each value received on src
// until src closes or ctx is done.
func CountEvents[T any](ctx context.Context, p *Provider, src <-chan T, typeOf func(T) string) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-src:
			if !ok {
				return
			}
			p.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event.type", typeOf(v))))
		}
	}
}
