// Package telemetry wires OpenTelemetry tracing and Pyroscope profiling.
//
// Each association gets one root span. Capture and audit writes are child
// spans of it. With tracing disabled the package hands out no-op spans, so
// callers never check whether it is on.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const scope = "github.com/marmos91/dicomul"

// flushTimeout bounds the final export on shutdown.
const flushTimeout = 5 * time.Second

type state struct {
	tracer    trace.Tracer
	tracing   bool
	profiling bool
}

var current atomic.Pointer[state]

func init() {
	current.Store(&state{tracer: noop.NewTracerProvider().Tracer(scope)})
}

// Setup starts whatever cfg enables and returns one function that flushes
// and stops all of it. The returned function is never nil.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	st := &state{tracer: noop.NewTracerProvider().Tracer(scope)}
	var stops []func(context.Context) error

	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))
		st.tracer = tp.Tracer(scope)
		st.tracing = true
		stops = append(stops, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, flushTimeout)
			defer cancel()
			return tp.Shutdown(ctx)
		})
	}

	if cfg.Profiling.Enabled {
		stop, err := startProfiler(cfg)
		if err != nil {
			for _, s := range stops {
				_ = s(ctx)
			}
			return nil, err
		}
		st.profiling = true
		stops = append(stops, func(context.Context) error { return stop() })
	}

	current.Store(st)
	return func(ctx context.Context) error {
		var errs []error
		for _, s := range stops {
			errs = append(errs, s(ctx))
		}
		return errors.Join(errs...)
	}, nil
}

func newTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Tracing.Endpoint)}
	if cfg.Tracing.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion)),
		resource.WithHost(),
		resource.WithProcess())
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.Tracing.SampleRate)),
	), nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// useTracerProvider installs tp without exporters. Tests use it with an
// in-memory recorder.
func useTracerProvider(tp trace.TracerProvider) {
	current.Store(&state{tracer: tp.Tracer(scope), tracing: true})
}

// TracingEnabled reports whether spans are exported.
func TracingEnabled() bool { return current.Load().tracing }

// ProfilingEnabled reports whether the profiler is running.
func ProfilingEnabled() bool { return current.Load().profiling }

// StartSpan starts a span on the current tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return current.Load().tracer.Start(ctx, name, opts...)
}

// SpanFromContext returns the span in ctx, or a no-op span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// TraceID returns the trace ID of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the span ID of the span in ctx, or "".
func SpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}
