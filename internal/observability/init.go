// Package observability wires structured logging, OTel tracing, and metrics
// (exported both as Prometheus /metrics and, when configured, pushed via
// OTLP) — grounded on the retrieval pack's pkg/observability/init.go, which
// this package keeps the provider/shutdown shape of while dropping the
// corpus's source-analysis-specific instruments.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	tracerName               = "infercore"
	meterName                = "infercore"
	defaultShutdownTimeoutSec = 5
)

// Config configures observability initialization.
type Config struct {
	ServiceName  string
	OTLPEndpoint string // empty disables trace/metric OTLP export
	OTLPInsecure bool
	LogJSON      bool
	LogLevel     slog.Level
	// Registerer receives the Prometheus collectors. Defaults to a fresh
	// *prometheus.Registry per Init call so repeated Init calls (tests,
	// or multiple daemon instances in one process) never collide on the
	// global DefaultRegisterer. Production wiring should pass
	// prometheus.DefaultRegisterer to expose instruments on the process's
	// single /metrics endpoint.
	Registerer prometheus.Registerer
}

// Providers holds the initialized observability surface.
type Providers struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	Logger   *slog.Logger
	RED      *REDMetrics
	Shutdown func(ctx context.Context) error
}

// Init builds tracer/meter providers, a Prometheus metric reader (always
// on, registered into cfg.Registerer or a fresh registry), and an optional
// OTLP exporter pair when cfg.OTLPEndpoint is set.
func Init(cfg Config) (Providers, error) {
	ctx := context.Background()

	res, err := buildResource(cfg)
	if err != nil {
		return Providers{}, err
	}

	tp, tpShutdown, err := buildTracerProvider(ctx, cfg, res)
	if err != nil {
		return Providers{}, fmt.Errorf("build tracer provider: %w", err)
	}

	mp, mpShutdown, err := buildMeterProvider(ctx, cfg, res)
	if err != nil {
		return Providers{}, errors.Join(fmt.Errorf("build meter provider: %w", err), tpShutdown(ctx))
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	logger := buildLogger(cfg)

	meter := mp.Meter(meterName)
	red, err := NewREDMetrics(meter)
	if err != nil {
		return Providers{}, errors.Join(err, tpShutdown(ctx), mpShutdown(ctx))
	}

	shutdown := func(shutdownCtx context.Context) error {
		deadlineCtx, cancel := context.WithTimeout(shutdownCtx, defaultShutdownTimeoutSec*time.Second)
		defer cancel()
		return errors.Join(tpShutdown(deadlineCtx), mpShutdown(deadlineCtx))
	}

	return Providers{
		Tracer:   tp.Tracer(tracerName),
		Meter:    meter,
		Logger:   logger,
		RED:      red,
		Shutdown: shutdown,
	}, nil
}

func buildResource(cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "infercore"
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	return res, nil
}

type shutdownFunc func(ctx context.Context) error

func noopShutdown(_ context.Context) error { return nil }

func buildTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (trace.TracerProvider, shutdownFunc, error) {
	if cfg.OTLPEndpoint == "" {
		return nooptrace.NewTracerProvider(), noopShutdown, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	return tp, tp.Shutdown, nil
}

// buildMeterProvider always attaches a Prometheus reader registered into the
// configured Registerer (nothing in this module serves it over HTTP) and
// additionally attaches an OTLP periodic reader when an endpoint is configured.
func buildMeterProvider(ctx context.Context, cfg Config, res *resource.Resource) (metric.MeterProvider, shutdownFunc, error) {
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	promReader, err := otelprom.New(otelprom.WithRegisterer(registerer))
	if err != nil {
		return noopmetric.NewMeterProvider(), noopShutdown, fmt.Errorf("create prometheus reader: %w", err)
	}

	readerOpts := []sdkmetric.Option{sdkmetric.WithReader(promReader), sdkmetric.WithResource(res)}

	if cfg.OTLPEndpoint != "" {
		mopts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			mopts = append(mopts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, mopts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create metric exporter: %w", err)
		}
		readerOpts = append(readerOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}

	mp := sdkmetric.NewMeterProvider(readerOpts...)
	return mp, mp.Shutdown, nil
}

func buildLogger(cfg Config) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var inner slog.Handler
	if cfg.LogJSON {
		inner = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "infercore"
	}
	return slog.New(NewTracingHandler(inner, name))
}
