package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
)

// instrumentationName is used to identify the instrumentation in the
// OpenTelemetry collector. It maps to the attribute `otel.library.name`.
const instrumentationName string = "github.com/movio/orchestrator"

const defaultTelemetryServiceName = "orchestrator"

// TelemetryConfig is the configuration for OpenTelemetry tracing and metrics.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Insecure    bool   `json:"insecure"`
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
	// SampleRatio is the share of root traces that are sampled, all of them when zero
	SampleRatio float64 `json:"sample_ratio"`
	// MetricInterval is the metrics export interval, the SDK default when empty
	MetricInterval string `json:"metric_interval"`
	// Attributes are added to the resource of every span and metric
	Attributes map[string]string `json:"attributes"`
}

// InitTelemetry installs the OTLP trace and meter providers. The returned
// function flushes and shuts them down; it is a no-op when telemetry is
// disabled.
func InitTelemetry(ctx context.Context, cfg TelemetryConfig) (func(context.Context) error, error) {
	if endpoint := os.Getenv("ORCHESTRATOR_OTEL_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if !cfg.Enabled || cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := telemetryResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sampler, err := telemetrySampler(cfg.SampleRatio)
	if err != nil {
		return nil, err
	}
	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.MetricInterval != "" {
		interval, err := time.ParseDuration(cfg.MetricInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid telemetry metric interval: %w", err)
		}
		readerOpts = append(readerOpts, sdkmetric.WithInterval(interval))
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.WithError(err).Error("telemetry error")
	}))

	var shutdown telemetryShutdown

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}
	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, err
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	shutdown.add(tracerProvider.ForceFlush, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, errors.Join(err, shutdown.run(ctx))
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, readerOpts...)),
	)
	shutdown.add(meterProvider.ForceFlush, meterProvider.Shutdown)
	otel.SetMeterProvider(meterProvider)

	return shutdown.run, nil
}

type telemetryShutdown []func(context.Context) error

func (s *telemetryShutdown) add(fns ...func(context.Context) error) {
	*s = append(*s, fns...)
}

// run calls every registered function once and joins their errors.
func (s *telemetryShutdown) run(ctx context.Context) error {
	var err error
	for _, fn := range *s {
		err = errors.Join(err, fn(ctx))
	}
	*s = nil
	return err
}

func telemetryResource(ctx context.Context, cfg TelemetryConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = defaultTelemetryServiceName
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(Version),
	}
	keys := make([]string, 0, len(cfg.Attributes))
	for k := range cfg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, cfg.Attributes[k]))
	}
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
}

// telemetrySampler follows the sampling decision of the parent span. Root
// spans are sampled according to ratio.
func telemetrySampler(ratio float64) (sdktrace.Sampler, error) {
	var root sdktrace.Sampler
	switch {
	case ratio < 0 || ratio > 1:
		return nil, fmt.Errorf("invalid telemetry sample ratio %v", ratio)
	case ratio == 0 || ratio == 1:
		root = sdktrace.AlwaysSample()
	default:
		root = sdktrace.TraceIDRatioBased(ratio)
	}
	return sdktrace.ParentBased(root), nil
}

// orchestratorMeters are the OpenTelemetry instruments of the composition
// and the query dispatch. They are created on the global meter provider and
// do nothing until telemetry is initialised.
type orchestratorMeters struct {
	compositions        metric.Int64Counter
	compositionDuration metric.Float64Histogram
	droppedServices     metric.Int64Counter
	downstreamCalls     metric.Int64Counter
	resolverBatchSize   metric.Int64Histogram
}

var meters = newOrchestratorMeters(otel.Meter(instrumentationName))

func newOrchestratorMeters(m metric.Meter) *orchestratorMeters {
	var res orchestratorMeters
	var errs [5]error
	res.compositions, errs[0] = m.Int64Counter("orchestrator.composition.count",
		metric.WithDescription("Number of schema compositions, by outcome"))
	res.compositionDuration, errs[1] = m.Float64Histogram("orchestrator.composition.duration",
		metric.WithDescription("Duration of the schema composition"),
		metric.WithUnit("s"))
	res.droppedServices, errs[2] = m.Int64Counter("orchestrator.composition.skipped_services",
		metric.WithDescription("Number of services left out of a composition"))
	res.downstreamCalls, errs[3] = m.Int64Counter("orchestrator.downstream.calls",
		metric.WithDescription("Number of calls made to downstream services, by service and outcome"))
	res.resolverBatchSize, errs[4] = m.Int64Histogram("orchestrator.resolver.batch_size",
		metric.WithDescription("Number of distinct argument sets sent in a @resolver document"))
	if err := errors.Join(errs[:]...); err != nil {
		otel.Handle(err)
	}
	return &res
}

func (m *orchestratorMeters) recordComposition(ctx context.Context, start time.Time, skipped, dropped int, failed bool) {
	outcome := "complete"
	switch {
	case failed:
		outcome = "failed"
	case skipped > 0 || dropped > 0:
		outcome = "partial"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.compositions.Add(ctx, 1, attrs)
	m.compositionDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if skipped > 0 {
		m.droppedServices.Add(ctx, int64(skipped))
	}
}

func (m *orchestratorMeters) recordDownstreamCall(ctx context.Context, service string, err error) {
	outcome := "ok"
	var callErr *DownstreamCallError
	switch {
	case errors.As(err, &callErr) && callErr.Timeout:
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	m.downstreamCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	))
}

func (m *orchestratorMeters) recordResolverBatch(ctx context.Context, coord FieldCoordinate, size int) {
	m.resolverBatchSize.Record(ctx, int64(size), metric.WithAttributes(attribute.String("field", coord.String())))
}
