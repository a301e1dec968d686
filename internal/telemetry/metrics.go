package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Metric names
const (
	MetricRecordsValid    = "indexaudit_records_valid_total"
	MetricRecordsInvalid  = "indexaudit_records_invalid_total"
	MetricDayFetches      = "indexaudit_day_fetches_total"
	MetricZeroShard       = "indexaudit_zero_shard_indexes_total"
	MetricReportsRendered = "indexaudit_reports_total"
	MetricRun             = "indexaudit_run"
)

// Config holds telemetry configuration
type Config struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// Telemetry manages OpenTelemetry instrumentation
type Telemetry struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry
	tracer         trace.Tracer
	meter          metric.Meter
	mu             sync.Mutex

	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(config Config) (*Telemetry, error) {
	if !config.Enabled {
		return &Telemetry{config: config}, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = "indexaudit"
	}

	t := &Telemetry{
		config:     config,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.initTracing(res); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if err := t.initMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// initTracing initializes OpenTelemetry tracing
func (t *Telemetry) initTracing(res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if t.config.JaegerEndpoint != "" {
		exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(t.config.JaegerEndpoint)))
		if err != nil {
			return fmt.Errorf("failed to create Jaeger exporter: %w", err)
		}
		sampleRate := t.config.SampleRate
		if sampleRate == 0 {
			sampleRate = 1.0
		}
		opts = append(opts,
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
		)
	}

	t.tracerProvider = sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(t.tracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.tracer = t.tracerProvider.Tracer(t.config.ServiceName)
	return nil
}

// initMetrics initializes OpenTelemetry metrics exported through Prometheus
func (t *Telemetry) initMetrics(res *resource.Resource) error {
	exporter, err := otelprom.New(otelprom.WithRegisterer(t.registry))
	if err != nil {
		return fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(t.meterProvider)

	t.meter = t.meterProvider.Meter(t.config.ServiceName)
	return nil
}

// Handler serves the collected metrics in Prometheus text format
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || !t.config.Enabled {
		return nil
	}

	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
	}

	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown meter provider: %w", err)
		}
	}

	return nil
}

// Enabled reports whether instrumentation is active
func (t *Telemetry) Enabled() bool {
	return t != nil && t.config.Enabled
}

// StartSpan starts a new span
func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !t.Enabled() || t.tracer == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name, opts...)
	}
	return t.tracer.Start(ctx, name, opts...)
}

// IncrementCounter increments a counter metric by one
func (t *Telemetry) IncrementCounter(ctx context.Context, name string, attrs ...attribute.KeyValue) error {
	return t.AddCounter(ctx, name, 1, attrs...)
}

// AddCounter adds delta to a counter metric
func (t *Telemetry) AddCounter(ctx context.Context, name string, delta int64, attrs ...attribute.KeyValue) error {
	if !t.Enabled() {
		return nil
	}

	t.mu.Lock()
	counter, exists := t.counters[name]
	if !exists {
		var err error
		counter, err = t.meter.Int64Counter(name)
		if err != nil {
			t.mu.Unlock()
			return fmt.Errorf("failed to create counter %s: %w", name, err)
		}
		t.counters[name] = counter
	}
	t.mu.Unlock()

	counter.Add(ctx, delta, metric.WithAttributes(attrs...))
	return nil
}

// RecordHistogram records a value in a histogram
func (t *Telemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) error {
	if !t.Enabled() {
		return nil
	}

	t.mu.Lock()
	histogram, exists := t.histograms[name]
	if !exists {
		var err error
		histogram, err = t.meter.Float64Histogram(name)
		if err != nil {
			t.mu.Unlock()
			return fmt.Errorf("failed to create histogram %s: %w", name, err)
		}
		t.histograms[name] = histogram
	}
	t.mu.Unlock()

	histogram.Record(ctx, value, metric.WithAttributes(attrs...))
	return nil
}

// RecordDuration records the duration of an operation
func (t *Telemetry) RecordDuration(ctx context.Context, name string, start time.Time, attrs ...attribute.KeyValue) error {
	return t.RecordHistogram(ctx, name+"_duration_seconds", time.Since(start).Seconds(), attrs...)
}

var globalTelemetry *Telemetry

// InitGlobalTelemetry initializes the global telemetry instance
func InitGlobalTelemetry(config Config) (*Telemetry, error) {
	tel, err := NewTelemetry(config)
	if err != nil {
		return nil, err
	}
	globalTelemetry = tel
	return tel, nil
}

// SetGlobalTelemetry replaces the global telemetry instance
func SetGlobalTelemetry(t *Telemetry) {
	globalTelemetry = t
}

// GetGlobalTelemetry returns the global telemetry instance
func GetGlobalTelemetry() *Telemetry {
	return globalTelemetry
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return globalTelemetry.StartSpan(ctx, name, opts...)
}

func IncrementCounter(ctx context.Context, name string, attrs ...attribute.KeyValue) error {
	return globalTelemetry.IncrementCounter(ctx, name, attrs...)
}

func AddCounter(ctx context.Context, name string, delta int64, attrs ...attribute.KeyValue) error {
	return globalTelemetry.AddCounter(ctx, name, delta, attrs...)
}

func RecordDuration(ctx context.Context, name string, start time.Time, attrs ...attribute.KeyValue) error {
	return globalTelemetry.RecordDuration(ctx, name, start, attrs...)
}
