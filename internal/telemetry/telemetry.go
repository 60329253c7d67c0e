package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers. The zero value is
// usable and records nothing.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	gatherer      promclient.Gatherer

	// RED Metrics (Rate, Errors, Duration) of the status server
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Transfer metrics
	transfersTotal   metric.Int64Counter
	transferAttempts metric.Int64Counter
	transferBytes    metric.Int64Counter
	transfersActive  metric.Int64UpDownCounter
	transferDuration metric.Float64Histogram

	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, pushes metrics to an OTLP gRPC collector in
	// addition to the Prometheus endpoint.
	OTLPEndpoint string
	// Registry overrides the Prometheus registry; nil uses the default one.
	Registry *promclient.Registry
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	var (
		registerer promclient.Registerer = promclient.DefaultRegisterer
		gatherer   promclient.Gatherer   = promclient.DefaultGatherer
	)

	if cfg.Registry != nil {
		registerer, gatherer = cfg.Registry, cfg.Registry
	}

	exporter, err := prometheus.New(prometheus.WithRegisterer(registerer))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)

	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         meterProvider.Meter(cfg.ServiceName),
		gatherer:      gatherer,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordTransfer records the terminal outcome of one transfer. kind is empty
// for successful transfers.
func (t *Telemetry) RecordTransfer(status, kind string, bytes int64, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("kind", kind),
	)

	if t.transfersTotal != nil {
		t.transfersTotal.Add(context.Background(), 1, attrs)
	}

	if t.transferBytes != nil && bytes > 0 {
		t.transferBytes.Add(context.Background(), bytes)
	}

	if t.transferDuration != nil {
		t.transferDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(attribute.String("status", status)))
	}
}

// RecordAttempt counts one executor attempt.
func (t *Telemetry) RecordAttempt(status string) {
	if t.transferAttempts != nil {
		t.transferAttempts.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)))
	}
}

// IncrementActiveTransfers increments active transfers counter.
func (t *Telemetry) IncrementActiveTransfers() {
	if t.transfersActive != nil {
		t.transfersActive.Add(context.Background(), 1)
	}
}

// DecrementActiveTransfers decrements active transfers counter.
func (t *Telemetry) DecrementActiveTransfers() {
	if t.transfersActive != nil {
		t.transfersActive.Add(context.Background(), -1)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.gatherer == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{})
}

// Shutdown flushes pending exports and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	var errs []error

	counter := func(name, desc string) metric.Int64Counter {
		c, err := t.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("1"))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to create %s counter: %w", name, err))
		}

		return c
	}

	upDown := func(name, desc string) metric.Int64UpDownCounter {
		c, err := t.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit("1"))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to create %s counter: %w", name, err))
		}

		return c
	}

	seconds := func(name, desc string) metric.Float64Histogram {
		h, err := t.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to create %s histogram: %w", name, err))
		}

		return h
	}

	t.httpRequestsTotal = counter("http_requests_total", "Total number of HTTP requests")
	t.httpRequestDuration = seconds("http_request_duration_seconds", "HTTP request duration in seconds")
	t.httpRequestsInFlight = upDown("http_requests_in_flight", "Number of HTTP requests currently being processed")

	t.transfersTotal = counter("transfers_total", "Total number of finished transfers")
	t.transferAttempts = counter("transfer_attempts_total", "Total number of transfer attempts")
	t.transfersActive = upDown("transfers_active", "Number of transfers in progress")
	t.transferDuration = seconds("transfer_duration_seconds", "Transfer duration in seconds, retries included")

	bytes, err := t.meter.Int64Counter("transfer_bytes_total",
		metric.WithDescription("Bytes received over the network"),
		metric.WithUnit("By"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to create transfer_bytes_total counter: %w", err))
	}

	t.transferBytes = bytes

	t.dbOperationsTotal = counter("db_operations_total", "Total number of database operations")
	t.dbOperationDuration = seconds("db_operation_duration_seconds", "Database operation duration in seconds")

	return errors.Join(errs...)
}
