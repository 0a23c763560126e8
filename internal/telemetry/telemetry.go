package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers. A nil *Telemetry
// and the zero value are both valid and record nothing.
type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business Metrics
	transfersTotal      metric.Int64Counter
	transfersActive     metric.Int64UpDownCounter
	transferDuration    metric.Float64Histogram
	transferBytes       metric.Int64Counter
	decryptDuration     metric.Float64Histogram
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint enables a periodic OTLP/gRPC metric push when set.
	OTLPEndpoint string
	OTLPInsecure bool
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		expOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			expOpts = append(expOpts, otlpmetricgrpc.WithInsecure())
		}

		otlpExporter, err := otlpmetricgrpc.New(ctx, expOpts...)
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
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("")
	}

	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordTransfer records the terminal status of one transfer.
func (t *Telemetry) RecordTransfer(mode, status, kind string, duration time.Duration) {
	if t == nil || t.transfersTotal == nil {
		return
	}

	t.transfersTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
			attribute.String("kind", kind),
		),
	)

	t.transferDuration.Record(context.Background(), duration.Seconds(),
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordTransferBytes counts bytes received from the network.
func (t *Telemetry) RecordTransferBytes(mode string, n int64) {
	if t == nil || t.transferBytes == nil || n <= 0 {
		return
	}

	t.transferBytes.Add(context.Background(), n, metric.WithAttributes(attribute.String("mode", mode)))
}

// IncrementActiveTransfers increments active transfers counter.
func (t *Telemetry) IncrementActiveTransfers() {
	if t != nil && t.transfersActive != nil {
		t.transfersActive.Add(context.Background(), 1)
	}
}

// DecrementActiveTransfers decrements active transfers counter.
func (t *Telemetry) DecrementActiveTransfers() {
	if t != nil && t.transfersActive != nil {
		t.transfersActive.Add(context.Background(), -1)
	}
}

// RecordDecrypt records a post-transfer decryption pass.
func (t *Telemetry) RecordDecrypt(status string, duration time.Duration) {
	if t == nil || t.decryptDuration == nil {
		return
	}

	t.decryptDuration.Record(context.Background(), duration.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil || t.dbOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	return t.meterProvider.Shutdown(ctx)
}

func (t *Telemetry) initializeMetrics() error {
	var errs []error

	counter := func(name, desc string) metric.Int64Counter {
		c, err := t.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("1"))
		errs = append(errs, err)

		return c
	}

	upDown := func(name, desc string) metric.Int64UpDownCounter {
		c, err := t.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit("1"))
		errs = append(errs, err)

		return c
	}

	seconds := func(name, desc string) metric.Float64Histogram {
		h, err := t.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		errs = append(errs, err)

		return h
	}

	t.httpRequestsTotal = counter("http_requests_total", "Total number of HTTP requests")
	t.httpRequestDuration = seconds("http_request_duration_seconds", "HTTP request duration in seconds")
	t.httpRequestsInFlight = upDown("http_requests_in_flight", "Number of HTTP requests currently being processed")

	t.transfersTotal = counter("transfers_total", "Total number of finished transfers")
	t.transfersActive = upDown("transfers_active", "Number of transfers in progress")
	t.transferDuration = seconds("transfer_duration_seconds", "Transfer duration in seconds")
	t.decryptDuration = seconds("decrypt_duration_seconds", "Post-transfer decryption duration in seconds")
	t.dbOperationsTotal = counter("db_operations_total", "Total number of database operations")
	t.dbOperationDuration = seconds("db_operation_duration_seconds", "Database operation duration in seconds")

	bytes, err := t.meter.Int64Counter("transfer_bytes_total",
		metric.WithDescription("Bytes received by transfers"),
		metric.WithUnit("By"),
	)
	errs = append(errs, err)
	t.transferBytes = bytes

	return errors.Join(errs...)
}
