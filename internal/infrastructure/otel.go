package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName    = "flashgate"
	ServiceVersion = "1.0.0"
	MeterName      = "flashgate"
)

// OTelConfig holds OpenTelemetry configuration.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout", "none"
	MetricExporter string // "prometheus", "none"
	SampleRatio    float64
}

// OTelProviders holds the initialized OpenTelemetry providers.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// DefaultOTelConfig returns the default OpenTelemetry configuration.
func DefaultOTelConfig() *OTelConfig {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	traces := "none"
	if env == "development" {
		traces = "stdout"
	}
	return &OTelConfig{
		ServiceName:    ServiceName,
		ServiceVersion: ServiceVersion,
		Environment:    env,
		TraceExporter:  traces,
		MetricExporter: "prometheus",
		SampleRatio:    1.0,
	}
}

// InitializeOTel initializes tracing and metrics per cfg. A nil cfg
// uses DefaultOTelConfig.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}
	ctx := context.Background()

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", GenerateTraceID()),
	)

	providers := &OTelProviders{Logger: logger}

	if err := initializeTracing(cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := initializeMetrics(cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialized",
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.String("metric_exporter", cfg.MetricExporter))

	return providers, nil
}

func initializeTracing(cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		providers.Tracer = otel.Tracer(MeterName)
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)
	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	otel.SetTracerProvider(tp)
	return nil
}

func initializeMetrics(cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.MetricExporter {
	case "prometheus":
		// A dedicated registry keeps repeated initialization (tests,
		// embedded use) away from the global default registerer.
		registry := promclient.NewRegistry()
		exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
		otel.SetMeterProvider(mp)
	case "none":
		providers.Meter = otel.Meter(MeterName)
	default:
		return fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}
	return nil
}

// Shutdown flushes and stops the providers.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BusinessMetrics groups the application-specific instruments.
type BusinessMetrics struct {
	ValidationAttempts metric.Int64Counter
	ValidationSuccess  metric.Int64Counter
	ValidationRejected metric.Int64Counter
	TokensIssued       metric.Int64Counter
	DownloadsTotal     metric.Int64Counter
	DownloadBytes      metric.Int64Counter
	DownloadsThrottled metric.Int64Counter
	OriginFetchSeconds metric.Float64Histogram
}

// CreateBusinessMetrics creates the application-specific instruments on
// meter.
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	validationAttempts, err := meter.Int64Counter(
		"license_validation_attempts_total",
		metric.WithDescription("Total number of license validation attempts"),
	)
	if err != nil {
		return nil, err
	}
	validationSuccess, err := meter.Int64Counter(
		"license_validation_success_total",
		metric.WithDescription("Total number of successful license validations"),
	)
	if err != nil {
		return nil, err
	}
	validationRejected, err := meter.Int64Counter(
		"license_validation_rejected_total",
		metric.WithDescription("Total number of rejected license validations"),
	)
	if err != nil {
		return nil, err
	}
	tokensIssued, err := meter.Int64Counter(
		"access_tokens_issued_total",
		metric.WithDescription("Total number of access tokens issued"),
	)
	if err != nil {
		return nil, err
	}
	downloadsTotal, err := meter.Int64Counter(
		"firmware_downloads_total",
		metric.WithDescription("Total number of firmware downloads served"),
	)
	if err != nil {
		return nil, err
	}
	downloadBytes, err := meter.Int64Counter(
		"firmware_download_bytes_total",
		metric.WithDescription("Total bytes of firmware served"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	downloadsThrottled, err := meter.Int64Counter(
		"firmware_downloads_throttled_total",
		metric.WithDescription("Total number of downloads rejected by the daily quota"),
	)
	if err != nil {
		return nil, err
	}
	originFetchSeconds, err := meter.Float64Histogram(
		"origin_fetch_duration_seconds",
		metric.WithDescription("Firmware origin fetch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &BusinessMetrics{
		ValidationAttempts: validationAttempts,
		ValidationSuccess:  validationSuccess,
		ValidationRejected: validationRejected,
		TokensIssued:       tokensIssued,
		DownloadsTotal:     downloadsTotal,
		DownloadBytes:      downloadBytes,
		DownloadsThrottled: downloadsThrottled,
		OriginFetchSeconds: originFetchSeconds,
	}, nil
}
