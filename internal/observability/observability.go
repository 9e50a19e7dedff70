package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls observability initialisation.
type Config struct {
	Enabled        bool
	ServiceName    string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	OTLPInsecure   bool
	MetricsAddress string
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

var (
	initOnce sync.Once

	crawlTracer trace.Tracer

	pageDuration metric.Float64Histogram
	pageTotal    metric.Int64Counter
	pageRetries  metric.Int64Counter
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false the function is a no-op.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "huntsman"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracehttp.Option{
			getOTLPEndpointOption(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}

		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			// Log error but don't fail app startup - observability is optional
			fmt.Printf("WARN: Failed to create OTLP trace exporter (traces disabled): %v\n", err)
			fmt.Printf("WARN: Endpoint: %s\n", cfg.OTLPEndpoint)
			// Continue without tracing - app should still function
		} else {
			spanExporter = exp
			fmt.Printf("INFO: OTLP trace exporter initialised successfully for endpoint: %s\n", cfg.OTLPEndpoint)
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	promExporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx) // best-effort cleanup
		return nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	initOnce.Do(func() {
		crawlTracer = tracerProvider.Tracer("huntsman/crawler")
		_ = initCrawlInstruments(meterProvider)
	})

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var allErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("trace provider shutdown: %w", err))
		}
		return allErr
	}

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Propagator:     prop,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:       shutdown,
		Config:         cfg,
	}, nil
}

func getOTLPEndpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// WrapTransport applies OpenTelemetry instrumentation to the driver's HTTP
// transport when the providers are active, so every page fetch becomes a
// client span.
func WrapTransport(base http.RoundTripper, prov *Providers) http.RoundTripper {
	if prov == nil || prov.TracerProvider == nil {
		return base
	}

	options := []otelhttp.Option{
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithMeterProvider(prov.MeterProvider),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Host)
		}),
	}

	return otelhttp.NewTransport(base, options...)
}

func initCrawlInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter("huntsman/crawler")

	var err error
	pageDuration, err = meter.Float64Histogram(
		"huntsman.page.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken to fetch and settle a page"),
	)
	if err != nil {
		return err
	}

	pageTotal, err = meter.Int64Counter(
		"huntsman.page.total",
		metric.WithDescription("Counts page outcomes processed by the crawl"),
	)
	if err != nil {
		return err
	}

	pageRetries, err = meter.Int64Counter(
		"huntsman.page.retries.total",
		metric.WithDescription("Counts navigation retries spent across the crawl"),
	)
	return err
}

// CrawlSpanInfo describes the attributes used when starting a crawl span.
type CrawlSpanInfo struct {
	RunID    string
	BaseURL  string
	MaxPages int
	MaxDepth int
}

// PageMetrics describes one finished page fetch for metric recording.
type PageMetrics struct {
	RunID    string
	Status   int
	Depth    int
	Retries  int
	Duration time.Duration
}

// StartCrawlSpan starts a span covering a whole crawl run.
func StartCrawlSpan(ctx context.Context, info CrawlSpanInfo) (context.Context, trace.Span) {
	t := crawlTracer
	if t == nil {
		t = otel.Tracer("huntsman/crawler")
	}

	attrs := []attribute.KeyValue{
		attribute.String("crawl.run_id", info.RunID),
		attribute.String("crawl.base_url", info.BaseURL),
		attribute.Int("crawl.max_pages", info.MaxPages),
		attribute.Int("crawl.max_depth", info.MaxDepth),
	}

	return t.Start(ctx, "crawler.crawl_site", trace.WithAttributes(attrs...))
}

// RecordPage emits page fetch metrics when instrumentation is initialised.
func RecordPage(ctx context.Context, metrics PageMetrics) {
	attrs := metric.WithAttributes(
		attribute.String("run.id", metrics.RunID),
		attribute.String("page.status", statusClass(metrics.Status)),
		attribute.Int("page.depth", metrics.Depth),
	)

	if pageDuration != nil && metrics.Status > 0 {
		pageDuration.Record(ctx, float64(metrics.Duration.Milliseconds()), attrs)
	}

	if pageTotal != nil {
		pageTotal.Add(ctx, 1, attrs)
	}

	if pageRetries != nil && metrics.Retries > 0 {
		pageRetries.Add(ctx, int64(metrics.Retries), attrs)
	}
}

// statusClass buckets a status code for metric labels, keeping cardinality low.
func statusClass(status int) string {
	if status <= 0 {
		return "failed"
	}
	return fmt.Sprintf("%dxx", status/100)
}
