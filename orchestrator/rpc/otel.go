package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// OTelConfig selects the telemetry signals and where they go. Saga spans
// and counters are recorded against the global providers set up here.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	EnableTracing bool
	UseOTLPTraces bool
	OTLPTracesURL string

	EnableMetrics  bool
	UsePrometheus  bool // saga counters show up on /server/metrics
	UseOTLPMetrics bool
	OTLPMetricsURL string

	EnableLogs  bool
	UseOTLPLogs bool
	OTLPLogsURL string

	// InsecureOTLP allows plain HTTP to the collector. Local use only.
	InsecureOTLP       bool
	OTLPClientCertFile string
	OTLPClientKeyFile  string
	OTLPCACertFile     string

	// DevelopmentMode writes telemetry to stdout instead of a collector.
	DevelopmentMode bool
}

// DefaultOTelConfig exposes saga metrics to Prometheus and nothing else.
func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		ServiceName:    "wrap-and-send",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		EnableMetrics:  true,
		UsePrometheus:  true,
		OTLPTracesURL:  "localhost:4318",
		OTLPMetricsURL: "localhost:4318",
		OTLPLogsURL:    "localhost:4318",
	}
}

func (c *OTelConfig) enabled() bool {
	return c != nil && (c.EnableTracing || c.EnableMetrics || c.EnableLogs)
}

// collector is the connection shared by every OTLP exporter.
type collector struct {
	insecure bool
	tls      *tls.Config
}

func newCollector(c *OTelConfig) (collector, error) {
	if c.InsecureOTLP {
		return collector{insecure: true}, nil
	}
	if c.OTLPCACertFile == "" && c.OTLPClientCertFile == "" {
		return collector{}, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.OTLPCACertFile != "" {
		pem, err := os.ReadFile(c.OTLPCACertFile)
		if err != nil {
			return collector{}, fmt.Errorf("read collector CA: %w", err)
		}
		cfg.RootCAs = x509.NewCertPool()
		if !cfg.RootCAs.AppendCertsFromPEM(pem) {
			return collector{}, fmt.Errorf("no certificates in %s", c.OTLPCACertFile)
		}
	}
	if c.OTLPClientCertFile != "" && c.OTLPClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.OTLPClientCertFile, c.OTLPClientKeyFile)
		if err != nil {
			return collector{}, fmt.Errorf("load collector client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return collector{tls: cfg}, nil
}

// NewOTelSDK installs the global tracer, meter and logger providers for the
// enabled signals. The returned function flushes and stops them.
func NewOTelSDK(ctx context.Context, config *OTelConfig) (func(context.Context) error, error) {
	if config == nil {
		config = DefaultOTelConfig()
	}

	var stops []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for i := len(stops) - 1; i >= 0; i-- {
			err = errors.Join(err, stops[i](ctx))
		}
		stops = nil
		return err
	}
	fail := func(err error) (func(context.Context) error, error) {
		return nil, errors.Join(err, shutdown(ctx))
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironmentName(config.Environment),
	))
	if err != nil {
		return fail(fmt.Errorf("otel resource: %w", err))
	}
	col, err := newCollector(config)
	if err != nil {
		return fail(err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if config.EnableTracing {
		exp, err := spanExporter(ctx, config, col)
		if err != nil {
			return fail(fmt.Errorf("trace exporter: %w", err))
		}
		opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
		if exp != nil {
			opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		stops = append(stops, tp.Shutdown)
		otel.SetTracerProvider(tp)
	}

	if config.EnableMetrics {
		readers, err := metricReaders(ctx, config, col)
		if err != nil {
			return fail(fmt.Errorf("metric reader: %w", err))
		}
		opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
		for _, r := range readers {
			opts = append(opts, sdkmetric.WithReader(r))
		}
		mp := sdkmetric.NewMeterProvider(opts...)
		stops = append(stops, mp.Shutdown)
		otel.SetMeterProvider(mp)
	}

	if config.EnableLogs {
		exp, err := logExporter(ctx, config, col)
		if err != nil {
			return fail(fmt.Errorf("log exporter: %w", err))
		}
		opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
		if exp != nil {
			opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)))
		}
		lp := sdklog.NewLoggerProvider(opts...)
		stops = append(stops, lp.Shutdown)
		global.SetLoggerProvider(lp)
	}

	Logger.Info().
		Str("service", config.ServiceName).
		Bool("tracing", config.EnableTracing).
		Bool("metrics", config.EnableMetrics).
		Bool("logs", config.EnableLogs).
		Bool("stdout", config.DevelopmentMode).
		Msg("OpenTelemetry initialized")
	return shutdown, nil
}

// spanExporter returns nil when spans are only kept in process.
func spanExporter(ctx context.Context, c *OTelConfig, col collector) (sdktrace.SpanExporter, error) {
	switch {
	case c.DevelopmentMode:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case c.UseOTLPTraces:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.OTLPTracesURL)}
		if col.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		} else if col.tls != nil {
			opts = append(opts, otlptracehttp.WithTLSClientConfig(col.tls))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	return nil, nil
}

// metricReaders returns the pull reader for /server/metrics and a periodic
// push reader, each when enabled.
func metricReaders(ctx context.Context, c *OTelConfig, col collector) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader
	if c.UsePrometheus {
		// registers with the default registry that promhttp serves
		exp, err := prometheus.New()
		if err != nil {
			return nil, err
		}
		readers = append(readers, exp)
	}
	if !c.UseOTLPMetrics {
		return readers, nil
	}

	var exp sdkmetric.Exporter
	var err error
	interval := time.Minute
	if c.DevelopmentMode {
		exp, err = stdoutmetric.New()
		interval = 10 * time.Second
	} else {
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(c.OTLPMetricsURL)}
		if col.insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		} else if col.tls != nil {
			opts = append(opts, otlpmetrichttp.WithTLSClientConfig(col.tls))
		}
		exp, err = otlpmetrichttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, err
	}
	return append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))), nil
}

// logExporter returns nil when log records are dropped.
func logExporter(ctx context.Context, c *OTelConfig, col collector) (sdklog.Exporter, error) {
	switch {
	case c.DevelopmentMode:
		return stdoutlog.New()
	case c.UseOTLPLogs:
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(c.OTLPLogsURL)}
		if col.insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		} else if col.tls != nil {
			opts = append(opts, otlploghttp.WithTLSClientConfig(col.tls))
		}
		return otlploghttp.New(ctx, opts...)
	}
	return nil, nil
}
