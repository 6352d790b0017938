// ABOUTME: OpenTelemetry exporter factory for metric readers and span exporters (stdout, OTLP, Prometheus)
// ABOUTME: Translates Config exporter names into SDK readers and exporters

package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// metricReaders holds the readers of a meter provider and the optional
// Prometheus endpoint serving one of them
type metricReaders struct {
	readers []sdkmetric.Reader
	server  *http.Server
}

// createMetricReaders creates metric readers based on configuration.
func createMetricReaders(cfg Config) (*metricReaders, error) {
	result := &metricReaders{}

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case ExporterStdout:
			exporter, err := createStdoutMetricExporter(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
			}
			result.readers = append(result.readers,
				sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricInterval)))

		case ExporterPrometheus:
			reader, server, err := createPrometheusReader(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
			}
			result.readers = append(result.readers, reader)
			result.server = server

		default:
			// OTLP is only wired for traces
			continue
		}
	}

	return result, nil
}

// createTraceExporters creates span exporters based on configuration.
func createTraceExporters(cfg Config) ([]sdktrace.SpanExporter, error) {
	var exporters []sdktrace.SpanExporter

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case ExporterOTLP:
			exporter, err := createOTLPTraceExporter(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		case ExporterStdout:
			exporter, err := createStdoutTraceExporter(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		default:
			// Prometheus has no trace support
			continue
		}
	}

	return exporters, nil
}

// createPrometheusReader registers an exporter in a private registry and
// serves it on /metrics.
func createPrometheusReader(cfg Config) (sdkmetric.Reader, *http.Server, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	addr := net.JoinHostPort("", strconv.Itoa(cfg.PrometheusPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux}

	go server.Serve(listener)

	return exporter, server, nil
}

// createStdoutMetricExporter creates a stdout metrics exporter.
func createStdoutMetricExporter(cfg Config) (sdkmetric.Exporter, error) {
	return stdoutmetric.New(
		stdoutmetric.WithWriter(cfg.output()),
		stdoutmetric.WithPrettyPrint(),
	)
}

// createOTLPTraceExporter creates an OTLP/gRPC trace exporter. The connection is
// established lazily, so a missing collector does not fail startup.
func createOTLPTraceExporter(cfg Config) (sdktrace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ExportTimeout)
	defer cancel()

	return otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	)
}

// createStdoutTraceExporter creates a stdout trace exporter.
func createStdoutTraceExporter(cfg Config) (sdktrace.SpanExporter, error) {
	return stdouttrace.New(
		stdouttrace.WithWriter(cfg.output()),
		stdouttrace.WithPrettyPrint(),
	)
}
