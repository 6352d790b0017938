// ABOUTME: Tests for telemetry provider creation against the real OpenTelemetry SDK
// ABOUTME: Validates disabled fallback, config validation and recording through stdout exporters

package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func testConfig(out *bytes.Buffer) Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporters = []string{ExporterStdout}
	cfg.Output = out
	cfg.BatchTimeout = 10 * time.Millisecond
	return cfg
}

func TestNewDisabledReturnsNoop(t *testing.T) {
	tel, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := tel.(*NoopTelemetry); !ok {
		t.Errorf("Expected *NoopTelemetry, got %T", tel)
	}
}

func TestNewWithDefaultConfig(t *testing.T) {
	tel, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("Unexpected error with default config: %v", err)
	}

	// Default config is disabled
	if _, ok := tel.(*NoopTelemetry); !ok {
		t.Errorf("Expected the default config to be disabled, got %T", tel)
	}
}

func TestProviderStdoutExport(t *testing.T) {
	var out bytes.Buffer

	tel, err := New(testConfig(&out))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	provider, ok := tel.(*TelemetryProvider)
	if !ok {
		t.Fatalf("Expected *TelemetryProvider, got %T", tel)
	}

	ctx := context.Background()
	ctx, span := tel.StartSpan(ctx, "journal.put", attribute.String(AttrStore, "demo"))
	tel.RecordHistogram(ctx, "jstore.journal.put.duration", 0.001, attribute.String(AttrPlacement, "exact"))
	tel.RecordHistogram(ctx, "jstore.journal.put.duration", 0.002, attribute.String(AttrPlacement, "append"))
	tel.RecordCounter(ctx, "jstore.journal.bytes", 8)
	span.End()

	if len(provider.histograms) != 1 || len(provider.counters) != 1 {
		t.Errorf("Expected instruments to be cached by name, got %d histograms, %d counters",
			len(provider.histograms), len(provider.counters))
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	output := out.String()
	for _, want := range []string{"journal.put", "jstore.journal.put.duration", "jstore.journal.bytes"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected exported data to mention %q", want)
		}
	}
}

func TestNewWithInvalidConfigs(t *testing.T) {
	invalidConfigs := []Config{
		{
			Enabled:     true,
			ServiceName: "", // Empty service name
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "", // Empty service version
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "1.0.0",
			SampleRate:     1.1, // Invalid sample rate
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "1.0.0",
			SampleRate:     1.0,
			Exporters:      []string{ExporterPrometheus},
			PrometheusPort: 0, // Invalid port
		},
	}

	for i, cfg := range invalidConfigs {
		t.Run(fmt.Sprintf("invalid_config_%d", i), func(t *testing.T) {
			tel, err := New(cfg)

			if err == nil {
				t.Error("Expected error for invalid config but got none")
			}
			if tel != nil {
				t.Error("Expected nil telemetry for invalid config but got instance")
			}
		})
	}
}
