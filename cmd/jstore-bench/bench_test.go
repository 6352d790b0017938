package main

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/KevoDB/jstore/pkg/common/log"
	"github.com/KevoDB/jstore/pkg/config"
	"github.com/KevoDB/jstore/pkg/store"
)

func TestBenchmarksRun(t *testing.T) {
	db, err := store.Open(t.TempDir(), store.WithLogger(log.NewDiscardLogger()))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	cfg := benchConfig{Keys: 200, ValueSize: 32, Duration: 20 * time.Millisecond, Seed: 1}

	for name, run := range benchmarks {
		s, err := db.CreateStore("bench-"+name, config.StorageMemory, 1)
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}

		result, err := run(s, cfg)
		if err != nil {
			t.Fatalf("%s benchmark failed: %v", name, err)
		}
		if result.Operations == 0 {
			t.Errorf("%s benchmark did no operations", name)
		}

		st := s.Stats()
		if name == "remove" && st.Records != cfg.Keys-result.Operations {
			t.Errorf("Expected %d records after remove, got %d", cfg.Keys-result.Operations, st.Records)
		}
		if !strings.Contains(describe(result, st), "Live Records") {
			t.Errorf("Description of %s is missing journal state", name)
		}
	}
}

func TestResultOutput(t *testing.T) {
	results := []BenchmarkResult{
		{BenchmarkType: "Read", NumKeys: 10, ValueSize: 8, Mode: "memory", Operations: 5, Throughput: 100, Latency: 10, HitRate: 50},
		{BenchmarkType: "Mixed", NumKeys: 10, ValueSize: 8, Mode: "memory", Operations: 5, Throughput: 1, Latency: 2000, ReadRatio: 70, WriteRatio: 30},
	}

	var buf bytes.Buffer
	if err := writeResultCSV(&buf, results); err != nil {
		t.Fatalf("Failed to write CSV: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected header and 2 rows, got %d", len(records))
	}
	if records[1][1] != "Read" || records[2][10] != "70.0" {
		t.Errorf("Unexpected CSV rows: %v", records[1:])
	}

	buf.Reset()
	printResultTable(&buf, results)
	out := buf.String()
	if !strings.Contains(out, "50.00%") || !strings.Contains(out, "R:70/W:30") || !strings.Contains(out, "2.00ms") {
		t.Errorf("Unexpected table:\n%s", out)
	}

	buf.Reset()
	printResultTable(&buf, nil)
	if !strings.Contains(buf.String(), "No results") {
		t.Errorf("Expected empty notice, got %q", buf.String())
	}
}
