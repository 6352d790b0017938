package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/KevoDB/jstore/pkg/journal"
	"github.com/KevoDB/jstore/pkg/store"
)

// BenchmarkResult stores the results of a benchmark
type BenchmarkResult struct {
	BenchmarkType string
	NumKeys       int
	ValueSize     int
	Mode          string
	Operations    int
	Duration      float64
	Throughput    float64
	Latency       float64
	HitRate       float64 // For read benchmarks
	ReadRatio     float64 // For mixed benchmarks
	WriteRatio    float64 // For mixed benchmarks
	Timestamp     time.Time
}

var csvHeader = []string{
	"Timestamp", "BenchmarkType", "NumKeys", "ValueSize", "Mode",
	"Operations", "Duration", "Throughput", "Latency", "HitRate",
	"ReadRatio", "WriteRatio",
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// describe renders a result together with the journal state it left behind
func describe(r BenchmarkResult, st journal.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s Benchmark Results:", r.BenchmarkType)
	fmt.Fprintf(&b, "\n  Storage: %s", r.Mode)
	fmt.Fprintf(&b, "\n  Operations: %d", r.Operations)
	fmt.Fprintf(&b, "\n  Time: %.2f seconds", r.Duration)
	fmt.Fprintf(&b, "\n  Throughput: %.2f ops/sec", r.Throughput)
	fmt.Fprintf(&b, "\n  Latency: %.3f µs/op", r.Latency)
	if r.BenchmarkType == "Read" {
		fmt.Fprintf(&b, "\n  Hit Rate: %.2f%%", r.HitRate)
	}
	fmt.Fprintf(&b, "\n  Live Records: %d", st.Records)
	fmt.Fprintf(&b, "\n  Journal End: %d of %d bytes", st.End, st.Capacity)
	fmt.Fprintf(&b, "\n  Free Space: %d bytes in %d blocks", st.FreeBytes, st.FreeBlocks)
	return b.String()
}

// SaveResultCSV saves benchmark results to a CSV file
func SaveResultCSV(results []BenchmarkResult, filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return writeResultCSV(file, results)
}

func writeResultCSV(w io.Writer, results []BenchmarkResult) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range results {
		record := []string{
			r.Timestamp.Format(time.RFC3339),
			r.BenchmarkType,
			strconv.Itoa(r.NumKeys),
			strconv.Itoa(r.ValueSize),
			r.Mode,
			strconv.Itoa(r.Operations),
			fmt.Sprintf("%.2f", r.Duration),
			fmt.Sprintf("%.2f", r.Throughput),
			fmt.Sprintf("%.3f", r.Latency),
			fmt.Sprintf("%.2f", r.HitRate),
			fmt.Sprintf("%.1f", r.ReadRatio),
			fmt.Sprintf("%.1f", r.WriteRatio),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// PrintResultTable prints a formatted table of benchmark results
func PrintResultTable(results []BenchmarkResult) {
	printResultTable(os.Stdout, results)
}

func printResultTable(w io.Writer, results []BenchmarkResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results to display")
		return
	}

	fmt.Fprintln(w, "+-----------------+--------+---------+------------+----------+----------+")
	fmt.Fprintln(w, "| Benchmark Type  | Keys   | ValSize | Throughput | Latency  | Hit Rate |")
	fmt.Fprintln(w, "+-----------------+--------+---------+------------+----------+----------+")

	for _, r := range results {
		hitRateStr := "-"
		if r.BenchmarkType == "Read" {
			hitRateStr = fmt.Sprintf("%.2f%%", r.HitRate)
		} else if r.BenchmarkType == "Mixed" {
			hitRateStr = fmt.Sprintf("R:%.0f/W:%.0f", r.ReadRatio, r.WriteRatio)
		}

		latencyUnit := "µs"
		latency := r.Latency
		if latency > 1000 {
			latencyUnit = "ms"
			latency /= 1000
		}

		fmt.Fprintf(w, "| %-15s | %6d | %7d | %10.2f | %6.2f%s | %8s |\n",
			r.BenchmarkType,
			r.NumKeys,
			r.ValueSize,
			r.Throughput,
			latency, latencyUnit,
			hitRateStr)
	}
	fmt.Fprintln(w, "+-----------------+--------+---------+------------+----------+----------+")
}
