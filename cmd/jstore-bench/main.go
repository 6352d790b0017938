package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/KevoDB/jstore/pkg/common/log"
	"github.com/KevoDB/jstore/pkg/config"
	"github.com/KevoDB/jstore/pkg/store"
)

const (
	defaultValueSize = 100
	defaultKeyCount  = 100000
	benchStore       = "bench"
)

var (
	// Command line flags
	benchmarkType = flag.String("type", "all", "Type of benchmark to run (write, overwrite, read, remove, mixed, or all)")
	duration      = flag.Duration("duration", 10*time.Second, "Duration to run the benchmark")
	numKeys       = flag.Int("keys", defaultKeyCount, "Number of keys to use")
	valueSize     = flag.Int("value-size", defaultValueSize, "Size of values in bytes")
	dataDir       = flag.String("data-dir", "./benchmark-data", "Directory to store benchmark data")
	storage       = flag.String("storage", string(config.StorageMemory), "Storage of the benchmark store (memory or persisted)")
	sizeMB        = flag.Int64("size", 16, "Initial size of the benchmark store in MB")
	cpuProfile    = flag.String("cpu-profile", "", "Write CPU profile to file")
	memProfile    = flag.String("mem-profile", "", "Write memory profile to file")
	resultsFile   = flag.String("results", "", "CSV file to write results to (in addition to stdout)")
)

// benchConfig describes a single benchmark run
type benchConfig struct {
	Keys      int
	ValueSize int
	Duration  time.Duration
	Seed      int64
}

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	// Remove any existing benchmark data before starting
	if _, err := os.Stat(*dataDir); err == nil {
		fmt.Println("Cleaning previous benchmark data...")
		if err := os.RemoveAll(*dataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clean benchmark directory: %v\n", err)
		}
	}

	db, err := store.Open(*dataDir, store.WithLogger(log.NewDiscardLogger()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg := benchConfig{
		Keys:      *numKeys,
		ValueSize: *valueSize,
		Duration:  *duration,
		Seed:      time.Now().UnixNano(),
	}

	types := strings.Split(*benchmarkType, ",")
	if len(types) == 1 && strings.EqualFold(types[0], "all") {
		types = []string{"write", "overwrite", "read", "remove", "mixed"}
	}

	var results []BenchmarkResult
	for _, typ := range types {
		run, ok := benchmarks[strings.ToLower(typ)]
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown benchmark type: %s\n", typ)
			os.Exit(1)
		}

		// Each benchmark starts from a fresh store
		s, err := freshStore(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create benchmark store: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Running %s benchmark...\n", typ)
		result, err := run(s, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s benchmark failed: %v\n", typ, err)
			os.Exit(1)
		}
		result.Mode = string(s.Storage())
		results = append(results, result)
		fmt.Println(describe(result, s.Stats()))
	}

	PrintResultTable(results)

	if *resultsFile != "" {
		if err := SaveResultCSV(results, *resultsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results to file: %v\n", err)
		}
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
		} else {
			defer f.Close()
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
			}
		}
	}
}

func freshStore(db *store.DB) (*store.Store, error) {
	if _, err := db.Store(benchStore); err == nil {
		if err := db.DeleteStore(benchStore); err != nil {
			return nil, err
		}
	}
	return db.CreateStore(benchStore, config.StorageKind(*storage), *sizeMB)
}

type benchmarkFunc func(s *store.Store, cfg benchConfig) (BenchmarkResult, error)

var benchmarks = map[string]benchmarkFunc{
	"write":     runWriteBenchmark,
	"overwrite": runOverwriteBenchmark,
	"read":      runReadBenchmark,
	"remove":    runRemoveBenchmark,
	"mixed":     runMixedBenchmark,
}

func generateKey(i int) string {
	return fmt.Sprintf("key-%010d", i)
}

func makeValue(size int) []byte {
	value := make([]byte, size)
	for i := range value {
		value[i] = byte(i % 256)
	}
	return value
}

// preload writes cfg.Keys values so read-side benchmarks find data
func preload(s *store.Store, cfg benchConfig) error {
	value := makeValue(cfg.ValueSize)
	for i := 0; i < cfg.Keys; i++ {
		if err := s.PutBytes(generateKey(i), value); err != nil {
			return fmt.Errorf("preload key #%d: %w", i, err)
		}
	}
	return nil
}

func finish(name string, cfg benchConfig, ops int, elapsed time.Duration) BenchmarkResult {
	r := BenchmarkResult{
		BenchmarkType: name,
		NumKeys:       cfg.Keys,
		ValueSize:     cfg.ValueSize,
		Operations:    ops,
		Duration:      elapsed.Seconds(),
		Timestamp:     time.Now(),
	}
	if ops > 0 && elapsed > 0 {
		r.Throughput = float64(ops) / elapsed.Seconds()
		r.Latency = 1000000.0 / r.Throughput
	}
	return r
}

// runWriteBenchmark appends fresh keys until the deadline or cfg.Keys writes
func runWriteBenchmark(s *store.Store, cfg benchConfig) (BenchmarkResult, error) {
	value := makeValue(cfg.ValueSize)
	start := time.Now()
	deadline := start.Add(cfg.Duration)

	var ops int
	for ops < cfg.Keys && time.Now().Before(deadline) {
		if err := s.PutBytes(generateKey(ops), value); err != nil {
			return BenchmarkResult{}, fmt.Errorf("write key #%d: %w", ops, err)
		}
		ops++
	}
	return finish("Write", cfg, ops, time.Since(start)), nil
}

// runOverwriteBenchmark rewrites random existing keys with values of varying
// size, which exercises slot reuse and splitting
func runOverwriteBenchmark(s *store.Store, cfg benchConfig) (BenchmarkResult, error) {
	if err := preload(s, cfg); err != nil {
		return BenchmarkResult{}, err
	}

	r := rand.New(rand.NewSource(cfg.Seed))
	values := [][]byte{makeValue(cfg.ValueSize / 2), makeValue(cfg.ValueSize), makeValue(cfg.ValueSize + 16)}

	start := time.Now()
	deadline := start.Add(cfg.Duration)

	var ops int
	for time.Now().Before(deadline) {
		key := generateKey(r.Intn(cfg.Keys))
		if err := s.PutBytes(key, values[r.Intn(len(values))]); err != nil {
			return BenchmarkResult{}, fmt.Errorf("overwrite %s: %w", key, err)
		}
		ops++
	}
	return finish("Overwrite", cfg, ops, time.Since(start)), nil
}

// runReadBenchmark reads random keys, half of which are missing
func runReadBenchmark(s *store.Store, cfg benchConfig) (BenchmarkResult, error) {
	if err := preload(s, cfg); err != nil {
		return BenchmarkResult{}, err
	}

	r := rand.New(rand.NewSource(cfg.Seed))
	start := time.Now()
	deadline := start.Add(cfg.Duration)

	var ops, hits int
	for time.Now().Before(deadline) {
		_, err := s.GetBytes(generateKey(r.Intn(cfg.Keys * 2)))
		switch {
		case err == nil:
			hits++
		case !isNotFound(err):
			return BenchmarkResult{}, err
		}
		ops++
	}

	result := finish("Read", cfg, ops, time.Since(start))
	if ops > 0 {
		result.HitRate = float64(hits) / float64(ops) * 100
	}
	return result, nil
}

// runRemoveBenchmark removes every preloaded key in random order
func runRemoveBenchmark(s *store.Store, cfg benchConfig) (BenchmarkResult, error) {
	if err := preload(s, cfg); err != nil {
		return BenchmarkResult{}, err
	}

	r := rand.New(rand.NewSource(cfg.Seed))
	order := r.Perm(cfg.Keys)

	start := time.Now()
	deadline := start.Add(cfg.Duration)

	var ops int
	for _, i := range order {
		if !time.Now().Before(deadline) {
			break
		}
		if _, err := s.Remove(generateKey(i)); err != nil {
			return BenchmarkResult{}, err
		}
		ops++
	}
	return finish("Remove", cfg, ops, time.Since(start)), nil
}

// runMixedBenchmark runs 70% reads and 30% writes over the key space
func runMixedBenchmark(s *store.Store, cfg benchConfig) (BenchmarkResult, error) {
	if err := preload(s, cfg); err != nil {
		return BenchmarkResult{}, err
	}

	const readRatio = 0.7
	r := rand.New(rand.NewSource(cfg.Seed))
	value := makeValue(cfg.ValueSize)

	start := time.Now()
	deadline := start.Add(cfg.Duration)

	var ops int
	for time.Now().Before(deadline) {
		key := generateKey(r.Intn(cfg.Keys))
		if r.Float64() < readRatio {
			if _, err := s.GetBytes(key); err != nil && !isNotFound(err) {
				return BenchmarkResult{}, err
			}
		} else if err := s.PutBytes(key, value); err != nil {
			return BenchmarkResult{}, err
		}
		ops++
	}

	result := finish("Mixed", cfg, ops, time.Since(start))
	result.ReadRatio = readRatio * 100
	result.WriteRatio = (1 - readRatio) * 100
	return result, nil
}
