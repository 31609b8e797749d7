// Benchmark tool for measuring the contract analyzer against a labeled corpus.
//
// Usage:
//
//	go run cmd/benchmark/main.go -csv /path/to/labels.csv
//
// The CSV has two columns, path and expected_level (high, medium or low).
// Relative paths are resolved against the CSV's directory.
//
// This tool:
//  1. Reads the labeled contract files (PDF, DOCX, DOC or plain text)
//  2. Extracts and analyzes each file in-process with N workers
//  3. Compares the overall risk level with the label
//  4. Prints accuracy, a level confusion matrix and throughput
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/conrisk/internal/analysis"
	"github.com/opensource-finance/conrisk/internal/domain"
	"github.com/opensource-finance/conrisk/internal/extract"
	"github.com/opensource-finance/conrisk/internal/summary"
)

// Sample is one labeled contract file.
type Sample struct {
	Path     string
	Expected domain.RiskLevel
}

// levels is the row and column order of the confusion matrix.
var levels = []domain.RiskLevel{domain.RiskHigh, domain.RiskMedium, domain.RiskLow}

// Metrics tracks benchmark results
type Metrics struct {
	// Confusion[actual][predicted], indexed by levelIndex
	Confusion [3][3]int64

	TotalProcessed int64
	TotalErrors    int64
	TotalFindings  int64
	TotalKeyDates  int64
	TotalBytes     int64

	ProcessingTimeMs int64
}

func levelIndex(l domain.RiskLevel) int {
	for i, lv := range levels {
		if lv == l {
			return i
		}
	}
	return len(levels) - 1
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to the labels CSV (path,expected_level)")
	limit := flag.Int("limit", 0, "Maximum files to process (0 = all)")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	maxSize := flag.Int64("max-size", 10*1024*1024, "Skip files larger than this many bytes")
	verbose := flag.Bool("verbose", false, "Print each file result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labels.csv [-workers 4]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          CONRISK BENCHMARK - Contract Risk Analysis           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	engine, err := analysis.NewEngine(analysis.Options{})
	if err != nil {
		fmt.Printf("ERROR: Failed to build analysis engine: %v\n", err)
		os.Exit(1)
	}

	samples, err := readLabels(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(samples) == 0 {
		fmt.Println("ERROR: No labeled files found")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d labeled files\n", len(samples))

	counts := make(map[domain.RiskLevel]int)
	for _, s := range samples {
		counts[s.Expected]++
	}
	for _, l := range levels {
		fmt.Printf("  - %-7s %d (%.2f%%)\n", l+":", counts[l], 100*float64(counts[l])/float64(len(samples)))
	}

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(engine, samples, *workers, *maxSize, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func readLabels(path string, limit int) ([]Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	base := filepath.Dir(path)
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var samples []Sample
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(record) < 2 {
			continue // Skip malformed rows
		}

		p := strings.TrimSpace(record[0])
		level := domain.RiskLevel(strings.ToLower(strings.TrimSpace(record[1])))
		if level.Rank() == 0 {
			continue // Header or unknown label
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}

		samples = append(samples, Sample{Path: p, Expected: level})
		if limit > 0 && len(samples) >= limit {
			break
		}
	}

	return samples, nil
}

func runBenchmark(engine *analysis.Engine, samples []Sample, numWorkers int, maxSize int64, verbose bool) *Metrics {
	metrics := &Metrics{}
	processor := summary.NewProcessor(domain.RiskHigh)

	if numWorkers <= 0 {
		numWorkers = 1
	}

	// Create work channel
	work := make(chan Sample, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for s := range work {
				start := time.Now()
				result, size, err := analyzeFile(engine, s.Path, maxSize)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", s.Path, err)
					}
					continue
				}

				atomic.AddInt64(&metrics.TotalBytes, size)
				atomic.AddInt64(&metrics.TotalFindings, int64(len(result.Risks)))
				atomic.AddInt64(&metrics.TotalKeyDates, int64(len(result.KeyDates)))

				predicted := processor.Summarize(&summary.Input{Result: result}).OverallLevel
				atomic.AddInt64(&metrics.Confusion[levelIndex(s.Expected)][levelIndex(predicted)], 1)

				if verbose {
					status := "✓"
					if predicted != s.Expected {
						status = "✗"
					}
					fmt.Printf("%s %-40s | Expected: %-6s | Predicted: %-6s | Findings: %d | Dates: %d\n",
						status,
						filepath.Base(s.Path),
						s.Expected,
						predicted,
						len(result.Risks),
						len(result.KeyDates),
					)
				}
			}
		}()
	}

	// Send work
	for _, s := range samples {
		work <- s
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func analyzeFile(engine *analysis.Engine, path string, maxSize int64) (*domain.AnalysisResult, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	data, err := extract.ReadLimited(file, maxSize)
	if err != nil {
		return nil, 0, err
	}

	format := extract.Sniff(data, path)
	content, err := extract.Text(format, data)
	if err != nil {
		return nil, 0, err
	}

	result, err := engine.For(analysis.NewMemorySink()).Analyze(context.Background(), filepath.Base(path), content)
	if err != nil {
		return nil, 0, err
	}
	return result, int64(len(data)), nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	var correct, total int64
	for i := range levels {
		for j := range levels {
			total += m.Confusion[i][j]
			if i == j {
				correct += m.Confusion[i][j]
			}
		}
	}

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Analyzed:         %d\n", total)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Findings:         %d\n", m.TotalFindings)
	fmt.Printf("   Key Dates:        %d\n", m.TotalKeyDates)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                         Predicted")
	fmt.Println("                  high      medium     low")
	fmt.Println("              ┌──────────┬──────────┬──────────┐")
	for i, l := range levels {
		fmt.Printf("   %-9s  │ %8d │ %8d │ %8d │\n", l, m.Confusion[i][0], m.Confusion[i][1], m.Confusion[i][2])
		if i < len(levels)-1 {
			fmt.Println("              ├──────────┼──────────┼──────────┤")
		}
	}
	fmt.Println("              └──────────┴──────────┴──────────┘")

	accuracy := float64(0)
	if total > 0 {
		accuracy = float64(correct) / float64(total)
	}

	fmt.Printf("\n🎯 PER-LEVEL METRICS\n")
	for i, l := range levels {
		var predicted, actual int64
		for j := range levels {
			predicted += m.Confusion[j][i]
			actual += m.Confusion[i][j]
		}

		precision := float64(0)
		if predicted > 0 {
			precision = float64(m.Confusion[i][i]) / float64(predicted)
		}
		recall := float64(0)
		if actual > 0 {
			recall = float64(m.Confusion[i][i]) / float64(actual)
		}
		fmt.Printf("   %-7s precision %.4f  recall %.4f\n", l, precision, recall)
	}
	fmt.Printf("   Accuracy:  %.4f  (overall correct levels)\n", accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		fps := float64(m.TotalProcessed) / duration.Seconds()
		mbps := float64(m.TotalBytes) / (1 << 20) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f files/sec (%.2f MB/sec)\n", fps, mbps)
	}

	fmt.Println()
}
