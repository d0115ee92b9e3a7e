package bench

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dDB/cmd/util"
	"github.com/ValentinKolb/dDB/lib/common"
	"github.com/ValentinKolb/dDB/lib/database"
	"github.com/ValentinKolb/dDB/lib/docstore"
	"github.com/ValentinKolb/dDB/lib/index"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const benchPartition = "bench"

var (
	// BenchCmd runs index benchmarks against a fresh in-memory database
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for indexes",
		Long:    "Runs index benchmarks against a fresh in-memory database. The data-dir flag is ignored, all other database flags apply.",
		PreRunE: processBenchConfig,
		RunE:    run,
	}
	benchDocs    = 10_000
	benchKeys    = 1_000
	benchThreads = 10
	benchSkip    = make([]string, 0)
)

func init() {
	key := "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,rebuild)"))
	key = "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the read benchmarks"))
	key = "docs"
	BenchCmd.Flags().Int(key, 10_000, util.WrapString("Number of documents loaded before the read benchmarks"))
	key = "keys"
	BenchCmd.Flags().Int(key, 1_000, util.WrapString("How many different index keys the documents use"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	benchDocs = viper.GetInt("docs")
	benchKeys = max(viper.GetInt("keys"), 1)
	benchThreads = viper.GetInt("threads")
	benchSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	cfg := util.GetDatabaseConfig()
	cfg.DataDir = ""
	if err := common.InitLoggers(cfg); err != nil {
		return err
	}
	d, err := database.Open(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Println("Performance testing tool for indexes")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(cfg.String())
	fmt.Printf("Documents: %d, Keys: %d, Threads: %d\n", benchDocs, benchKeys, benchThreads)
	fmt.Println()

	ctx := context.Background()
	ix, _, err := d.CreateIndex(ctx, database.IndexDefinition{
		Name:       "bench",
		Type:       index.NotUnique,
		Field:      "n",
		Partitions: []string{benchPartition},
		Automatic:  true,
	}, nil)
	if err != nil {
		return err
	}

	docs := d.Documents()
	results := make(map[string]testing.BenchmarkResult)
	record := func(name string, fn func(b *testing.B)) {
		if shouldSkip(name) {
			results[name] = testing.BenchmarkResult{}
			printResult(name, results[name])
			return
		}
		results[name] = testing.Benchmark(fn)
		printResult(name, results[name])
	}

	fmt.Println("staring tests...")

	// each saved document goes through the automatic index
	record("put", func(b *testing.B) {
		for i := 0; b.Loop(); i++ {
			doc := docstore.NewDocument(map[string]any{"n": i % benchKeys})
			if err := docs.Save(benchPartition, doc); err != nil {
				b.Fatal(err)
			}
		}
	})

	// fill up to the requested number of documents
	if n, _ := docs.Count(benchPartition); n < int64(benchDocs) {
		for i := n; i < int64(benchDocs); i++ {
			if err := docs.Save(benchPartition, docstore.NewDocument(map[string]any{"n": i % int64(benchKeys)})); err != nil {
				return err
			}
		}
	}

	record("get", func(b *testing.B) {
		var counter atomic.Int64
		b.SetParallelism(benchThreads)
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				key := counter.Add(1) % int64(benchKeys)
				if _, err := ix.Get(key); err != nil {
					b.Error(err)
				}
			}
		})
	})

	record("range", func(b *testing.B) {
		var counter atomic.Int64
		width := max(int64(benchKeys)/100, 1)
		b.SetParallelism(benchThreads)
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				lo := counter.Add(1) % int64(benchKeys)
				if _, err := ix.GetBetween(lo, lo+width, true); err != nil {
					b.Error(err)
				}
			}
		})
	})

	record("update", func(b *testing.B) {
		var targets []*docstore.Document
		for ref, err := range docs.Browse(benchPartition) {
			if err != nil {
				b.Fatal(err)
			}
			if doc, ok := ref.(*docstore.Document); ok {
				targets = append(targets, doc)
			}
			if len(targets) == benchKeys {
				break
			}
		}
		b.ResetTimer()
		for i := 0; b.Loop(); i++ {
			doc := targets[i%len(targets)]
			doc.Set("n", (i+1)%benchKeys)
			if err := docs.Save(benchPartition, doc); err != nil {
				b.Fatal(err)
			}
		}
	})

	record("rebuild", func(b *testing.B) {
		for b.Loop() {
			if _, err := ix.Rebuild(ctx, nil); err != nil {
				b.Fatal(err)
			}
		}
	})

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, cfg); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	return slices.Contains(benchSkip, test)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, cfg common.DatabaseConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"PageSize", "MaxUpdatesBeforeSave", "Compression", "Shards",
		"Threads", "Documents", "Keys",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, test := range names {
		result := results[test]
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strconv.Itoa(cfg.PageSize),
			strconv.Itoa(cfg.MaxUpdatesBeforeSave),
			string(cfg.Compression),
			strconv.Itoa(cfg.Shards),
			strconv.Itoa(benchThreads),
			strconv.Itoa(benchDocs),
			strconv.Itoa(benchKeys),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}
