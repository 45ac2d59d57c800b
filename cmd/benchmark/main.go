// Command benchmark measures prediction latency and throughput of a caries
// model over a directory of images.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/dentalogic/benchmark"
	"github.com/nvr-ai/dentalogic/config"
	"github.com/nvr-ai/dentalogic/inference"
	"github.com/nvr-ai/dentalogic/inference/detectors"
	"github.com/nvr-ai/dentalogic/logging"
	"github.com/nvr-ai/dentalogic/util"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML configuration file")
		modelPath  = flag.String("model", "", "Path to the ONNX model, overrides model.model_path")
		dir        = flag.String("dir", "", "Directory of test images")
		workers    = flag.Int("workers", runtime.NumCPU(), "Concurrent predictions")
		warmup     = flag.Int("warmup", 3, "Warm-up predictions before measuring")
		outputDir  = flag.String("output", "", "Write JSON and CSV results to this directory")
		timeout    = flag.Duration("timeout", 30*time.Minute, "Benchmark timeout")
	)
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "benchmark: test images directory is required (-dir)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, *configPath, *modelPath, *dir, *outputDir, *workers, *warmup); err != nil {
		fmt.Fprintf(os.Stderr, "benchmark: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, modelPath, dir, outputDir string, workers, warmup int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if modelPath != "" {
		cfg.Model.ModelPath = modelPath
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	files, err := util.LoadDirectoryImageFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("no images found in %s", dir)
	}

	d, err := detectors.Open(cfg.Model, detectors.WithLogger(logger))
	if err != nil {
		return err
	}
	defer inference.DestroyEnvironment()
	defer d.Close()

	metrics, err := benchmark.RunWithOptions(ctx, d, files, benchmark.Options{
		Workers:    workers,
		WarmupRuns: warmup,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	r := metrics.Report()
	fmt.Printf("model:        %s\n", cfg.Model.ModelPath)
	fmt.Printf("images:       %d (%d errors, %.1f%%)\n", r.Images, r.Errors, r.ErrorRate*100)
	fmt.Printf("workers:      %d\n", metrics.Workers)
	fmt.Printf("latency ms:   mean %.2f  p50 %.2f  p95 %.2f  max %.2f\n", r.MeanMs, r.P50Ms, r.P95Ms, r.MaxMs)
	fmt.Printf("throughput:   %.2f images/s\n", r.ImagesPerSecond)
	fmt.Printf("detections:   %d\n", r.Detections)
	for _, c := range r.ClassDetections {
		fmt.Printf("  %-6s %d\n", c.Class, c.Count)
	}

	if outputDir == "" {
		return nil
	}
	return save(metrics, outputDir)
}

func save(metrics *benchmark.PerformanceMetrics, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}
	stamp := metrics.Timestamp.Format("2006-01-02_15-04-05")

	write := func(name string, fn func(*os.File) error) error {
		path := filepath.Join(outputDir, name)
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "creating %s", path)
		}
		if err := fn(f); err != nil {
			f.Close()
			return err
		}
		fmt.Printf("results saved to %s\n", path)
		return f.Close()
	}

	if err := write("benchmark_results_"+stamp+".json", func(f *os.File) error { return metrics.WriteJSON(f) }); err != nil {
		return err
	}
	return write("benchmark_summary_"+stamp+".csv", func(f *os.File) error { return metrics.WriteCSV(f) })
}
