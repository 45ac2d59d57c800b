// Package benchmark measures prediction latency and throughput over a set of
// image files.
package benchmark

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/dentalogic/images"
	"github.com/nvr-ai/dentalogic/inference/detectors"
	"github.com/nvr-ai/dentalogic/profiler"
	"github.com/nvr-ai/dentalogic/util"
)

// Options tunes a run.
type Options struct {
	// Workers bounds concurrent predictions. Values below 1 mean 1.
	Workers int
	// WarmupRuns predicts the first image this many times before measuring.
	WarmupRuns int
	Logger     *slog.Logger
}

// Run predicts every file with at most workers predictions in flight.
//
// Per-image failures (undecodable data, prediction errors) are recorded in
// the samples and do not stop the run.
//
// Arguments:
//   - ctx: Cancels the run.
//   - predictor: The model under test.
//   - files: The images to predict.
//   - workers: The concurrency bound.
//
// Returns:
//   - *PerformanceMetrics: Per-image samples and memory figures.
//   - error: When the input is empty or ctx is cancelled.
func Run(ctx context.Context, predictor detectors.Predictor, files []util.ImageFile, workers int) (*PerformanceMetrics, error) {
	return RunWithOptions(ctx, predictor, files, Options{Workers: workers})
}

// RunWithOptions is Run with warm-up and logging options.
func RunWithOptions(ctx context.Context, predictor detectors.Predictor, files []util.ImageFile, opts Options) (*PerformanceMetrics, error) {
	if predictor == nil {
		return nil, errors.New("predictor is nil")
	}
	if len(files) == 0 {
		return nil, errors.New("no images to benchmark")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if opts.WarmupRuns > 0 {
		if img, _, err := images.Decode(files[0].Data); err == nil {
			for i := 0; i < opts.WarmupRuns; i++ {
				if _, err := predictor.Predict(ctx, img); err != nil {
					logger.Warn("warm-up prediction failed", "run", i+1, "error", err)
				}
			}
		}
	}

	metrics := &PerformanceMetrics{
		Timestamp: time.Now(),
		Workers:   opts.Workers,
		Samples:   make([]Sample, len(files)),
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	start := time.Now()
	for i, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			metrics.Samples[i] = predictFile(gctx, predictor, f)
			if s := metrics.Samples[i]; s.Failed() {
				logger.Warn("prediction failed", "file", s.File, "error", s.Err)
			} else {
				logger.Debug("predicted", "file", s.File, "class", s.Class, "ms", ms(s.Duration))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics.Wall = time.Since(start)

	var endMem runtime.MemStats
	runtime.ReadMemStats(&endMem)
	metrics.Memory = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
	}
	metrics.Process = profiler.New(0).Snapshot().Process

	logger.Info("benchmark finished",
		"images", len(files),
		"workers", opts.Workers,
		"wall", metrics.Wall.Truncate(time.Millisecond))
	return metrics, nil
}

// predictFile decodes and predicts one image. Only the prediction is timed.
func predictFile(ctx context.Context, predictor detectors.Predictor, f util.ImageFile) Sample {
	s := Sample{File: f.Name()}

	img, _, err := images.Decode(f.Data)
	if err != nil {
		s.Err = err.Error()
		return s
	}

	start := time.Now()
	pred, err := predictor.Predict(ctx, img)
	s.Duration = time.Since(start)
	if err != nil {
		s.Err = err.Error()
		return s
	}

	s.Class = pred.Class
	s.Confidence = pred.Confidence
	s.Detections = len(pred.Detections)
	for _, d := range pred.Detections {
		s.DetectionClasses = append(s.DetectionClasses, d.Class)
	}
	return s
}
