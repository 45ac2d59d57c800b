// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/dentalogic/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	Greedy       bool    `json:"greedy" yaml:"greedy"`             // If true, use single-threaded greedy NMS.
	IoUThreshold float32 `json:"iouThreshold" yaml:"iouThreshold"` // Boxes overlapping more than this are suppressed.
	ClassAware   bool    `json:"classAware" yaml:"classAware"`     // If true, suppress only within same class.
	NumWorkers   int     `json:"numWorkers" yaml:"numWorkers"`     // Goroutines for the parallel IoU matrix.
}

// DefaultNMSConfig matches the reference server: class-aware, IoU 0.5.
func DefaultNMSConfig() *NMSConfig {
	return &NMSConfig{
		Greedy:       true,
		IoUThreshold: 0.5,
		ClassAware:   true,
		NumWorkers:   4,
	}
}

// Apply runs the NMS variant selected by config.
func Apply(detections []Result, config *NMSConfig) []Result {
	if config == nil {
		config = DefaultNMSConfig()
	}
	if config.Greedy || config.NumWorkers <= 1 {
		return ApplyGreedyNMS(detections, config)
	}
	return ApplyNMS(detections, config)
}

// suppresses reports whether anchor suppresses candidate under config.
func suppresses(anchor, candidate Result, config *NMSConfig) bool {
	if config.ClassAware && anchor.Class != candidate.Class {
		return false
	}
	return images.CalculateIoU(anchor.Box, candidate.Box) > config.IoUThreshold
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Arguments:
//   - detections: Detections in any order; they are sorted by descending score.
//   - config: NMS configuration.
//
// Returns:
//   - Filtered slice of detections, highest score first. Nil for empty input.
func ApplyGreedyNMS(detections []Result, config *NMSConfig) []Result {
	n := len(detections)
	if n == 0 {
		return nil
	}

	sorted := append([]Result(nil), detections...)
	SortByScore(sorted)

	filtered := make([]Result, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := sorted[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if !used[j] && suppresses(anchor, sorted[j], config) {
				used[j] = true
			}
		}
	}

	return filtered
}

// ApplyNMS filters overlapping detections using Non-Maximum Suppression
// with the pairwise suppression matrix computed by a bounded worker pool.
// The selection pass is the greedy one, so the output is identical to
// ApplyGreedyNMS.
//
// Arguments:
//   - detections: Detections in any order.
//   - config: NMS configuration. NumWorkers bounds the goroutines.
//
// Returns:
//   - Filtered slice of detections. If no detections are provided, returns nil.
func ApplyNMS(detections []Result, config *NMSConfig) []Result {
	n := len(detections)
	if n == 0 {
		return nil
	}

	sorted := append([]Result(nil), detections...)
	SortByScore(sorted)

	// overlaps[i] lists every j > i that i would suppress.
	overlaps := make([][]int, n)
	var mu sync.Mutex

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(max(config.NumWorkers, 1))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			var row []int
			for j := i + 1; j < n; j++ {
				if suppresses(sorted[i], sorted[j], config) {
					row = append(row, j)
				}
			}
			mu.Lock()
			overlaps[i] = row
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	used := make([]bool, n)
	filtered := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}
		filtered = append(filtered, sorted[i])
		used[i] = true
		for _, j := range overlaps[i] {
			used[j] = true
		}
	}

	return filtered
}
