package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/dentalogic/images"
)

func box(x1, y1, x2, y2 float32) images.Rect {
	return images.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestApplyGreedyNMS(t *testing.T) {
	cfg := DefaultNMSConfig()

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, ApplyGreedyNMS(nil, cfg))
	})

	t.Run("suppresses overlapping boxes of the same class", func(t *testing.T) {
		dets := []Result{
			{Box: box(0, 0, 100, 100), Score: 0.6, Class: 2},
			{Box: box(5, 5, 105, 105), Score: 0.9, Class: 2},
			{Box: box(300, 300, 400, 400), Score: 0.5, Class: 2},
		}
		got := ApplyGreedyNMS(dets, cfg)
		require.Len(t, got, 2)
		assert.Equal(t, float32(0.9), got[0].Score)
		assert.Equal(t, float32(0.5), got[1].Score)
	})

	t.Run("class aware keeps overlapping boxes of different classes", func(t *testing.T) {
		dets := []Result{
			{Box: box(0, 0, 100, 100), Score: 0.8, Class: 1},
			{Box: box(0, 0, 100, 100), Score: 0.7, Class: 3},
		}
		assert.Len(t, ApplyGreedyNMS(dets, cfg), 2)

		agnostic := *cfg
		agnostic.ClassAware = false
		got := ApplyGreedyNMS(dets, &agnostic)
		require.Len(t, got, 1)
		assert.Equal(t, 1, got[0].Class)
	})

	t.Run("iou equal to threshold is kept", func(t *testing.T) {
		// IoU of these two boxes is exactly 1/3.
		dets := []Result{
			{Box: box(0, 0, 10, 10), Score: 0.9},
			{Box: box(5, 0, 15, 10), Score: 0.8},
		}
		c := &NMSConfig{IoUThreshold: 0.5, Greedy: true}
		assert.Len(t, ApplyGreedyNMS(dets, c), 2)
		c.IoUThreshold = 0.3
		assert.Len(t, ApplyGreedyNMS(dets, c), 1)
	})

	t.Run("does not reorder the input slice", func(t *testing.T) {
		dets := []Result{
			{Box: box(0, 0, 1, 1), Score: 0.1},
			{Box: box(10, 10, 11, 11), Score: 0.9},
		}
		ApplyGreedyNMS(dets, cfg)
		assert.Equal(t, float32(0.1), dets[0].Score)
	})
}

func TestApplyNMSMatchesGreedy(t *testing.T) {
	var dets []Result
	for i := 0; i < 40; i++ {
		off := float32(i%8) * 12
		dets = append(dets, Result{
			Box:   box(off, off, off+60, off+60),
			Score: float32(i%13) / 13,
			Class: i % 3,
		})
	}

	cfg := &NMSConfig{IoUThreshold: 0.45, ClassAware: true, NumWorkers: 4}
	assert.Equal(t, ApplyGreedyNMS(dets, cfg), ApplyNMS(dets, cfg))
	assert.Equal(t, ApplyGreedyNMS(dets, cfg), Apply(dets, cfg))
	assert.Nil(t, ApplyNMS(nil, cfg))
}
