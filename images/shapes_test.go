package images

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCalculateIoU validates IoU against hand-computed overlaps.
func TestCalculateIoU(t *testing.T) {
	tests := []struct {
		name     string
		r1       Rect
		r2       Rect
		expected float32
	}{
		{name: "identical", r1: Rect{0, 0, 100, 100}, r2: Rect{0, 0, 100, 100}, expected: 1.0},
		{name: "disjoint", r1: Rect{0, 0, 100, 100}, r2: Rect{200, 200, 300, 300}, expected: 0.0},
		{name: "touching edges", r1: Rect{0, 0, 100, 100}, r2: Rect{100, 0, 200, 100}, expected: 0.0},
		// intersection=2500, union=17500
		{name: "quarter overlap", r1: Rect{0, 0, 100, 100}, r2: Rect{50, 50, 150, 150}, expected: 1.0 / 7.0},
		{name: "nested", r1: Rect{0, 0, 100, 100}, r2: Rect{25, 25, 75, 75}, expected: 0.25},
		{name: "fractional", r1: Rect{0.5, 0.5, 10.5, 10.5}, r2: Rect{5.5, 0.5, 15.5, 10.5}, expected: 50.0 / 150.0},
		{name: "degenerate", r1: Rect{10, 10, 10, 10}, r2: Rect{0, 0, 20, 20}, expected: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateIoU(tt.r1, tt.r2)
			assert.InDelta(t, tt.expected, got, 1e-4)
			assert.InDelta(t, got, CalculateIoU(tt.r2, tt.r1), 1e-6, "IoU must be symmetric")
		})
	}
}

func TestRectGeometry(t *testing.T) {
	r := RectFromCenter(50, 40, 20, 10)
	assert.Equal(t, Rect{40, 35, 60, 45}, r)
	assert.Equal(t, float32(20), r.Width())
	assert.Equal(t, float32(10), r.Height())
	assert.Equal(t, float32(200), r.Area())
	assert.Equal(t, [4]float32{40, 35, 20, 10}, r.XYWH())
	assert.Equal(t, [4]float32{40, 35, 60, 45}, r.XYXY())

	inverted := Rect{10, 10, 5, 5}
	assert.Zero(t, inverted.Width())
	assert.Zero(t, inverted.Area())
}

func TestRectClip(t *testing.T) {
	r := Rect{-10, -5, 120, 90}.Clip(100, 80)
	assert.Equal(t, Rect{0, 0, 100, 80}, r)

	inside := Rect{10, 10, 20, 20}
	assert.Equal(t, inside, inside.Clip(100, 100))
}

func TestRectToRectangle(t *testing.T) {
	assert.Equal(t, image.Rect(10, 20, 31, 41), Rect{10.2, 20.7, 30.6, 40.5}.ToRectangle())
}
