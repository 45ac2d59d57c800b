// Package images - Image processing utilities
package images

import (
	"fmt"
	"image"
)

// Rect is a lightweight bounding box in pixel coordinates.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 float32
}

// RectFromCenter builds a Rect from a center point and a size, the layout
// YOLO heads emit.
func RectFromCenter(cx, cy, w, h float32) Rect {
	return Rect{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Width returns the width of the rectangle, 0 when degenerate.
func (r Rect) Width() float32 {
	return max(r.X2-r.X1, 0)
}

// Height returns the height of the rectangle, 0 when degenerate.
func (r Rect) Height() float32 {
	return max(r.Y2-r.Y1, 0)
}

// Area returns the area of the rectangle.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

// XYWH returns the top-left corner and size.
func (r Rect) XYWH() [4]float32 {
	return [4]float32{r.X1, r.Y1, r.Width(), r.Height()}
}

// XYXY returns both corners.
func (r Rect) XYXY() [4]float32 {
	return [4]float32{r.X1, r.Y1, r.X2, r.Y2}
}

// Clip restricts the rectangle to [0,width]x[0,height].
func (r Rect) Clip(width, height int) Rect {
	w, h := float32(width), float32(height)
	return Rect{
		X1: clamp(r.X1, 0, w),
		Y1: clamp(r.Y1, 0, h),
		X2: clamp(r.X2, 0, w),
		Y2: clamp(r.Y2, 0, h),
	}
}

// ToRectangle converts to an integral image.Rectangle, rounding outwards.
func (r Rect) ToRectangle() image.Rectangle {
	return image.Rect(int(r.X1), int(r.Y1), int(r.X2+0.5), int(r.Y2+0.5)).Canon()
}

func (r Rect) String() string {
	return fmt.Sprintf("(%.1f, %.1f)-(%.1f, %.1f)", r.X1, r.Y1, r.X2, r.Y2)
}

// CalculateIoU returns the Intersection over Union of two rectangles:
//
//	IoU = Area(A ∩ B) / (Area(A) + Area(B) - Area(A ∩ B))
//
// The result is in [0, 1]. Disjoint, touching or degenerate rectangles
// yield 0.
func CalculateIoU(r, o Rect) float32 {
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return interArea / unionArea
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
