package images

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Box is a labeled rectangle to burn into an image.
type Box struct {
	Rect  Rect
	Label string
	Color color.Color
}

// AnnotateOptions controls how boxes are drawn.
type AnnotateOptions struct {
	// LineWidth is the outline thickness in pixels.
	LineWidth int
	// LabelScale multiplies the 7x13 bitmap font. 0 picks a scale from the
	// image height so labels stay legible on phone-sized photos.
	LabelScale int
	// LabelPadding is the padding around label text, in unscaled pixels.
	LabelPadding int
}

// DefaultAnnotateOptions mirrors the reference renderer: 3px outlines and
// labels sized for mobile screens.
func DefaultAnnotateOptions() AnnotateOptions {
	return AnnotateOptions{
		LineWidth:    3,
		LabelScale:   0,
		LabelPadding: 2,
	}
}

// Annotate returns a copy of src with every box outlined and labeled. The
// source image is never modified.
//
// Arguments:
//   - src: The image to draw on.
//   - boxes: The boxes, in src pixel coordinates.
//   - opts: Drawing options.
//
// Returns:
//   - *image.RGBA: The annotated copy.
func Annotate(src image.Image, boxes []Box, opts AnnotateOptions) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	if opts.LineWidth <= 0 {
		opts.LineWidth = 1
	}
	scale := opts.LabelScale
	if scale <= 0 {
		scale = max(1, bounds.Dy()/320)
	}

	for _, b := range boxes {
		c := b.Color
		if c == nil {
			c = color.White
		}
		r := b.Rect.Clip(bounds.Dx(), bounds.Dy()).ToRectangle()
		if r.Empty() {
			continue
		}
		drawOutline(dst, r, opts.LineWidth, c)
		if b.Label != "" {
			drawLabel(dst, r.Min, b.Label, c, scale, opts.LabelPadding)
		}
	}

	return dst
}

func drawOutline(dst draw.Image, r image.Rectangle, width int, c color.Color) {
	fill := image.NewUniform(c)
	for i := 0; i < width; i++ {
		top := image.Rect(r.Min.X-i, r.Min.Y-i, r.Max.X+i, r.Min.Y-i+1)
		bottom := image.Rect(r.Min.X-i, r.Max.Y+i-1, r.Max.X+i, r.Max.Y+i)
		left := image.Rect(r.Min.X-i, r.Min.Y-i, r.Min.X-i+1, r.Max.Y+i)
		right := image.Rect(r.Max.X+i-1, r.Min.Y-i, r.Max.X+i, r.Max.Y+i)
		for _, edge := range []image.Rectangle{top, bottom, left, right} {
			draw.Draw(dst, edge.Intersect(dst.Bounds()), fill, image.Point{}, draw.Src)
		}
	}
}

// drawLabel renders text on a filled tab sitting on top of the box corner.
// The tab drops inside the box when there is no room above it.
func drawLabel(dst *image.RGBA, corner image.Point, text string, bg color.Color, scale, pad int) {
	face := basicfont.Face7x13
	textW := font.MeasureString(face, text).Ceil()
	metrics := face.Metrics()
	textH := (metrics.Ascent + metrics.Descent).Ceil()

	tab := image.NewRGBA(image.Rect(0, 0, textW+2*pad, textH+2*pad))
	draw.Draw(tab, tab.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  tab,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(pad, pad+metrics.Ascent.Ceil()),
	}
	d.DrawString(text)

	var label image.Image = tab
	if scale > 1 {
		label = resize.Resize(uint(tab.Bounds().Dx()*scale), uint(tab.Bounds().Dy()*scale), tab, resize.NearestNeighbor)
	}

	lb := label.Bounds()
	origin := image.Pt(corner.X, corner.Y-lb.Dy())
	if origin.Y < 0 {
		origin.Y = corner.Y
	}
	target := image.Rectangle{Min: origin, Max: origin.Add(lb.Size())}
	draw.Draw(dst, target.Intersect(dst.Bounds()), label, lb.Min.Add(target.Intersect(dst.Bounds()).Min.Sub(origin)), draw.Src)
}
