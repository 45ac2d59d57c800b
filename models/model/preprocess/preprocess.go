// Package preprocess turns decoded radiographs and intraoral photos into
// model input tensors.
package preprocess

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/dentalogic/images"
)

// ModelConfig defines preprocessing configuration for a specific model.
type ModelConfig struct {
	// Name of the model for debugging purposes.
	Name string
	// InputWidth is the expected width of the model input.
	InputWidth int
	// InputHeight is the expected height of the model input.
	InputHeight int
	// InputChannels is the number of channels (1 for grayscale, 3 for RGB).
	InputChannels int
	// NormalizationType defines how to normalize pixel values.
	NormalizationType NormalizationType
	// MeanValues for standardization (if NormalizationType is Standardize).
	MeanValues []float32
	// StdValues for standardization (if NormalizationType is Standardize).
	StdValues []float32
	// ChannelOrder defines the channel ordering (CHW or HWC).
	ChannelOrder ChannelOrder
	// ColorMode defines the color space (RGB, BGR, Grayscale).
	ColorMode ColorMode
	// KeepAspectRatio if true, maintains aspect ratio with letterboxing.
	KeepAspectRatio bool
	// LetterboxColor is the color used for letterbox padding (default black).
	LetterboxColor color.Color
}

// NormalizationType defines how pixel values are normalized.
type NormalizationType int

const (
	// NormalizeNone keeps pixel values as 0-255.
	NormalizeNone NormalizationType = iota
	// NormalizeZeroToOne scales pixel values to [0, 1].
	NormalizeZeroToOne
	// NormalizeMinusOneToOne scales pixel values to [-1, 1].
	NormalizeMinusOneToOne
	// NormalizeStandardize applies mean and std normalization.
	NormalizeStandardize
)

// ChannelOrder defines the ordering of image channels.
type ChannelOrder int

const (
	// ChannelOrderCHW is Channel-Height-Width ordering (common for ONNX).
	ChannelOrderCHW ChannelOrder = iota
	// ChannelOrderHWC is Height-Width-Channel ordering.
	ChannelOrderHWC
)

// ColorMode defines the color space of the image.
type ColorMode int

const (
	// ColorModeRGB is standard RGB color mode.
	ColorModeRGB ColorMode = iota
	// ColorModeBGR swaps the red and blue planes.
	ColorModeBGR
	// ColorModeGrayscale is single channel luma.
	ColorModeGrayscale
)

// Letterbox records how an original image was placed into the model input,
// so that boxes predicted in input space can be mapped back.
type Letterbox struct {
	// OriginalWidth is the original image width before preprocessing.
	OriginalWidth int
	// OriginalHeight is the original image height before preprocessing.
	OriginalHeight int
	// ScaleX is the horizontal scaling factor applied.
	ScaleX float64
	// ScaleY is the vertical scaling factor applied.
	ScaleY float64
	// PadLeft is the left padding applied for letterboxing.
	PadLeft int
	// PadTop is the top padding applied for letterboxing.
	PadTop int
}

// ToOriginal maps a box in model-input pixels back to original image pixels
// and clips it to the image bounds.
func (l Letterbox) ToOriginal(r images.Rect) images.Rect {
	sx, sy := float32(l.ScaleX), float32(l.ScaleY)
	if sx == 0 || sy == 0 {
		return r.Clip(l.OriginalWidth, l.OriginalHeight)
	}
	px, py := float32(l.PadLeft), float32(l.PadTop)
	out := images.Rect{
		X1: (r.X1 - px) / sx,
		Y1: (r.Y1 - py) / sy,
		X2: (r.X2 - px) / sx,
		Y2: (r.Y2 - py) / sy,
	}
	return out.Clip(l.OriginalWidth, l.OriginalHeight)
}

// PreprocessingResult contains the preprocessed image data and metadata.
type PreprocessingResult struct {
	Letterbox
	// Data is the preprocessed float32 tensor data.
	Data []float32
	// Shape is the batched tensor shape, [1, C, H, W] or [1, H, W, C].
	Shape []int64
}

// Preprocessor handles image preprocessing for ONNX models.
type Preprocessor struct {
	config *ModelConfig
	logger *slog.Logger
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The model-specific preprocessing configuration.
//
// Returns:
//   - A configured Preprocessor instance.
//
// @example
//
//	preprocessor := NewPreprocessor(YOLOConfig(640))
func NewPreprocessor(config *ModelConfig) *Preprocessor {
	if config.LetterboxColor == nil {
		config.LetterboxColor = color.Black
	}
	if config.InputChannels == 0 {
		config.InputChannels = 3
		if config.ColorMode == ColorModeGrayscale {
			config.InputChannels = 1
		}
	}

	return &Preprocessor{
		config: config,
		logger: slog.New(slog.DiscardHandler),
	}
}

// SetLogger routes debug output of the preprocessor to logger.
func (p *Preprocessor) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Config returns the configuration the preprocessor was built with.
func (p *Preprocessor) Config() *ModelConfig {
	return p.config
}

// Preprocess decodes an encoded image and runs PreprocessImage on it.
//
// Arguments:
//   - img: The encoded input image.
//
// Returns:
//   - PreprocessingResult containing the tensor and letterbox metadata.
//   - error if validation or decoding fails.
func (p *Preprocessor) Preprocess(img *images.Image) (*PreprocessingResult, error) {
	if err := validateInput(img); err != nil {
		return nil, errors.Wrap(err, "input validation failed")
	}

	decoded, _, err := images.Decode(img.Data)
	if err != nil {
		return nil, errors.Wrap(err, "image decoding failed")
	}

	return p.PreprocessImage(decoded)
}

// PreprocessImage resizes, lays out and normalizes an already decoded image.
//
// Arguments:
//   - img: The decoded image.
//
// Returns:
//   - PreprocessingResult containing the tensor and letterbox metadata.
//   - error if the image or configuration is unusable.
func (p *Preprocessor) PreprocessImage(img image.Image) (*PreprocessingResult, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	if p.config.InputWidth <= 0 || p.config.InputHeight <= 0 {
		return nil, fmt.Errorf("invalid model input size: %dx%d", p.config.InputWidth, p.config.InputHeight)
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.Wrap(images.ErrEmptyImage, "nothing to preprocess")
	}

	resized, box := p.resizeImage(img)

	p.logger.Debug("preprocessed image",
		"model", p.config.Name,
		"original", fmt.Sprintf("%dx%d", box.OriginalWidth, box.OriginalHeight),
		"scale", fmt.Sprintf("%.4f,%.4f", box.ScaleX, box.ScaleY),
		"pad", fmt.Sprintf("%d,%d", box.PadLeft, box.PadTop))

	tensor := p.imageToTensor(resized)
	p.normalize(tensor)

	c, h, w := int64(p.config.InputChannels), int64(p.config.InputHeight), int64(p.config.InputWidth)
	shape := []int64{1, c, h, w}
	if p.config.ChannelOrder == ChannelOrderHWC {
		shape = []int64{1, h, w, c}
	}

	return &PreprocessingResult{Letterbox: box, Data: tensor, Shape: shape}, nil
}

func validateInput(img *images.Image) error {
	if img == nil {
		return errors.New("image is nil")
	}
	if len(img.Data) == 0 {
		return images.ErrEmptyImage
	}
	return nil
}

// resizeImage fits img into the model input. With KeepAspectRatio the image
// is scaled uniformly and centered on a LetterboxColor canvas.
func (p *Preprocessor) resizeImage(img image.Image) (*image.RGBA, Letterbox) {
	bounds := img.Bounds()
	srcWidth, srcHeight := bounds.Dx(), bounds.Dy()
	dstWidth, dstHeight := p.config.InputWidth, p.config.InputHeight

	box := Letterbox{OriginalWidth: srcWidth, OriginalHeight: srcHeight}
	canvas := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))

	if !p.config.KeepAspectRatio {
		resized := resize.Resize(uint(dstWidth), uint(dstHeight), img, resize.Lanczos3)
		draw.Draw(canvas, canvas.Bounds(), resized, resized.Bounds().Min, draw.Src)
		box.ScaleX = float64(dstWidth) / float64(srcWidth)
		box.ScaleY = float64(dstHeight) / float64(srcHeight)
		return canvas, box
	}

	scale := math.Min(float64(dstWidth)/float64(srcWidth), float64(dstHeight)/float64(srcHeight))
	newWidth := max(int(math.Round(float64(srcWidth)*scale)), 1)
	newHeight := max(int(math.Round(float64(srcHeight)*scale)), 1)

	resized := resize.Resize(uint(newWidth), uint(newHeight), img, resize.Lanczos3)

	box.ScaleX, box.ScaleY = scale, scale
	box.PadLeft = (dstWidth - newWidth) / 2
	box.PadTop = (dstHeight - newHeight) / 2

	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: p.config.LetterboxColor}, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(box.PadLeft, box.PadTop, box.PadLeft+newWidth, box.PadTop+newHeight),
		resized, resized.Bounds().Min, draw.Src)

	return canvas, box
}

// imageToTensor converts an RGBA canvas to a float32 tensor in 0-255.
func (p *Preprocessor) imageToTensor(img *image.RGBA) []float32 {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	channels := p.config.InputChannels
	plane := width * height
	tensor := make([]float32, plane*channels)

	idx := 0
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			r8, g8, b8 := float32(row[x*4]), float32(row[x*4+1]), float32(row[x*4+2])
			pos := y*width + x

			if channels == 1 {
				gray := 0.299*r8 + 0.587*g8 + 0.114*b8
				if p.config.ChannelOrder == ChannelOrderCHW {
					tensor[pos] = gray
				} else {
					tensor[idx] = gray
					idx++
				}
				continue
			}

			ch0, ch1, ch2 := r8, g8, b8
			if p.config.ColorMode == ColorModeBGR {
				ch0, ch2 = b8, r8
			}

			if p.config.ChannelOrder == ChannelOrderCHW {
				tensor[pos] = ch0
				tensor[plane+pos] = ch1
				tensor[2*plane+pos] = ch2
			} else {
				tensor[idx] = ch0
				tensor[idx+1] = ch1
				tensor[idx+2] = ch2
				idx += 3
			}
		}
	}

	return tensor
}

// normalize applies normalization to the tensor in place.
func (p *Preprocessor) normalize(tensor []float32) {
	switch p.config.NormalizationType {
	case NormalizeZeroToOne:
		for i := range tensor {
			tensor[i] /= 255.0
		}
	case NormalizeMinusOneToOne:
		for i := range tensor {
			tensor[i] = (tensor[i] / 127.5) - 1.0
		}
	case NormalizeStandardize:
		channels := p.config.InputChannels
		if len(p.config.MeanValues) != channels || len(p.config.StdValues) != channels {
			// Fallback to zero-to-one if mean/std not properly configured.
			for i := range tensor {
				tensor[i] /= 255.0
			}
			return
		}

		pixelsPerChannel := len(tensor) / channels
		for c := 0; c < channels; c++ {
			mean, std := p.config.MeanValues[c], p.config.StdValues[c]
			if p.config.ChannelOrder == ChannelOrderCHW {
				offset := c * pixelsPerChannel
				for i := 0; i < pixelsPerChannel; i++ {
					tensor[offset+i] = (tensor[offset+i] - mean) / std
				}
			} else {
				for i := c; i < len(tensor); i += channels {
					tensor[i] = (tensor[i] - mean) / std
				}
			}
		}
	}
}

// YOLOConfig returns the letterboxed [0,1] RGB CHW configuration YOLO
// detection heads are exported with.
//
// Arguments:
//   - inputSize: The square input size (typically 640).
//
// Returns:
//   - A configured ModelConfig for YOLO.
func YOLOConfig(inputSize int) *ModelConfig {
	return &ModelConfig{
		Name:              "yolo",
		InputWidth:        inputSize,
		InputHeight:       inputSize,
		InputChannels:     3,
		NormalizationType: NormalizeZeroToOne,
		ChannelOrder:      ChannelOrderCHW,
		ColorMode:         ColorModeRGB,
		KeepAspectRatio:   true,
		LetterboxColor:    color.RGBA{114, 114, 114, 255},
	}
}

// ClassifierConfig returns a plain-resize [0,1] RGB CHW configuration.
func ClassifierConfig(inputSize int) *ModelConfig {
	return &ModelConfig{
		Name:              "classifier",
		InputWidth:        inputSize,
		InputHeight:       inputSize,
		InputChannels:     3,
		NormalizationType: NormalizeZeroToOne,
		ChannelOrder:      ChannelOrderCHW,
		ColorMode:         ColorModeRGB,
		KeepAspectRatio:   false,
	}
}

// BatchPreprocess processes multiple images concurrently. The first failure
// cancels the remaining work.
//
// Arguments:
//   - ctx: Cancels pending images.
//   - imgs: Slice of decoded images to preprocess.
//   - maxConcurrency: Maximum number of images to process concurrently.
//
// Returns:
//   - Slice of preprocessing results in input order.
//   - error if any preprocessing fails.
func (p *Preprocessor) BatchPreprocess(ctx context.Context, imgs []image.Image, maxConcurrency int) ([]*PreprocessingResult, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	results := make([]*PreprocessingResult, len(imgs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for i, img := range imgs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := p.PreprocessImage(img)
			if err != nil {
				return errors.Wrapf(err, "failed to preprocess image %d", i)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
