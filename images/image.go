// Package images - Image definition for processing utilities.
package images

import (
	"bytes"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// Image represents an encoded image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatBMP is the BMP image format.
	FormatBMP ImageFormat = "bmp"
	// FormatUnknown is returned when the format cannot be determined.
	FormatUnknown ImageFormat = ""
)

// ErrEmptyImage is returned when decoding is attempted on zero bytes.
var ErrEmptyImage = errors.New("empty image data")

// ErrTooManyPixels is returned when the header declares more pixels than the
// decode limit allows.
var ErrTooManyPixels = errors.New("image has too many pixels")

// DefaultMaxPixels caps the pixel count Decode accepts, about 179 megapixels.
const DefaultMaxPixels = 178956970

// ContentType returns the MIME type of the format.
func (f ImageFormat) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatBMP:
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}

// FormatFromContentType maps a MIME type (parameters allowed) to an ImageFormat.
//
// Arguments:
//   - contentType: The MIME type, e.g. "image/png" or "image/jpeg; q=0.9".
//
// Returns:
//   - ImageFormat: The matching format, or FormatUnknown.
func FormatFromContentType(contentType string) ImageFormat {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return FormatJPEG
	case "image/png":
		return FormatPNG
	case "image/webp":
		return FormatWebP
	case "image/bmp", "image/x-ms-bmp":
		return FormatBMP
	default:
		return FormatUnknown
	}
}

// FormatFromExtension maps a file name to an ImageFormat by its extension.
func FormatFromExtension(name string) ImageFormat {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "webp":
		return FormatWebP
	case "bmp":
		return FormatBMP
	default:
		return FormatUnknown
	}
}

// IsImageContentType reports whether contentType is an image/* MIME type.
func IsImageContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// Decode decodes encoded image bytes, sniffing the format from the data. It
// rejects images above DefaultMaxPixels.
//
// Arguments:
//   - data: The encoded image (JPEG, PNG, WebP or BMP).
//
// Returns:
//   - image.Image: The decoded image.
//   - ImageFormat: The detected format.
//   - error: ErrEmptyImage, ErrTooManyPixels, or the wrapped decoder error.
func Decode(data []byte) (image.Image, ImageFormat, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit decodes data after checking from its header that the image
// holds at most maxPixels pixels. A non-positive maxPixels means
// DefaultMaxPixels.
func DecodeLimit(data []byte, maxPixels int) (image.Image, ImageFormat, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	header, err := NewImage(data)
	if err != nil {
		return nil, FormatUnknown, err
	}
	if header.Width <= 0 || header.Height <= 0 {
		return nil, FormatUnknown, errors.Errorf("invalid image dimensions: %dx%d", header.Width, header.Height)
	}
	if int64(header.Width)*int64(header.Height) > int64(maxPixels) {
		return nil, FormatUnknown, errors.Wrapf(ErrTooManyPixels, "%dx%d exceeds %d", header.Width, header.Height, maxPixels)
	}

	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, FormatUnknown, errors.Wrap(err, "decode image")
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, FormatUnknown, errors.Errorf("invalid image dimensions: %dx%d", b.Dx(), b.Dy())
	}

	return img, ImageFormat(name), nil
}

// NewImage decodes the header of data and returns an Image carrying its
// format and dimensions.
func NewImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode image config")
	}
	return &Image{
		Format: ImageFormat(name),
		Data:   data,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}
