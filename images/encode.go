package images

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/pkg/errors"
)

// Encode writes img in the given format. JPEG honors quality (1-100, 0 picks
// the encoder default); PNG ignores it. Other formats are rejected because
// the standard encoders only cover these two.
func Encode(img image.Image, format ImageFormat, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, errors.Wrap(err, "encode png")
		}
	case FormatJPEG:
		opts := &jpeg.Options{Quality: jpeg.DefaultQuality}
		if quality > 0 && quality <= 100 {
			opts.Quality = quality
		}
		if err := jpeg.Encode(&buf, img, opts); err != nil {
			return nil, errors.Wrap(err, "encode jpeg")
		}
	default:
		return nil, errors.Errorf("unsupported output format: %q", format)
	}
	return buf.Bytes(), nil
}

// EncodeDataURL encodes img and wraps it as a base64 data URL, e.g.
// "data:image/jpeg;base64,/9j/4AAQ...".
func EncodeDataURL(img image.Image, format ImageFormat, quality int) (string, error) {
	data, err := Encode(img, format, quality)
	if err != nil {
		return "", err
	}
	return "data:" + format.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// DecodeDataURL returns the raw bytes of a base64 data URL. A bare base64
// payload without the "data:" prefix is accepted as well.
func DecodeDataURL(s string) ([]byte, error) {
	payload := strings.TrimSpace(s)
	if payload == "" {
		return nil, ErrEmptyImage
	}
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, errors.New("malformed data url: missing ','")
		}
		if !strings.HasSuffix(payload[:comma], ";base64") {
			return nil, errors.New("malformed data url: payload is not base64")
		}
		payload = payload[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.Wrap(err, "decode base64 payload")
	}
	return data, nil
}
