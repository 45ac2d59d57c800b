package images

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDataURLRoundTrip(t *testing.T) {
	for _, format := range []ImageFormat{FormatJPEG, FormatPNG} {
		t.Run(string(format), func(t *testing.T) {
			url, err := EncodeDataURL(getTestImage(40, 30), format, 95)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(url, "data:"+format.ContentType()+";base64,"))

			raw, err := DecodeDataURL(url)
			require.NoError(t, err)

			img, got, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, format, got)
			assert.Equal(t, 40, img.Bounds().Dx())
		})
	}
}

func TestEncodeUnsupportedFormat(t *testing.T) {
	_, err := Encode(getTestImage(4, 4), FormatWebP, 0)
	assert.Error(t, err)
}

func TestDecodeDataURL(t *testing.T) {
	raw, err := DecodeDataURL("aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), raw)

	_, err = DecodeDataURL("")
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = DecodeDataURL("data:image/png;base64")
	assert.Error(t, err)

	_, err = DecodeDataURL("data:text/plain,hello")
	assert.Error(t, err)

	_, err = DecodeDataURL("data:image/png;base64,!!!")
	assert.Error(t, err)
}
