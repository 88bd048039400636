package avatar

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReformatURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://firebasestorage.googleapis/com/v0/b/x", "https://firebasestorage.googleapis.com/v0/b/x"},
		{"http://gravatar.com/avatar/abc?d=identicon", "http://gravatar.com/avatar/abc?d=identicon"},
		{"http://localhost:8081/files/avatar/users/u1", "http://localhost:8081/files/avatar/users/u1"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReformatURL(tt.in), tt.in)
	}
}

func TestGravatar(t *testing.T) {
	a := Gravatar("Ann@Example.com ")
	b := Gravatar("ann@example.com")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "http://gravatar.com/avatar/"))
	assert.True(t, strings.HasSuffix(a, "?d=identicon"))
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCropAndEncode(t *testing.T) {
	img, err := Decode(bytes.NewReader(pngOf(t, 300, 200)))
	require.NoError(t, err)

	cropped := CropSquare(img, Size)
	assert.Equal(t, image.Rect(0, 0, Size, Size), cropped.Bounds())

	blob, err := EncodeJPEG(cropped)
	require.NoError(t, err)

	back, format, err := image.Decode(bytes.NewReader(blob))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, Size, back.Bounds().Dx())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(strings.NewReader("not an image"))
	assert.Error(t, err)
}
