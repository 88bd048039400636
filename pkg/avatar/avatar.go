// Package avatar prepares profile pictures: URL normalization, default
// gravatar identicons and the square crop uploaded as the user's avatar.
package avatar

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"golang.org/x/image/draw"
)

const (
	// Size is the edge length of an uploaded avatar.
	Size        = 120
	ContentType = "image/jpeg"
)

var ErrEmptyImage = errors.New("avatar: empty image")

// ReformatURL turns the first "/com" into ".com". Profile photo URLs stored
// by older clients carry the broken form; anything else is returned as is.
func ReformatURL(url string) string {
	if url == "" {
		return url
	}
	return strings.Replace(url, "/com", ".com", 1)
}

// Gravatar is the identicon assigned to new accounts.
func Gravatar(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "http://gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=identicon"
}

// Decode reads a JPEG, PNG or GIF image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return img, nil
}

// CropSquare cuts the largest centered square out of img and scales it to
// size×size.
func CropSquare(img image.Image, size int) image.Image {
	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	src := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}

// EncodeJPEG renders img as the JPEG blob that gets uploaded.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
