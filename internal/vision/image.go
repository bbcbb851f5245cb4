package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// FaceSize is the edge length every face crop is scaled to before feature
// extraction.
const FaceSize = 100

// MaxImagePixels bounds the frames DecodeImage accepts. The header is checked
// before any pixel buffer is allocated.
const MaxImagePixels = 40_000_000

var (
	ErrEmptyCrop     = errors.New("face box does not intersect the frame")
	ErrImageTooLarge = errors.New("image too large")
)

// DecodeImage decodes JPEG, PNG, GIF, BMP or WebP data of at most
// MaxImagePixels pixels.
func DecodeImage(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// ToGray converts img to 8-bit grayscale with its origin at (0,0).
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// CropFace cuts the box out of img as grayscale, clamped to the frame.
func CropFace(img image.Image, box Box) (*image.Gray, error) {
	r := box.Rect().Add(img.Bounds().Min).Intersect(img.Bounds())
	if r.Empty() {
		return nil, ErrEmptyCrop
	}
	crop := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)
	return crop, nil
}

// NormalizeFace scales a face crop to FaceSize x FaceSize. Crops that are
// already that size are copied unchanged.
func NormalizeFace(face *image.Gray) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, FaceSize, FaceSize))
	b := face.Bounds()
	if b.Dx() == FaceSize && b.Dy() == FaceSize {
		draw.Draw(dst, dst.Bounds(), face, b.Min, draw.Src)
		return dst
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), face, b, xdraw.Src, nil)
	return dst
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
