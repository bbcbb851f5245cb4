package vision

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"testing"
)

func TestCropFace_ClampsToFrame(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 50, 40))
	frame.Set(45, 35, color.RGBA{R: 200, G: 200, B: 200, A: 255})

	crop, err := CropFace(frame, Box{X: 40, Y: 30, Width: 20, Height: 20})
	if err != nil {
		t.Fatalf("CropFace: %v", err)
	}
	if crop.Bounds().Dx() != 10 || crop.Bounds().Dy() != 10 {
		t.Fatalf("expected 10x10 crop, got %v", crop.Bounds())
	}
	if got := crop.GrayAt(5, 5).Y; got != 200 {
		t.Errorf("expected pixel 200 at (5,5), got %d", got)
	}
}

func TestCropFace_OutsideFrame(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 20, 20))
	_, err := CropFace(frame, Box{X: 30, Y: 30, Width: 5, Height: 5})
	if !errors.Is(err, ErrEmptyCrop) {
		t.Fatalf("expected ErrEmptyCrop, got %v", err)
	}
}

func TestNormalizeFace_Size(t *testing.T) {
	for _, edge := range []int{30, FaceSize, 240} {
		out := NormalizeFace(image.NewGray(image.Rect(0, 0, edge, edge)))
		if out.Bounds().Dx() != FaceSize || out.Bounds().Dy() != FaceSize {
			t.Errorf("edge %d: got %v", edge, out.Bounds())
		}
	}
}

func TestEncodePNG_DecodeImage(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range g.Pix {
		g.Pix[i] = uint8(i * 10)
	}
	data, err := EncodePNG(g)
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	img, err := DecodeImage(data)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	back := ToGray(img)
	for i := range g.Pix {
		if back.Pix[i] != g.Pix[i] {
			t.Fatalf("pixel %d: got %d, want %d", i, back.Pix[i], g.Pix[i])
		}
	}
}

func TestChiSquare(t *testing.T) {
	a := []float64{0.5, 0.5, 0}
	if d := chiSquare(a, a); d != 0 {
		t.Errorf("identical histograms: got %v", d)
	}
	b := []float64{0, 0, 1}
	if d := chiSquare(a, b); d != 4 {
		t.Errorf("disjoint histograms: got %v, want 4", d)
	}
}

// pngHeader is a PNG holding only a gray IHDR chunk for w x h and no pixel
// data.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := func(typ string, data []byte) {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		body := append([]byte(typ), data...)
		buf.Write(body)
		_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(body))
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 0 // grayscale
	chunk("IHDR", ihdr)
	chunk("IEND", nil)
	return buf.Bytes()
}

func TestDecodeImage_RejectsOversizedHeader(t *testing.T) {
	_, err := DecodeImage(pngHeader(20000, 20000))
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
}

func TestDecodeImage_RejectsGarbage(t *testing.T) {
	if _, err := DecodeImage([]byte("not an image")); err == nil {
		t.Fatal("expected an error")
	}
}
