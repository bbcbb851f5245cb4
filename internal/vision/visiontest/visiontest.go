// Package visiontest provides synthetic faces and a scripted detector for
// tests of code built on package vision.
package visiontest

import (
	"image"
	"image/color"
	"math/rand/v2"
	"sync"

	"github.com/your-org/intelliguard/internal/vision"
)

// Face returns a deterministic textured grayscale image. Different seeds
// produce unrelated textures.
func Face(seed uint64) *image.Gray {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	img := image.NewGray(image.Rect(0, 0, vision.FaceSize, vision.FaceSize))
	for i := range img.Pix {
		img.Pix[i] = uint8(r.IntN(256))
	}
	return img
}

// Perturb returns a copy of img with n pixels replaced by random values.
func Perturb(img *image.Gray, seed uint64, n int) *image.Gray {
	r := rand.New(rand.NewPCG(seed, ^seed))
	out := image.NewGray(img.Bounds())
	copy(out.Pix, img.Pix)
	for i := 0; i < n; i++ {
		out.Pix[r.IntN(len(out.Pix))] = uint8(r.IntN(256))
	}
	return out
}

// Frame embeds face at (x, y) inside a blank frame of the given size and
// returns it as RGBA, the way a camera frame would arrive.
func Frame(face *image.Gray, w, h, x, y int) *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	fb := face.Bounds()
	for fy := 0; fy < fb.Dy(); fy++ {
		for fx := 0; fx < fb.Dx(); fx++ {
			v := face.GrayAt(fb.Min.X+fx, fb.Min.Y+fy).Y
			frame.Set(x+fx, y+fy, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return frame
}

// Detector reports the region registered for a frame, or no face for
// frames it does not know. It is safe for concurrent use.
type Detector struct {
	mu    sync.Mutex
	boxes map[image.Image][]vision.Box
	calls int
}

func NewDetector() *Detector {
	return &Detector{boxes: make(map[image.Image][]vision.Box)}
}

// Register makes Detect return boxes for frame.
func (d *Detector) Register(frame image.Image, boxes ...vision.Box) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.boxes[frame] = boxes
}

func (d *Detector) Detect(img image.Image) ([]vision.Box, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.boxes[img], nil
}

// Calls is the number of Detect calls so far.
func (d *Detector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// FaceFrame builds a frame containing face and registers its box with d.
func (d *Detector) FaceFrame(face *image.Gray) *image.RGBA {
	const w, h, x, y = 320, 240, 60, 40
	frame := Frame(face, w, h, x, y)
	fb := face.Bounds()
	d.Register(frame, vision.Box{X: x, Y: y, Width: fb.Dx(), Height: fb.Dy()})
	return frame
}
