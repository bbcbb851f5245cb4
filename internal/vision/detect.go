package vision

import (
	"image"
)

// Cascade detection parameters. They are fixed for the whole process so
// enrollment and recognition crop faces the same way.
const (
	// ScaleFactor is the image pyramid step. Smaller steps find more face
	// sizes at the cost of more passes.
	ScaleFactor = 1.1
	// MinNeighbors is the number of overlapping candidate windows needed to
	// keep a detection. Higher values trade recall for precision.
	MinNeighbors = 5
	// MinFaceSize is the smallest face edge in pixels. Larger values reject
	// small or distant faces.
	MinFaceSize = 30
)

// Box is an axis-aligned face region in pixel coordinates of the input frame.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

func BoxFromRect(r image.Rectangle) Box {
	return Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Detector locates faces in a frame. An empty result means no face and is
// not an error. Callers use the first box when several are returned.
type Detector interface {
	Detect(img image.Image) ([]Box, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(img image.Image) ([]Box, error)

func (f DetectorFunc) Detect(img image.Image) ([]Box, error) { return f(img) }
