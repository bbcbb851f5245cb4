// Package cascade detects faces with an OpenCV Haar cascade.
package cascade

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/your-org/intelliguard/internal/observability"
	"github.com/your-org/intelliguard/internal/vision"
)

// Detector wraps a gocv.CascadeClassifier. OpenCV classifiers are not safe
// for concurrent use, so calls are serialized.
type Detector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// New loads the cascade definition at path, for example
// haarcascade_frontalface_default.xml.
func New(path string) (*Detector, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("load face cascade %s", path)
	}
	slog.Info("face cascade loaded", "path", path,
		"scale_factor", vision.ScaleFactor,
		"min_neighbors", vision.MinNeighbors,
		"min_face_size", vision.MinFaceSize,
	)
	return &Detector{classifier: classifier}, nil
}

// Detect returns face boxes in detection order.
func (d *Detector) Detect(img image.Image) ([]vision.Box, error) {
	gray := vision.ToGray(img)
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("convert frame to mat: %w", err)
	}
	defer mat.Close()

	start := time.Now()
	d.mu.Lock()
	rects := d.classifier.DetectMultiScaleWithParams(
		mat,
		vision.ScaleFactor,
		vision.MinNeighbors,
		0,
		image.Pt(vision.MinFaceSize, vision.MinFaceSize),
		image.Pt(0, 0),
	)
	d.mu.Unlock()
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	boxes := make([]vision.Box, 0, len(rects))
	for _, r := range rects {
		boxes = append(boxes, vision.BoxFromRect(r))
	}
	return boxes, nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}
