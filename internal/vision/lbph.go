package vision

import (
	"errors"
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Local binary pattern histogram parameters.
const (
	lbpBins = 256
	// GridX and GridY split the LBP image into cells, each with its own
	// histogram. More cells keep more spatial layout.
	GridX = 8
	GridY = 8
)

var ErrEmptyCorpus = errors.New("training corpus is empty")

// LabeledFace is one training sample.
type LabeledFace struct {
	Label string
	Face  *image.Gray
}

// Model is a trained nearest-template LBPH classifier. A Model is immutable
// after Train or LoadModel returns and is safe for concurrent Predict calls.
type Model struct {
	gridX, gridY int
	labels       []string
	histograms   [][]float64
}

// Train builds a model from the corpus. It fails with ErrEmptyCorpus when
// samples is empty.
func Train(samples []LabeledFace) (*Model, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyCorpus
	}
	m := &Model{
		gridX:      GridX,
		gridY:      GridY,
		labels:     make([]string, 0, len(samples)),
		histograms: make([][]float64, 0, len(samples)),
	}
	for _, s := range samples {
		m.labels = append(m.labels, s.Label)
		m.histograms = append(m.histograms, spatialHistogram(NormalizeFace(s.Face), m.gridX, m.gridY))
	}
	return m, nil
}

// Predict returns the label of the nearest training sample and its
// chi-square distance. Lower distances mean more similar faces; identical
// patterns score 0. Ties go to the earliest sample.
func (m *Model) Predict(face *image.Gray) (string, float64) {
	query := spatialHistogram(NormalizeFace(face), m.gridX, m.gridY)

	best := -1
	bestDist := math.Inf(1)
	for i, h := range m.histograms {
		if d := chiSquare(h, query); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return "", bestDist
	}
	return m.labels[best], bestDist
}

// Len is the number of training samples.
func (m *Model) Len() int { return len(m.labels) }

// Labels returns the distinct labels in sorted order.
func (m *Model) Labels() []string {
	seen := make(map[string]struct{}, len(m.labels))
	out := make([]string, 0)
	for _, l := range m.labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// lbpImage computes the 8-neighbour, radius-1 local binary pattern of every
// interior pixel. The result is two pixels smaller in each dimension.
func lbpImage(g *image.Gray) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx()-2, b.Dy()-2
	if w <= 0 || h <= 0 {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	at := func(x, y int) uint8 { return g.GrayAt(b.Min.X+x, b.Min.Y+y).Y }

	for y := 1; y <= h; y++ {
		for x := 1; x <= w; x++ {
			c := at(x, y)
			var code uint8
			// clockwise from the top-left neighbour
			if at(x-1, y-1) >= c {
				code |= 1 << 7
			}
			if at(x, y-1) >= c {
				code |= 1 << 6
			}
			if at(x+1, y-1) >= c {
				code |= 1 << 5
			}
			if at(x+1, y) >= c {
				code |= 1 << 4
			}
			if at(x+1, y+1) >= c {
				code |= 1 << 3
			}
			if at(x, y+1) >= c {
				code |= 1 << 2
			}
			if at(x-1, y+1) >= c {
				code |= 1 << 1
			}
			if at(x-1, y) >= c {
				code |= 1
			}
			out.Pix[(y-1)*out.Stride+(x-1)] = code
		}
	}
	return out
}

// spatialHistogram concatenates the L1-normalised LBP histogram of every grid
// cell. Pixels beyond the last full cell are ignored.
func spatialHistogram(face *image.Gray, gridX, gridY int) []float64 {
	lbp := lbpImage(face)
	cellW := lbp.Bounds().Dx() / gridX
	cellH := lbp.Bounds().Dy() / gridY

	out := make([]float64, gridX*gridY*lbpBins)
	if cellW == 0 || cellH == 0 {
		return out
	}
	area := float64(cellW * cellH)

	for gy := 0; gy < gridY; gy++ {
		for gx := 0; gx < gridX; gx++ {
			cell := out[(gy*gridX+gx)*lbpBins : (gy*gridX+gx+1)*lbpBins]
			for y := gy * cellH; y < (gy+1)*cellH; y++ {
				row := lbp.Pix[y*lbp.Stride:]
				for x := gx * cellW; x < (gx+1)*cellW; x++ {
					cell[row[x]]++
				}
			}
			floats.Scale(1/area, cell)
		}
	}
	return out
}

// chiSquare is the symmetric chi-square distance sum(2(a-b)^2/(a+b)).
func chiSquare(a, b []float64) float64 {
	var d float64
	for i := range a {
		if s := a[i] + b[i]; s > 0 {
			diff := a[i] - b[i]
			d += 2 * diff * diff / s
		}
	}
	return d
}
