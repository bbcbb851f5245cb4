// Package recognition resolves face images to identities and enrolls new
// identities into the training corpus.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/intelliguard/internal/capture"
	"github.com/your-org/intelliguard/internal/models"
	"github.com/your-org/intelliguard/internal/observability"
	"github.com/your-org/intelliguard/internal/vision"
)

var (
	ErrNoFaceDetected     = errors.New("no face detected")
	ErrLowConfidenceMatch = errors.New("match below confidence floor")
	ErrNoModel            = errors.New("no trained model")
	ErrNoFaceCaptured     = errors.New("no face captured")
	ErrNoMatch            = errors.New("no identity matched before the frame source ended")
	ErrInvalidIdentity    = models.ErrInvalidIdentity
	ErrEmptyCorpus        = vision.ErrEmptyCorpus
)

type Config struct {
	// ModelPath is where the trained model is persisted. Empty disables
	// persistence.
	ModelPath string
	// ConfidenceFloor is the minimum confidence percent of an accepted match.
	ConfidenceFloor float64
	// MaxSamples bounds the samples captured by one enrollment.
	MaxSamples int
}

// Match is the outcome of a recognition. The zero Match means no identity.
type Match struct {
	Identity   string     `json:"identity"`
	Confidence float64    `json:"confidence"`
	Distance   float64    `json:"distance"`
	Box        vision.Box `json:"box"`
}

func (m Match) Matched() bool { return m.Identity != "" }

// Service owns the trained model. Recognition reads the current model through
// an atomic pointer, so it never blocks on and never observes a half-built
// model from a concurrent retrain.
type Service struct {
	detector vision.Detector
	samples  SampleStore
	events   EventPublisher
	cfg      Config

	model atomic.Pointer[vision.Model]
	// trainMu serializes enrollment and training.
	trainMu sync.Mutex
}

// NewService wires the service. events may be nil.
func NewService(detector vision.Detector, samples SampleStore, events EventPublisher, cfg Config) *Service {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 10
	}
	return &Service{
		detector: detector,
		samples:  samples,
		events:   events,
		cfg:      cfg,
	}
}

// Bootstrap loads the persisted model, or trains one from the corpus when no
// usable model file exists. An empty corpus is not an error: recognition
// reports no match until the first enrollment.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.ModelPath != "" {
		m, err := vision.LoadModel(s.cfg.ModelPath)
		switch {
		case err == nil:
			s.model.Store(m)
			observability.CorpusSize.Set(float64(m.Len()))
			slog.Info("face model loaded", "path", s.cfg.ModelPath,
				"samples", m.Len(), "identities", len(m.Labels()))
			return nil
		case errors.Is(err, vision.ErrModelNotFound):
			slog.Info("no persisted face model, training from corpus", "path", s.cfg.ModelPath)
		default:
			slog.Warn("persisted face model unreadable, training from corpus", "error", err)
		}
	}

	stats, err := s.Retrain(ctx)
	if errors.Is(err, vision.ErrEmptyCorpus) {
		slog.Warn("face corpus is empty, recognition disabled until an identity is enrolled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap face model: %w", err)
	}
	slog.Info("face model trained", "samples", stats.Samples,
		"identities", stats.Identities, "duration", stats.Duration)
	return nil
}

// Model returns the current model, or nil before the first training.
func (s *Service) Model() *vision.Model {
	return s.model.Load()
}

// Identify resolves img to an identity and reports why it could not:
// ErrNoModel, ErrNoFaceDetected or ErrLowConfidenceMatch.
func (s *Service) Identify(ctx context.Context, img image.Image) (Match, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, err
	}
	model := s.model.Load()
	if model == nil {
		observability.Recognitions.WithLabelValues("no_model").Inc()
		return Match{}, ErrNoModel
	}

	boxes, err := s.detector.Detect(img)
	if err != nil {
		return Match{}, fmt.Errorf("detect faces: %w", err)
	}
	if len(boxes) == 0 {
		observability.Recognitions.WithLabelValues("no_face").Inc()
		return Match{}, ErrNoFaceDetected
	}
	observability.FacesDetected.Inc()

	face, err := vision.CropFace(img, boxes[0])
	if err != nil {
		observability.Recognitions.WithLabelValues("no_face").Inc()
		return Match{}, fmt.Errorf("%w: %w", ErrNoFaceDetected, err)
	}

	start := time.Now()
	label, dist := model.Predict(face)
	observability.InferenceDuration.WithLabelValues("predict").Observe(time.Since(start).Seconds())

	conf := 100 - dist
	observability.MatchConfidence.Observe(max(conf, 0))
	if conf < s.cfg.ConfidenceFloor {
		observability.Recognitions.WithLabelValues("low_confidence").Inc()
		return Match{Box: boxes[0]}, fmt.Errorf("%w: %.1f%% < %.1f%%",
			ErrLowConfidenceMatch, conf, s.cfg.ConfidenceFloor)
	}

	observability.Recognitions.WithLabelValues("matched").Inc()
	return Match{Identity: label, Confidence: conf, Distance: dist, Box: boxes[0]}, nil
}

// Recognize is Identify with the expected outcomes folded into the zero
// Match: no face, no model and low confidence all mean no identity.
// It has no side effects and is safe for concurrent use.
func (s *Service) Recognize(ctx context.Context, img image.Image) (Match, error) {
	m, err := s.Identify(ctx, img)
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, ErrNoFaceDetected),
		errors.Is(err, ErrLowConfidenceMatch),
		errors.Is(err, ErrNoModel):
		slog.Debug("no identity", "reason", err)
		return Match{}, nil
	default:
		return Match{}, err
	}
}

// RecognizeStream polls src until a match reaches threshold, which is raised
// to the confidence floor if lower. It returns ErrNoMatch when src ends and
// ctx.Err() when ctx ends first; callers bound the wait through ctx.
func (s *Service) RecognizeStream(ctx context.Context, src capture.Source, threshold float64) (Match, error) {
	threshold = max(threshold, s.cfg.ConfidenceFloor)
	frames := 0
	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return Match{}, ErrNoMatch
		}
		if err != nil {
			return Match{}, err
		}
		frames++

		m, err := s.Recognize(ctx, frame)
		if err != nil {
			return Match{}, err
		}
		if m.Matched() && m.Confidence >= threshold {
			slog.Info("identity confirmed", "identity", m.Identity,
				"confidence", m.Confidence, "frames", frames)
			return m, nil
		}
		if m.Matched() {
			slog.Debug("match below operational threshold", "identity", m.Identity,
				"confidence", m.Confidence, "threshold", threshold)
		}
	}
}

// IdentitySummary is one enrolled identity.
type IdentitySummary struct {
	Identity string `json:"identity"`
	Samples  int    `json:"samples"`
}

// Identities lists enrolled identities by name.
func (s *Service) Identities(ctx context.Context) ([]IdentitySummary, error) {
	refs, err := s.samples.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	var out []IdentitySummary
	for _, ref := range refs {
		if n := len(out); n > 0 && out[n-1].Identity == ref.Identity {
			out[n-1].Samples++
			continue
		}
		out = append(out, IdentitySummary{Identity: ref.Identity, Samples: 1})
	}
	return out, nil
}

// IdentityExists reports whether at least one sample is stored for identity.
func (s *Service) IdentityExists(ctx context.Context, identity string) (bool, error) {
	refs, err := s.samples.List(ctx)
	if err != nil {
		return false, fmt.Errorf("list samples: %w", err)
	}
	for _, ref := range refs {
		if ref.Identity == identity {
			return true, nil
		}
	}
	return false, nil
}
