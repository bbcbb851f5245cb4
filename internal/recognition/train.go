package recognition

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/your-org/intelliguard/internal/observability"
	"github.com/your-org/intelliguard/internal/vision"
)

type TrainStats struct {
	Samples    int           `json:"samples"`
	Identities int           `json:"identities"`
	Duration   time.Duration `json:"duration"`
}

// Retrain trains a new model from every stored sample and swaps it in. On
// ErrEmptyCorpus the current model is kept. Training is not cancellable once
// the corpus has been read.
func (s *Service) Retrain(ctx context.Context) (TrainStats, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	return s.retrainLocked(ctx)
}

func (s *Service) retrainLocked(ctx context.Context) (TrainStats, error) {
	start := time.Now()

	refs, err := s.samples.List(ctx)
	if err != nil {
		observability.Trainings.WithLabelValues("error").Inc()
		return TrainStats{}, fmt.Errorf("list samples: %w", err)
	}

	corpus := make([]vision.LabeledFace, 0, len(refs))
	for _, ref := range refs {
		face, err := s.samples.Load(ctx, ref)
		if err != nil {
			observability.Trainings.WithLabelValues("error").Inc()
			return TrainStats{}, fmt.Errorf("load sample %s: %w", ref.Name, err)
		}
		corpus = append(corpus, vision.LabeledFace{Label: ref.Identity, Face: face})
	}

	model, err := vision.Train(corpus)
	if err != nil {
		observability.Trainings.WithLabelValues("empty").Inc()
		return TrainStats{}, err
	}

	if s.cfg.ModelPath != "" {
		if err := model.Save(s.cfg.ModelPath); err != nil {
			// A stale file would shadow the new samples at the next start.
			slog.Error("save face model", "path", s.cfg.ModelPath, "error", err)
			if rmErr := os.Remove(s.cfg.ModelPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				slog.Error("remove stale face model", "path", s.cfg.ModelPath, "error", rmErr)
			}
		}
	}

	s.model.Store(model)

	elapsed := time.Since(start)
	observability.Trainings.WithLabelValues("ok").Inc()
	observability.InferenceDuration.WithLabelValues("train").Observe(elapsed.Seconds())
	observability.CorpusSize.Set(float64(model.Len()))

	return TrainStats{
		Samples:    model.Len(),
		Identities: len(model.Labels()),
		Duration:   elapsed,
	}, nil
}
