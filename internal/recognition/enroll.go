package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/your-org/intelliguard/internal/capture"
	"github.com/your-org/intelliguard/internal/models"
	"github.com/your-org/intelliguard/internal/observability"
	"github.com/your-org/intelliguard/internal/vision"
)

type EnrollOptions struct {
	// MaxSamples overrides the configured sample budget when positive.
	MaxSamples int
	// OnSample is called after each stored sample.
	OnSample func(accepted int, ref models.SampleRef)
}

type EnrollResult struct {
	Identity string `json:"identity"`
	Accepted int    `json:"accepted"`
	Skipped  int    `json:"skipped"`
	// FirstIndex is the index of the first sample written by this run.
	FirstIndex int        `json:"first_index"`
	Samples    []string   `json:"samples"`
	Training   TrainStats `json:"training"`
}

// Enroll captures up to the sample budget of face crops for identity from
// src, stores them, then retrains over the whole corpus. Frames without a
// face are skipped. Capture stops when the budget is reached, src is
// exhausted or ctx ends; samples captured before ctx ended are still trained.
//
// With no accepted sample Enroll returns ErrNoFaceCaptured and does not
// retrain. Enrollments run one at a time; recognition continues on the
// previous model until the new one is swapped in.
func (s *Service) Enroll(ctx context.Context, identity string, src capture.Source, opts EnrollOptions) (EnrollResult, error) {
	if err := models.ValidateIdentity(identity); err != nil {
		return EnrollResult{}, err
	}
	limit := s.cfg.MaxSamples
	if opts.MaxSamples > 0 {
		limit = opts.MaxSamples
	}

	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	next, err := s.nextIndex(ctx, identity)
	if err != nil {
		return EnrollResult{}, err
	}

	res := EnrollResult{Identity: identity, FirstIndex: next}
	var stopErr error
	for res.Accepted < limit {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				stopErr = ctx.Err()
				break
			}
			return res, fmt.Errorf("read frame: %w", err)
		}

		boxes, err := s.detector.Detect(frame)
		if err != nil {
			return res, fmt.Errorf("detect faces: %w", err)
		}
		if len(boxes) == 0 {
			res.Skipped++
			continue
		}
		face, err := vision.CropFace(frame, boxes[0])
		if err != nil {
			res.Skipped++
			continue
		}

		sample := models.FaceSample{Identity: identity, Index: next, Image: face}
		if err := s.samples.Put(ctx, sample); err != nil {
			return res, fmt.Errorf("store sample %s: %w", sample.Name(), err)
		}
		next++
		res.Accepted++
		res.Samples = append(res.Samples, sample.Name())
		observability.SamplesEnrolled.Inc()

		if opts.OnSample != nil {
			opts.OnSample(res.Accepted, models.SampleRef{Name: sample.Name(), Identity: identity, Index: sample.Index})
		}
	}

	if res.Accepted == 0 {
		if stopErr != nil {
			return res, fmt.Errorf("%w: %w", ErrNoFaceCaptured, stopErr)
		}
		return res, ErrNoFaceCaptured
	}

	stats, err := s.retrainLocked(context.WithoutCancel(ctx))
	if err != nil {
		return res, fmt.Errorf("retrain after enrollment: %w", err)
	}
	res.Training = stats

	slog.Info("identity enrolled", "identity", identity,
		"accepted", res.Accepted, "skipped", res.Skipped,
		"corpus_samples", stats.Samples, "interrupted", stopErr != nil)

	if s.events != nil {
		ev := models.NewEvent(models.EventEnrollment, identity)
		ev.Samples = res.Accepted
		if err := s.events.PublishEvent(context.WithoutCancel(ctx), ev); err != nil {
			slog.Error("publish enrollment event", "identity", identity, "error", err)
		}
	}
	return res, nil
}

// nextIndex is one past the highest stored index for identity.
func (s *Service) nextIndex(ctx context.Context, identity string) (int, error) {
	refs, err := s.samples.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list samples: %w", err)
	}
	next := 0
	for _, ref := range refs {
		if ref.Identity == identity && ref.Index >= next {
			next = ref.Index + 1
		}
	}
	return next, nil
}
