package recognition

import (
	"context"
	"image"

	"github.com/your-org/intelliguard/internal/models"
)

// SampleStore persists face samples. The set of stored samples is the
// training corpus.
type SampleStore interface {
	// Put durably writes one sample. Samples are never overwritten.
	Put(ctx context.Context, sample models.FaceSample) error
	// List returns every stored sample, ordered by identity then index.
	List(ctx context.Context) ([]models.SampleRef, error)
	// Load reads the pixels of one sample.
	Load(ctx context.Context, ref models.SampleRef) (*image.Gray, error)
}

// EventPublisher receives enrollment events. Publishing is best-effort.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.Event) error
}
