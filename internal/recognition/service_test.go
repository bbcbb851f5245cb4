package recognition_test

import (
	"context"
	"errors"
	"image"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/your-org/intelliguard/internal/capture"
	"github.com/your-org/intelliguard/internal/models"
	"github.com/your-org/intelliguard/internal/recognition"
	"github.com/your-org/intelliguard/internal/storage"
	"github.com/your-org/intelliguard/internal/vision"
	"github.com/your-org/intelliguard/internal/vision/visiontest"
)

type fixture struct {
	svc       *recognition.Service
	det       *visiontest.Detector
	samples   *storage.DirSampleStore
	events    *recordingPublisher
	modelPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	samples, err := storage.NewDirSampleStore(filepath.Join(dir, "dataset"))
	if err != nil {
		t.Fatalf("NewDirSampleStore: %v", err)
	}
	f := &fixture{
		det:       visiontest.NewDetector(),
		samples:   samples,
		events:    &recordingPublisher{},
		modelPath: filepath.Join(dir, "models", "face.lbph"),
	}
	f.svc = recognition.NewService(f.det, samples, f.events, recognition.Config{
		ModelPath:       f.modelPath,
		ConfidenceFloor: 50,
		MaxSamples:      10,
	})
	return f
}

// enroll stores n slightly different captures of face under identity.
func (f *fixture) enroll(t *testing.T, identity string, face *image.Gray, n int) recognition.EnrollResult {
	t.Helper()
	frames := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, f.det.FaceFrame(visiontest.Perturb(face, uint64(1000+i), 20)))
	}
	res, err := f.svc.Enroll(context.Background(), identity, capture.NewSliceSource(frames...), recognition.EnrollOptions{})
	if err != nil {
		t.Fatalf("Enroll %s: %v", identity, err)
	}
	return res
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) PublishEvent(_ context.Context, ev models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

// ═══════════════════════════════════════════════════════════════════════════
// Recognize
// ═══════════════════════════════════════════════════════════════════════════

func TestRecognize_NoModelIsNoMatch(t *testing.T) {
	f := newFixture(t)
	frame := f.det.FaceFrame(visiontest.Face(1))

	m, err := f.svc.Recognize(context.Background(), frame)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if m.Matched() || m.Confidence != 0 {
		t.Errorf("expected no match, got %+v", m)
	}
	if _, err := f.svc.Identify(context.Background(), frame); !errors.Is(err, recognition.ErrNoModel) {
		t.Errorf("expected ErrNoModel, got %v", err)
	}
}

func TestRecognize_MatchesEnrolledIdentity(t *testing.T) {
	f := newFixture(t)
	faceA, faceB := visiontest.Face(1), visiontest.Face(2)
	f.enroll(t, "100", faceA, 3)
	f.enroll(t, "200", faceB, 3)

	m, err := f.svc.Recognize(context.Background(), f.det.FaceFrame(visiontest.Perturb(faceA, 5, 30)))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if m.Identity != "100" {
		t.Fatalf("expected identity 100, got %+v", m)
	}
	if m.Confidence < 50 {
		t.Errorf("expected confidence >= 50, got %.2f", m.Confidence)
	}
	if m.Box.Width != vision.FaceSize {
		t.Errorf("expected the detected box in the result, got %+v", m.Box)
	}

	m, err = f.svc.Recognize(context.Background(), f.det.FaceFrame(visiontest.Perturb(faceB, 6, 30)))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if m.Identity != "200" {
		t.Errorf("expected identity 200, got %+v", m)
	}
}

func TestRecognize_NoFaceIsNoMatch(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "100", visiontest.Face(1), 2)

	blank := image.NewRGBA(image.Rect(0, 0, 64, 64))
	m, err := f.svc.Recognize(context.Background(), blank)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if m != (recognition.Match{}) {
		t.Errorf("expected zero match, got %+v", m)
	}
	if _, err := f.svc.Identify(context.Background(), blank); !errors.Is(err, recognition.ErrNoFaceDetected) {
		t.Errorf("expected ErrNoFaceDetected, got %v", err)
	}
}

func TestRecognize_BelowFloorIsNoMatch(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "100", visiontest.Face(1), 2)

	stranger := f.det.FaceFrame(visiontest.Face(77))
	m, err := f.svc.Recognize(context.Background(), stranger)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if m.Matched() || m.Confidence != 0 {
		t.Errorf("expected (none, 0), got %+v", m)
	}
	if _, err := f.svc.Identify(context.Background(), stranger); !errors.Is(err, recognition.ErrLowConfidenceMatch) {
		t.Errorf("expected ErrLowConfidenceMatch, got %v", err)
	}
}

func TestRecognize_ConcurrentWithEnrollment(t *testing.T) {
	f := newFixture(t)
	faceA := visiontest.Face(1)
	f.enroll(t, "100", faceA, 2)
	query := f.det.FaceFrame(visiontest.Perturb(faceA, 9, 10))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				m, err := f.svc.Recognize(ctx, query)
				if err != nil && ctx.Err() == nil {
					errs <- err
					return
				}
				if err == nil && m.Identity != "100" {
					errs <- errors.New("lost identity 100 during retrain: got " + m.Identity)
					return
				}
			}
		}()
	}

	for seed := uint64(10); seed < 13; seed++ {
		f.enroll(t, "id"+string(rune('a'+seed-10)), visiontest.Face(seed), 2)
	}
	cancel()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// RecognizeStream
// ═══════════════════════════════════════════════════════════════════════════

func TestRecognizeStream_ReturnsFirstMatchAboveThreshold(t *testing.T) {
	f := newFixture(t)
	faceA := visiontest.Face(1)
	f.enroll(t, "100", faceA, 2)

	src := capture.NewSliceSource(
		image.NewRGBA(image.Rect(0, 0, 32, 32)),
		f.det.FaceFrame(visiontest.Face(55)),
		f.det.FaceFrame(faceA),
	)
	m, err := f.svc.RecognizeStream(context.Background(), src, 70)
	if err != nil {
		t.Fatalf("RecognizeStream: %v", err)
	}
	if m.Identity != "100" || m.Confidence < 70 {
		t.Errorf("unexpected match %+v", m)
	}
}

func TestRecognizeStream_ThresholdAboveEveryMatch(t *testing.T) {
	f := newFixture(t)
	faceA := visiontest.Face(1)
	f.enroll(t, "100", faceA, 2)

	src := capture.NewSliceSource(f.det.FaceFrame(visiontest.Perturb(faceA, 3, 40)))
	if _, err := f.svc.RecognizeStream(context.Background(), src, 100.5); !errors.Is(err, recognition.ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) (image.Image, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingSource) Close() error { return nil }

func TestRecognizeStream_BoundedByContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := f.svc.RecognizeStream(ctx, blockingSource{}, 70); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bootstrap
// ═══════════════════════════════════════════════════════════════════════════

func TestBootstrap_EmptyCorpusLeavesNoModel(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if f.svc.Model() != nil {
		t.Error("expected no model for an empty corpus")
	}
}

func TestBootstrap_TrainsFromCorpusWhenModelMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, seed := range []uint64{1, 2} {
		err := f.samples.Put(ctx, models.FaceSample{Identity: "100", Index: i, Image: visiontest.Face(seed)})
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if err := f.svc.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if m := f.svc.Model(); m == nil || m.Len() != 2 {
		t.Fatalf("expected model with 2 samples, got %v", m)
	}
	if _, err := vision.LoadModel(f.modelPath); err != nil {
		t.Errorf("expected trained model persisted, got %v", err)
	}
}

func TestBootstrap_PrefersPersistedModel(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "100", visiontest.Face(1), 3)

	// A fresh service with an empty corpus can only know identity 100
	// through the persisted model file.
	empty, err := storage.NewDirSampleStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirSampleStore: %v", err)
	}
	svc := recognition.NewService(f.det, empty, nil, recognition.Config{
		ModelPath:       f.modelPath,
		ConfidenceFloor: 50,
	})
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if m := svc.Model(); m == nil || m.Len() != 3 {
		t.Fatalf("expected persisted model with 3 samples, got %v", m)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Enroll
// ═══════════════════════════════════════════════════════════════════════════

func TestEnroll_SkipsFramesWithoutFace(t *testing.T) {
	f := newFixture(t)
	face := visiontest.Face(1)

	src := capture.NewSliceSource(
		image.NewRGBA(image.Rect(0, 0, 40, 40)),
		f.det.FaceFrame(face),
		image.NewRGBA(image.Rect(0, 0, 40, 40)),
		f.det.FaceFrame(visiontest.Perturb(face, 2, 10)),
	)
	var progress []int
	res, err := f.svc.Enroll(context.Background(), "100", src, recognition.EnrollOptions{
		OnSample: func(n int, _ models.SampleRef) { progress = append(progress, n) },
	})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if res.Accepted != 2 || res.Skipped != 2 {
		t.Errorf("expected 2 accepted and 2 skipped, got %+v", res)
	}
	if len(progress) != 2 || progress[1] != 2 {
		t.Errorf("unexpected progress callbacks %v", progress)
	}
	if res.Training.Samples != 2 || res.Training.Identities != 1 {
		t.Errorf("unexpected training stats %+v", res.Training)
	}
	if f.svc.Model() == nil {
		t.Fatal("expected model after enrollment")
	}

	evs := f.events.Events()
	if len(evs) != 1 || evs[0].Type != models.EventEnrollment || evs[0].Samples != 2 {
		t.Errorf("unexpected events %+v", evs)
	}
}

func TestEnroll_NoFaceCapturedSkipsRetrain(t *testing.T) {
	f := newFixture(t)
	src := capture.NewSliceSource(image.NewRGBA(image.Rect(0, 0, 40, 40)))

	_, err := f.svc.Enroll(context.Background(), "100", src, recognition.EnrollOptions{})
	if !errors.Is(err, recognition.ErrNoFaceCaptured) {
		t.Fatalf("expected ErrNoFaceCaptured, got %v", err)
	}
	if f.svc.Model() != nil {
		t.Error("expected no model")
	}
	if _, err := vision.LoadModel(f.modelPath); !errors.Is(err, vision.ErrModelNotFound) {
		t.Errorf("expected no model file, got %v", err)
	}
	if len(f.events.Events()) != 0 {
		t.Error("expected no enrollment event")
	}
}

func TestEnroll_StopsAtSampleBudget(t *testing.T) {
	f := newFixture(t)
	face := visiontest.Face(1)
	var frames []image.Image
	for i := 0; i < 5; i++ {
		frames = append(frames, f.det.FaceFrame(visiontest.Perturb(face, uint64(i), 5)))
	}
	src := capture.NewSliceSource(frames...)

	res, err := f.svc.Enroll(context.Background(), "100", src, recognition.EnrollOptions{MaxSamples: 3})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if res.Accepted != 3 {
		t.Errorf("expected 3 samples, got %d", res.Accepted)
	}
	if f.det.Calls() != 3 {
		t.Errorf("expected capture to stop after 3 frames, detector saw %d", f.det.Calls())
	}
	if _, err := src.Next(context.Background()); err != nil {
		t.Errorf("expected unread frames left in the source, got %v", err)
	}
}

func TestEnroll_AppendsAfterExistingSamples(t *testing.T) {
	f := newFixture(t)
	face := visiontest.Face(1)
	first := f.enroll(t, "100", face, 2)
	second := f.enroll(t, "100", face, 2)

	if first.Samples[0] != "100_0.png" || second.Samples[0] != "100_2.png" {
		t.Errorf("unexpected sample names %v then %v", first.Samples, second.Samples)
	}
	if second.FirstIndex != 2 {
		t.Errorf("expected second run to start at index 2, got %d", second.FirstIndex)
	}
	ids, err := f.svc.Identities(context.Background())
	if err != nil {
		t.Fatalf("Identities: %v", err)
	}
	if len(ids) != 1 || ids[0].Samples != 4 {
		t.Errorf("unexpected identities %+v", ids)
	}
}

func TestEnroll_CancelledBeforeAnyFace(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.svc.Enroll(ctx, "100", blockingSource{}, recognition.EnrollOptions{})
	if !errors.Is(err, recognition.ErrNoFaceCaptured) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ErrNoFaceCaptured wrapping DeadlineExceeded, got %v", err)
	}
}

func TestEnroll_InvalidIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Enroll(context.Background(), "a/b", capture.NewSliceSource(), recognition.EnrollOptions{})
	if !errors.Is(err, recognition.ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

type failingStore struct {
	recognition.SampleStore
}

func (failingStore) Put(context.Context, models.FaceSample) error { return io.ErrUnexpectedEOF }
func (failingStore) List(context.Context) ([]models.SampleRef, error) {
	return nil, nil
}

func TestEnroll_StoreFailureAbortsWithoutRetrain(t *testing.T) {
	det := visiontest.NewDetector()
	svc := recognition.NewService(det, failingStore{}, nil, recognition.Config{ConfidenceFloor: 50})

	src := capture.NewSliceSource(det.FaceFrame(visiontest.Face(1)))
	_, err := svc.Enroll(context.Background(), "100", src, recognition.EnrollOptions{})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected store error, got %v", err)
	}
	if svc.Model() != nil {
		t.Error("expected no model after failed enrollment")
	}
}

func TestIdentityExists(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "100", visiontest.Face(1), 1)

	for id, want := range map[string]bool{"100": true, "200": false, "10": false} {
		got, err := f.svc.IdentityExists(context.Background(), id)
		if err != nil {
			t.Fatalf("IdentityExists: %v", err)
		}
		if got != want {
			t.Errorf("IdentityExists(%q) = %v, want %v", id, got, want)
		}
	}
}
