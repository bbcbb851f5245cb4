package handlers

import (
	"context"
	"errors"
	"image"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/intelliguard/internal/capture"
	"github.com/your-org/intelliguard/internal/recognition"
	"github.com/your-org/intelliguard/pkg/dto"
)

// CameraFunc opens the configured capture device. The source stops when ctx
// ends.
type CameraFunc func(ctx context.Context) (capture.Source, error)

type RecognitionHandler struct {
	svc            *recognition.Service
	camera         CameraFunc
	captureTimeout time.Duration
}

// NewRecognitionHandler wires the handler. camera may be nil, which disables
// camera enrollment.
func NewRecognitionHandler(svc *recognition.Service, camera CameraFunc, captureTimeout time.Duration) *RecognitionHandler {
	if captureTimeout <= 0 {
		captureTimeout = 30 * time.Second
	}
	return &RecognitionHandler{svc: svc, camera: camera, captureTimeout: captureTimeout}
}

// Verify resolves an uploaded image to an identity. No face, no model and a
// low-confidence match all answer 200 with a null identity.
func (h *RecognitionHandler) Verify(c *gin.Context) {
	var req dto.VerifyRequest
	if !bindJSON(c, &req) {
		return
	}

	img, err := decodeImageField(req.Image)
	if err != nil {
		respondError(c, err)
		return
	}

	m, err := h.svc.Recognize(c.Request.Context(), img)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.VerifyResponse{}
	if m.Matched() {
		id := m.Identity
		resp.Identity = &id
		resp.Confidence = m.Confidence
		resp.Box = &dto.BoxResponse{X: m.Box.X, Y: m.Box.Y, Width: m.Box.Width, Height: m.Box.Height}
	}
	c.JSON(http.StatusOK, resp)
}

// Capture enrolls an identity from the camera, bounded by the capture
// timeout.
func (h *RecognitionHandler) Capture(c *gin.Context) {
	if h.camera == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no capture device configured"})
		return
	}

	var req dto.CaptureRequest
	if !bindJSON(c, &req) {
		return
	}

	timeout := h.captureTimeout
	if req.TimeoutSeconds > 0 {
		timeout = min(time.Duration(req.TimeoutSeconds)*time.Second, 5*h.captureTimeout)
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	src, err := h.camera(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer src.Close()

	res, err := h.svc.Enroll(ctx, req.Identity, src, recognition.EnrollOptions{MaxSamples: req.MaxSamples})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toEnrollResponse(res))
}

type StudentHandler struct {
	svc *recognition.Service
}

func NewStudentHandler(svc *recognition.Service) *StudentHandler {
	return &StudentHandler{svc: svc}
}

// Create enrolls an identity from uploaded images.
func (h *StudentHandler) Create(c *gin.Context) {
	var req dto.EnrollRequest
	if !bindJSON(c, &req) {
		return
	}

	frames := make([]image.Image, 0, len(req.Images))
	for i, s := range req.Images {
		img, err := decodeImageField(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "index": i})
			return
		}
		frames = append(frames, img)
	}
	res, err := h.svc.Enroll(c.Request.Context(), req.Identity, capture.NewSliceSource(frames...), recognition.EnrollOptions{})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toEnrollResponse(res))
}

func (h *StudentHandler) List(c *gin.Context) {
	ids, err := h.svc.Identities(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	resp := make([]dto.StudentResponse, 0, len(ids))
	for _, id := range ids {
		resp = append(resp, dto.StudentResponse{Identity: id.Identity, Samples: id.Samples})
	}
	c.JSON(http.StatusOK, dto.StudentListResponse{Students: resp, Total: len(resp)})
}

func (h *StudentHandler) Get(c *gin.Context) {
	identity := c.Param("identity")
	ids, err := h.svc.Identities(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	for _, id := range ids {
		if id.Identity == identity {
			c.JSON(http.StatusOK, dto.StudentResponse{Identity: id.Identity, Samples: id.Samples})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
}

type ModelHandler struct {
	svc *recognition.Service
}

func NewModelHandler(svc *recognition.Service) *ModelHandler {
	return &ModelHandler{svc: svc}
}

// Train retrains from the whole corpus and swaps the new model in.
func (h *ModelHandler) Train(c *gin.Context) {
	stats, err := h.svc.Retrain(c.Request.Context())
	if err != nil {
		if errors.Is(err, recognition.ErrEmptyCorpus) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTrainResponse(stats))
}
