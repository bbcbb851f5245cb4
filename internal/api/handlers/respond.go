package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/intelliguard/internal/custody"
	"github.com/your-org/intelliguard/internal/recognition"
	"github.com/your-org/intelliguard/internal/vision"
	"github.com/your-org/intelliguard/pkg/dto"
)

var errBadImage = errors.New("invalid image")

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadImage),
		errors.Is(err, recognition.ErrInvalidIdentity),
		errors.Is(err, custody.ErrInvalidIdentity),
		errors.Is(err, custody.ErrInvalidItemType),
		errors.Is(err, custody.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, custody.ErrNoOpenRecord):
		return http.StatusNotFound
	case errors.Is(err, custody.ErrAlreadyOpen):
		return http.StatusConflict
	case errors.Is(err, recognition.ErrNoFaceCaptured):
		return http.StatusUnprocessableEntity
	case errors.Is(err, custody.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// bindJSON binds the request body into req and answers 413 for bodies over
// the router limit, 400 for anything else that fails to bind.
func bindJSON(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	return false
}

// decodeImageField decodes a base64 image, accepting a data URL prefix.
func decodeImageField(s string) (image.Image, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, fmt.Errorf("%w: malformed data URL", errBadImage)
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: not base64", errBadImage)
		}
	}
	img, err := vision.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadImage, err)
	}
	return img, nil
}

func toTrainResponse(s recognition.TrainStats) dto.TrainResponse {
	return dto.TrainResponse{
		Samples:    s.Samples,
		Identities: s.Identities,
		DurationMS: s.Duration.Milliseconds(),
	}
}

func toEnrollResponse(r recognition.EnrollResult) dto.EnrollResponse {
	samples := r.Samples
	if samples == nil {
		samples = []string{}
	}
	return dto.EnrollResponse{
		Identity:   r.Identity,
		Accepted:   r.Accepted,
		Skipped:    r.Skipped,
		FirstIndex: r.FirstIndex,
		Samples:    samples,
		Training:   toTrainResponse(r.Training),
	}
}
