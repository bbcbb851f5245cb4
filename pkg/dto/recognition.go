package dto

// Images are base64 strings, optionally wrapped in a data URL
// ("data:image/jpeg;base64,...").

type VerifyRequest struct {
	Image string `json:"image" binding:"required"`
}

type BoxResponse struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// VerifyResponse carries a null identity when no one was recognised.
type VerifyResponse struct {
	Identity   *string      `json:"identity"`
	Confidence float64      `json:"confidence"`
	Box        *BoxResponse `json:"box,omitempty"`
}

// CaptureRequest enrolls from the configured camera.
type CaptureRequest struct {
	Identity       string `json:"identity" binding:"required"`
	MaxSamples     int    `json:"max_samples"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type TrainResponse struct {
	Samples    int   `json:"samples"`
	Identities int   `json:"identities"`
	DurationMS int64 `json:"duration_ms"`
}
