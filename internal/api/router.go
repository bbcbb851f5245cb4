package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/intelliguard/internal/api/handlers"
	"github.com/your-org/intelliguard/internal/api/ws"
	"github.com/your-org/intelliguard/internal/auth"
	"github.com/your-org/intelliguard/internal/custody"
	"github.com/your-org/intelliguard/internal/recognition"
)

type RouterConfig struct {
	APIKey      string
	Recognition *recognition.Service
	Ledger      *custody.Ledger
	Hub         *ws.Hub
	// Camera opens the capture device for camera enrollment; nil disables it.
	Camera handlers.CameraFunc
	// CaptureTimeout bounds one camera enrollment.
	CaptureTimeout time.Duration
	// Checks are the readiness checks by dependency name.
	Checks map[string]handlers.Check
	// MaxBodyBytes caps request bodies; zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// DefaultMaxBodyBytes fits an enrollment of a few dozen base64 camera frames.
const DefaultMaxBodyBytes = 64 << 20

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	r.Use(BodyLimitMiddleware(maxBody))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Recognition
	recH := handlers.NewRecognitionHandler(cfg.Recognition, cfg.Camera, cfg.CaptureTimeout)
	v1.POST("/recognition/verify", recH.Verify)
	v1.POST("/recognition/capture", recH.Capture)

	// Students
	studentH := handlers.NewStudentHandler(cfg.Recognition)
	v1.POST("/students", studentH.Create)
	v1.GET("/students", studentH.List)
	v1.GET("/students/:identity", studentH.Get)

	// Model
	modelH := handlers.NewModelHandler(cfg.Recognition)
	v1.POST("/model/train", modelH.Train)

	// Belongings
	belongingH := handlers.NewBelongingHandler(cfg.Ledger)
	v1.POST("/belongings", belongingH.CheckIn)
	v1.POST("/belongings/checkout", belongingH.CheckOut)
	v1.GET("/belongings", belongingH.List)

	return r
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AllowHeaders = append(c.AllowHeaders, "X-API-Key")
	return c
}
