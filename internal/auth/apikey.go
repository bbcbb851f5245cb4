// Package auth guards the /v1 API with a shared key.
package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	// queryName carries the key on websocket upgrades, where browsers cannot
	// set request headers.
	queryName = "api_key"
)

// APIKeyMiddleware validates the API key from the X-API-Key header, or the
// api_key query parameter on GET requests. If apiKey is empty,
// authentication is disabled.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	if apiKey == "" {
		slog.Warn("API key not configured, /v1 is unauthenticated")
	}
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" && c.Request.Method == http.MethodGet {
			provided = c.Query(queryName)
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			slog.Debug("rejected API key", "path", c.Request.URL.Path, "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}

		c.Next()
	}
}
