package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/lightencc/mistakebook/internal/config"
	"github.com/lightencc/mistakebook/internal/export"
	"github.com/lightencc/mistakebook/internal/publish"
	"github.com/lightencc/mistakebook/internal/session"
	"github.com/lightencc/mistakebook/shared/logger"
)

// OCRClient recognizes printed text on one image file.
// *baiduocr.Client satisfies it.
type OCRClient interface {
	Recognize(ctx context.Context, imagePath string) (map[string]any, error)
}

// HealthPinger probes the generative endpoint with a minimal request.
// *gemini.Client satisfies it.
type HealthPinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *logger.Logger
	Config   *config.Config
	Sessions *session.Store
	OCR      OCRClient
	// Pinger stays nil while no API key is configured.
	Pinger  HealthPinger
	Export  *export.Service
	Publish *publish.Service
}

// jsonError writes the uniform error body shared by every endpoint.
func jsonError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"ok":    false,
		"error": message,
	})
}
