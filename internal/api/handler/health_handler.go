package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lightencc/mistakebook/internal/api/dto"
	"github.com/lightencc/mistakebook/shared/logger"
)

// HealthHandler handles AI connectivity probes
type HealthHandler struct {
	logger  *logger.Logger
	pinger  HealthPinger
	model   string
	baseURL string
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger:  deps.Logger,
		pinger:  deps.Pinger,
		model:   deps.Config.Gemini.Model,
		baseURL: deps.Config.Gemini.BaseURL,
	}
}

// AIHealth handles GET /api/ai-health
// Sends a one-token generation and reports endpoint reachability
func (h *HealthHandler) AIHealth(c *gin.Context) {
	begin := time.Now()
	baseURL := h.baseURL
	if baseURL == "" {
		baseURL = "(default)"
	}

	if h.pinger == nil {
		c.JSON(http.StatusOK, dto.AIHealthResponse{
			Error:     "缺少 API Key",
			Model:     h.model,
			BaseURL:   baseURL,
			LatencyMS: time.Since(begin).Milliseconds(),
		})
		return
	}

	if err := h.pinger.Ping(c.Request.Context()); err != nil {
		latency := time.Since(begin).Milliseconds()
		h.logger.Error("ai health probe failed", slog.Int64("latency_ms", latency), slog.String("error", err.Error()))
		c.JSON(http.StatusOK, dto.AIHealthResponse{
			Error:     augmentPingError(err.Error()),
			Model:     h.model,
			BaseURL:   baseURL,
			LatencyMS: latency,
		})
		return
	}

	latency := time.Since(begin).Milliseconds()
	h.logger.Info("ai health probe ok", slog.String("model", h.model), slog.Int64("latency_ms", latency))
	c.JSON(http.StatusOK, dto.AIHealthResponse{
		OK:        true,
		Model:     h.model,
		BaseURL:   baseURL,
		LatencyMS: latency,
	})
}

// augmentPingError appends configuration hints for provider error
// shapes with known fixes.
func augmentPingError(text string) string {
	if strings.Contains(text, "url.not_found") || strings.Contains(text, "/v1/v1beta/") {
		text += "；请检查 GEMINI_BASE_URL，建议留空使用默认 Google 端点。"
	}
	if strings.Contains(text, "API keys are not supported") || strings.Contains(text, "UNAUTHENTICATED") {
		text += "；请确认 GOOGLE_API_KEY/GEMINI_API_KEY 为 Google AI Studio Key（通常以 AIza 开头），而不是第三方网关 Key。"
	}
	return text
}
