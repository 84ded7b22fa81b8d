package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lightencc/mistakebook/internal/api/dto"
	"github.com/lightencc/mistakebook/internal/publish"
	"github.com/lightencc/mistakebook/shared/logger"
)

// PublishHandler handles page-publishing HTTP requests
type PublishHandler struct {
	logger  *logger.Logger
	publish *publish.Service
}

// NewPublishHandler creates a new PublishHandler instance
func NewPublishHandler(deps *Dependencies) *PublishHandler {
	return &PublishHandler{
		logger:  deps.Logger,
		publish: deps.Publish,
	}
}

// CreatePublishTask handles POST /api/notion-upload/tasks
// Registers a background batch upload over the valid items
func (h *PublishHandler) CreatePublishTask(c *gin.Context) {
	var req publish.Request
	_ = c.ShouldBindJSON(&req)

	taskID, rec, invalid, err := h.publish.StartTask(req)
	if err != nil {
		jsonError(c, http.StatusBadRequest, err.Error())
		return
	}
	if invalid == nil {
		invalid = []string{}
	}

	h.logger.Info("publish task created",
		slog.String("task", taskID),
		slog.String("session", rec.SessionID),
		slog.Int("total", rec.Detail.Total),
		slog.Int("invalid", len(invalid)),
	)
	c.JSON(http.StatusOK, dto.PublishTaskCreatedResponse{
		OK:           true,
		TaskID:       taskID,
		Task:         dto.NewPublishTask(rec),
		InvalidItems: invalid,
	})
}

// GetPublishTask handles GET /api/notion-upload/tasks/:task_id
// Returns the current snapshot of a background batch upload
func (h *PublishHandler) GetPublishTask(c *gin.Context) {
	rec, ok := h.publish.Task(c.Param("task_id"))
	if !ok {
		jsonError(c, http.StatusNotFound, "任务不存在或已过期。")
		return
	}
	c.JSON(http.StatusOK, dto.PublishTaskStatusResponse{
		OK:   true,
		Task: dto.NewPublishTask(rec),
	})
}

// PublishDocument handles POST /api/notion-upload
// Uploads one exported document inline
func (h *PublishHandler) PublishDocument(c *gin.Context) {
	var req struct {
		SessionID    string `json:"session_id"`
		MarkdownName string `json:"markdown_name"`
	}
	_ = c.ShouldBindJSON(&req)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.MarkdownName = strings.TrimSpace(req.MarkdownName)

	h.logger.Info("publish upload start",
		slog.String("session", req.SessionID),
		slog.String("markdown", req.MarkdownName),
	)

	result, err := h.publish.PublishDocument(c.Request.Context(), req.SessionID, req.MarkdownName)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, publish.ErrDocumentNotFound) {
			status = http.StatusNotFound
		}
		jsonError(c, status, err.Error())
		return
	}

	c.JSON(http.StatusOK, dto.PublishDocumentResponse{
		OK:           true,
		MarkdownName: req.MarkdownName,
		PageID:       result.PageID,
		PageURL:      result.PageURL,
		Title:        result.Title,
		IDValue:      result.IDValue,
		Steps:        result.Steps,
	})
}
