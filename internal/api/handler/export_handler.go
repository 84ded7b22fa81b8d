package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lightencc/mistakebook/internal/api/dto"
	"github.com/lightencc/mistakebook/internal/export"
	"github.com/lightencc/mistakebook/shared/logger"
)

// ExportHandler handles export HTTP requests
type ExportHandler struct {
	logger *logger.Logger
	export *export.Service
}

// NewExportHandler creates a new ExportHandler instance
func NewExportHandler(deps *Dependencies) *ExportHandler {
	return &ExportHandler{
		logger: deps.Logger,
		export: deps.Export,
	}
}

// Export handles POST /api/export
// Runs the whole export inline and returns its result
func (h *ExportHandler) Export(c *gin.Context) {
	var req export.Request
	// A malformed body degrades to the zero request and fails the
	// validation inside the run.
	_ = c.ShouldBindJSON(&req)

	result, err := h.export.RunSync(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("export failed", slog.String("session", req.SessionID), slog.String("error", err.Error()))
		jsonError(c, exportErrorStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateExportTask handles POST /api/export/tasks
// Registers a background export and returns its initial snapshot
func (h *ExportHandler) CreateExportTask(c *gin.Context) {
	var req export.Request
	_ = c.ShouldBindJSON(&req)

	taskID, rec, err := h.export.StartTask(req)
	if err != nil {
		jsonError(c, exportErrorStatus(err), err.Error())
		return
	}

	h.logger.Info("export task created",
		slog.String("task", taskID),
		slog.String("session", rec.SessionID),
	)
	c.JSON(http.StatusOK, dto.ExportTaskCreatedResponse{
		OK:     true,
		TaskID: taskID,
		Task:   dto.NewExportTask(rec),
	})
}

// GetExportTask handles GET /api/export/tasks/:task_id
// Returns the current snapshot of a background export
func (h *ExportHandler) GetExportTask(c *gin.Context) {
	rec, ok := h.export.Task(c.Param("task_id"))
	if !ok {
		jsonError(c, http.StatusNotFound, "任务不存在或已过期。")
		return
	}
	c.JSON(http.StatusOK, dto.ExportTaskStatusResponse{
		OK:   true,
		Task: dto.NewExportTask(rec),
	})
}

func exportErrorStatus(err error) int {
	switch {
	case errors.Is(err, export.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, export.ErrSessionBusy):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
