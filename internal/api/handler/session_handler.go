package handler

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lightencc/mistakebook/internal/api/dto"
	"github.com/lightencc/mistakebook/internal/imaging"
	"github.com/lightencc/mistakebook/internal/markdown"
	"github.com/lightencc/mistakebook/internal/ocrtext"
	"github.com/lightencc/mistakebook/internal/session"
	"github.com/lightencc/mistakebook/shared/baiduocr"
	"github.com/lightencc/mistakebook/shared/logger"
)

// SessionHandler handles upload and question-recognition HTTP requests
type SessionHandler struct {
	logger        *logger.Logger
	sessions      *session.Store
	ocr           OCRClient
	uploadsDir    string
	cacheDir      string
	minConfidence float64
	defaultModel  string
	notionEnabled bool
}

// NewSessionHandler creates a new SessionHandler instance
func NewSessionHandler(deps *Dependencies) *SessionHandler {
	return &SessionHandler{
		logger:        deps.Logger,
		sessions:      deps.Sessions,
		ocr:           deps.OCR,
		uploadsDir:    deps.Config.Storage.UploadsDir(),
		cacheDir:      deps.Config.Storage.OCRCacheDir(),
		minConfidence: deps.Config.OCR.PrintedMinConfidence,
		defaultModel:  deps.Config.Gemini.Model,
		notionEnabled: deps.Config.Notion.Enabled(),
	}
}

// Upload handles POST /api/upload
// Stores the submitted photos and opens a session over them
func (h *SessionHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		jsonError(c, http.StatusBadRequest, "请至少选择一张图片。")
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		files = form.File["image"]
	}
	if len(files) == 0 {
		jsonError(c, http.StatusBadRequest, "请至少选择一张图片。")
		return
	}

	sessionID := session.NewID()
	images := make([]session.Image, 0, len(files))
	for _, fh := range files {
		if fh == nil || fh.Filename == "" {
			continue
		}
		if !imaging.AllowedImage(fh.Filename) {
			jsonError(c, http.StatusBadRequest, fmt.Sprintf("文件不支持：%s", fh.Filename))
			return
		}

		suffix := strings.ToLower(filepath.Ext(filepath.Base(fh.Filename)))
		if suffix == "" {
			suffix = ".jpg"
		}
		imageID := session.NewImageID()
		storedName := fmt.Sprintf("%s_%s%s", sessionID, imageID, suffix)
		storedPath := filepath.Join(h.uploadsDir, storedName)

		if err := c.SaveUploadedFile(fh, storedPath); err != nil {
			h.logger.Error("save upload failed", slog.String("file", fh.Filename), slog.String("error", err.Error()))
			jsonError(c, http.StatusInternalServerError, fmt.Sprintf("无法保存图片：%s", fh.Filename))
			return
		}
		width, height, err := imaging.Dimensions(storedPath)
		if err != nil {
			jsonError(c, http.StatusBadRequest, fmt.Sprintf("无法读取图片：%s", fh.Filename))
			return
		}

		images = append(images, session.Image{
			ID:         imageID,
			Name:       fh.Filename,
			StoredName: storedName,
			Width:      width,
			Height:     height,
		})
	}
	if len(images) == 0 {
		jsonError(c, http.StatusBadRequest, "未检测到有效图片。")
		return
	}

	sess := &session.Session{
		ID:             sessionID,
		CreatedAt:      time.Now().Format(session.TimeLayout),
		Images:         images,
		PromptTemplate: markdown.DefaultPromptTemplate,
	}
	if err := h.sessions.Save(sess); err != nil {
		h.logger.Error("save session failed", slog.String("session", sessionID), slog.String("error", err.Error()))
		jsonError(c, http.StatusInternalServerError, "保存会话失败。")
		return
	}

	h.logger.Info("session created",
		slog.String("session", sessionID),
		slog.Int("images", len(images)),
	)
	c.JSON(http.StatusOK, dto.NewUploadResponse(sess, h.defaultModel, h.notionEnabled))
}

// RecognizeQuestion handles POST /api/recognize-question
// Crops the annotated region and runs printed-text recognition over it
func (h *SessionHandler) RecognizeQuestion(c *gin.Context) {
	var req dto.RecognizeRequest
	// A malformed body degrades to the zero request and fails the field
	// checks below.
	_ = c.ShouldBindJSON(&req)

	sessionID := strings.TrimSpace(req.SessionID)
	imageID := strings.TrimSpace(req.ImageID)
	if sessionID == "" {
		jsonError(c, http.StatusBadRequest, "缺少 session_id。")
		return
	}
	if imageID == "" {
		jsonError(c, http.StatusBadRequest, "缺少 image_id。")
		return
	}

	sess, err := h.sessions.Load(sessionID)
	if err != nil {
		jsonError(c, http.StatusNotFound, "会话不存在，请重新上传图片。")
		return
	}
	img, ok := sess.FindImage(imageID)
	if !ok {
		jsonError(c, http.StatusNotFound, "图片不存在。")
		return
	}
	imagePath := filepath.Join(h.uploadsDir, img.StoredName)
	if _, err := os.Stat(imagePath); err != nil {
		jsonError(c, http.StatusNotFound, "源图片不存在。")
		return
	}

	cropPath := filepath.Join(h.cacheDir, sessionID, fmt.Sprintf("%s_%s.png", imageID, randomHex(10)))
	ok, err = imaging.Crop(imagePath, req.Rect, cropPath)
	if err != nil || !ok {
		jsonError(c, http.StatusBadRequest, "裁剪题目区域失败，请检查框选范围。")
		return
	}

	raw, err := h.ocr.Recognize(c.Request.Context(), cropPath)
	if err != nil {
		jsonError(c, http.StatusBadRequest, fmt.Sprintf("OCR 调用失败：%v", err))
		return
	}
	if code := baiduocr.ErrorCode(raw); code > 0 {
		msg := baiduocr.ErrorMessage(raw)
		if msg == "" {
			msg = "未知错误"
		}
		jsonError(c, http.StatusBadRequest, fmt.Sprintf("OCR 返回错误：%s", msg))
		return
	}

	text := ocrtext.Filter(raw, h.minConfidence)
	dataURL, err := imaging.DataURL(cropPath)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "读取截图失败。")
		return
	}
	c.JSON(http.StatusOK, dto.RecognizeResponse{
		OK:          true,
		OCRText:     text,
		CropDataURL: dataURL,
	})
}

func randomHex(n int) string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:n]
}
