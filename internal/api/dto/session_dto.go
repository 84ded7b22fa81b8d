package dto

import (
	"github.com/lightencc/mistakebook/internal/geometry"
	"github.com/lightencc/mistakebook/internal/session"
)

// UploadedImage describes one stored image of a new session.
type UploadedImage struct {
	ImageID     string `json:"image_id"`
	ImageName   string `json:"image_name"`
	StoredImage string `json:"stored_image"`
	ImageWidth  int    `json:"image_width"`
	ImageHeight int    `json:"image_height"`
	ImageURL    string `json:"image_url"`
}

// UploadResponse answers a successful image upload.
type UploadResponse struct {
	OK                    bool            `json:"ok"`
	SessionID             string          `json:"session_id"`
	Images                []UploadedImage `json:"images"`
	DefaultPromptTemplate string          `json:"default_prompt_template"`
	DefaultModel          string          `json:"default_model"`
	NotionEnabled         bool            `json:"notion_enabled"`
}

// NewUploadResponse builds the upload reply from a freshly saved
// session.
func NewUploadResponse(sess *session.Session, defaultModel string, notionEnabled bool) UploadResponse {
	images := make([]UploadedImage, 0, len(sess.Images))
	for _, img := range sess.Images {
		images = append(images, UploadedImage{
			ImageID:     img.ID,
			ImageName:   img.Name,
			StoredImage: img.StoredName,
			ImageWidth:  img.Width,
			ImageHeight: img.Height,
			ImageURL:    "/uploads/" + img.StoredName,
		})
	}
	return UploadResponse{
		OK:                    true,
		SessionID:             sess.ID,
		Images:                images,
		DefaultPromptTemplate: sess.PromptTemplate,
		DefaultModel:          defaultModel,
		NotionEnabled:         notionEnabled,
	}
}

// RecognizeRequest asks for OCR over one annotated question region.
type RecognizeRequest struct {
	SessionID string        `json:"session_id"`
	ImageID   string        `json:"image_id"`
	Rect      geometry.Rect `json:"question_bbox"`
}

// RecognizeResponse carries the recognized text plus an inline preview
// of the cropped region.
type RecognizeResponse struct {
	OK          bool   `json:"ok"`
	OCRText     string `json:"ocr_text"`
	CropDataURL string `json:"crop_data_url"`
}

// AIHealthResponse reports one probe of the generative endpoint.
// Error is present only on failure.
type AIHealthResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Model     string `json:"model"`
	BaseURL   string `json:"base_url"`
	LatencyMS int64  `json:"latency_ms"`
}
