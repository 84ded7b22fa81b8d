// Package export turns a session's annotated homework photos into
// review documents: it crops each marked question, pushes the crops to
// the image store, asks the AI generator for a review write-up per
// question and renders the per-session markdown set. Runs execute
// either synchronously or as tracked background jobs.
package export

import (
	"context"
	"errors"
	"strings"

	"github.com/lightencc/mistakebook/internal/geometry"
	"github.com/lightencc/mistakebook/shared/gemini"
)

var (
	// ErrMissingSession rejects requests without a session id.
	ErrMissingSession = errors.New("缺少 session_id。")
	// ErrSessionNotFound rejects requests whose session file is gone.
	ErrSessionNotFound = errors.New("会话不存在，请重新上传图片。")
	// ErrInvalidImages rejects task submissions without an image list.
	ErrInvalidImages = errors.New("images 格式错误。")
	// ErrSessionBusy rejects a second export for a session that already
	// has one in flight. Two concurrent runs would interleave writes
	// inside the same export directory.
	ErrSessionBusy = errors.New("该会话已有导出任务进行中，请稍后再试。")
)

// Uploader pushes a local asset to the remote image store and returns
// its public URL.
type Uploader interface {
	Upload(ctx context.Context, localPath, repoPath, commitMessage string) (string, error)
}

// Generator produces the review document body for one prepared
// question.
type Generator interface {
	GenerateReview(ctx context.Context, req gemini.ReviewRequest) (string, error)
}

// Request is one export submission: the target session plus the
// manually annotated questions of each uploaded image, in the order
// the client sent them.
type Request struct {
	SessionID      string             `json:"session_id"`
	Images         []ImageAnnotations `json:"images"`
	PromptTemplate string             `json:"prompt_template"`
}

// ImageAnnotations carries the question annotations for one image of
// the session.
type ImageAnnotations struct {
	ImageID   string          `json:"image_id"`
	Questions []QuestionInput `json:"questions"`
}

// QuestionInput is one client-annotated question region.
type QuestionInput struct {
	Number      string          `json:"question_no"`
	Rect        geometry.Rect   `json:"question_bbox"`
	FigureRects []geometry.Rect `json:"figure_bboxes"`
	OCRText     string          `json:"ocr_text"`
	HasFigure   bool            `json:"has_figure"`
}

// Normalize trims the free-text fields, sanitizes every rectangle and
// derives HasFigure from the figure list.
func (q QuestionInput) Normalize() QuestionInput {
	q.Number = strings.TrimSpace(q.Number)
	q.OCRText = strings.TrimSpace(q.OCRText)
	q.Rect = q.Rect.Sanitize()
	figures := make([]geometry.Rect, 0, len(q.FigureRects))
	for _, r := range q.FigureRects {
		figures = append(figures, r.Sanitize())
	}
	q.FigureRects = figures
	q.HasFigure = len(figures) > 0
	return q
}

// DocumentRef points at one generated review document.
type DocumentRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Result is the payload a finished run hands back to clients.
type Result struct {
	OK            bool          `json:"ok"`
	MarkdownURL   string        `json:"markdown_url"`
	Documents     []DocumentRef `json:"markdown_urls"`
	ExportDir     string        `json:"export_dir"`
	QuestionCount int           `json:"question_count"`
	Warnings      []string      `json:"warnings"`
}

// Phases of a run, in execution order.
const (
	PhasePrepare  = "prepare"
	PhaseAI       = "ai"
	PhaseFinalize = "finalize"
)

// Event is one progress report emitted by a running pipeline. Counter
// fields carry the run totals as of the emit, not deltas.
type Event struct {
	Phase             string
	Current           string
	QuestionTotal     int
	QuestionPrepared  int
	QuestionDone      int
	LastAIElapsedSec  float64
	AIElapsedTotalSec float64
}

// ProgressFunc receives pipeline progress events. A nil func is
// allowed and disables reporting.
type ProgressFunc func(Event)

func emit(progress ProgressFunc, ev Event) {
	if progress != nil {
		progress(ev)
	}
}

// TaskState is the export-specific detail carried by a job record.
type TaskState struct {
	QuestionTotal     int
	QuestionPrepared  int
	QuestionDone      int
	LastAIElapsedSec  float64
	AIElapsedTotalSec float64
	Result            *Result
}

// Clone deep-copies the state so registry snapshots share nothing with
// the live record.
func (s TaskState) Clone() TaskState {
	if s.Result != nil {
		r := *s.Result
		r.Documents = append([]DocumentRef(nil), s.Result.Documents...)
		r.Warnings = append([]string(nil), s.Result.Warnings...)
		s.Result = &r
	}
	return s
}
