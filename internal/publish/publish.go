// Package publish pushes exported review documents into the remote
// page database: one page per document, created under a provisional
// title, renamed from the database's own ID property and filled with
// converted blocks. Runs are tracked as jobs with per-item status so
// one bad document never blocks the rest of the batch.
package publish

import (
	"context"
	"errors"

	"github.com/lightencc/mistakebook/shared/notionapi"
)

var (
	// ErrNotConfigured rejects submissions while the page store has no
	// credentials.
	ErrNotConfigured = errors.New("Notion 未配置（缺少 NOTION_API_KEY/NOTION_DATABASE_ID 或 NOTION_DATA_SOURCE_ID）。")
	// ErrMissingSession rejects requests without a session id.
	ErrMissingSession = errors.New("缺少 session_id。")
	// ErrMissingItems rejects requests without an item list.
	ErrMissingItems = errors.New("缺少 items。")
	// ErrMissingName rejects single-document requests without a name.
	ErrMissingName = errors.New("缺少 markdown_name。")
	// ErrNameNotMarkdown rejects names without a .md suffix.
	ErrNameNotMarkdown = errors.New("markdown_name 必须是 .md 文件。")
	// ErrNameInvalid rejects names carrying path separators.
	ErrNameInvalid = errors.New("markdown_name 不合法。")
	// ErrDocumentNotFound marks a missing export file on the
	// single-document path; handlers map it to a 404.
	ErrDocumentNotFound = errors.New("Markdown 文件不存在。")
)

// PageStore is the page-database surface the pipeline drives.
// *notionapi.Client satisfies it.
type PageStore interface {
	ResolveSchema(ctx context.Context) (notionapi.Parent, notionapi.Schema, error)
	CreatePage(ctx context.Context, parent notionapi.Parent, titleProp, title string) (notionapi.Page, error)
	RetrievePageProperties(ctx context.Context, pageID string) (map[string]any, error)
	UpdatePageTitle(ctx context.Context, pageID, titleProp, title string) error
	AppendBlockChildren(ctx context.Context, blockID string, blocks []notionapi.Block) error
}

// ConvertFunc turns a markdown document into page blocks.
type ConvertFunc func(markdownText string) ([]notionapi.Block, error)

// ItemInput is one requested document upload.
type ItemInput struct {
	Title        string `json:"title"`
	MarkdownName string `json:"markdown_name"`
}

// Request is one publish submission.
type Request struct {
	SessionID string      `json:"session_id"`
	Items     []ItemInput `json:"items"`
}

// Item statuses, in lifecycle order.
const (
	ItemPending = "pending"
	ItemRunning = "running"
	ItemSuccess = "success"
	ItemFailed  = "failed"
)

// Item tracks one document through a publish run. Timestamps use the
// session time layout and stay empty until reached.
type Item struct {
	Index        int      `json:"index"`
	Title        string   `json:"title"`
	MarkdownName string   `json:"markdown_name"`
	Status       string   `json:"status"`
	PageID       string   `json:"page_id"`
	PageURL      string   `json:"page_url"`
	FinalTitle   string   `json:"final_title"`
	IDValue      string   `json:"id_value"`
	Error        string   `json:"error"`
	Steps        []string `json:"steps"`
	StartedAt    string   `json:"started_at"`
	FinishedAt   string   `json:"finished_at"`
}

// TaskState is the publish-specific detail carried by a job record.
// The counters are recomputed from Items after every transition.
type TaskState struct {
	Total     int
	Completed int
	Success   int
	Failed    int
	Items     []Item
}

// Clone deep-copies the state so registry snapshots share nothing with
// the live record.
func (s TaskState) Clone() TaskState {
	items := make([]Item, len(s.Items))
	copy(items, s.Items)
	for i := range items {
		items[i].Steps = append([]string(nil), items[i].Steps...)
	}
	s.Items = items
	return s
}

// UploadResult is the outcome of publishing one document.
type UploadResult struct {
	PageID  string
	PageURL string
	Title   string
	IDValue string
	Steps   []string
}
