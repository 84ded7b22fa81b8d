package dto

import (
	"github.com/lightencc/mistakebook/internal/jobs"
	"github.com/lightencc/mistakebook/internal/publish"
)

// PublishTask is the poll snapshot of a publish job, items included.
type PublishTask struct {
	TaskID          string         `json:"task_id"`
	SessionID       string         `json:"session_id"`
	Status          string         `json:"status"`
	Total           int            `json:"total"`
	Completed       int            `json:"completed"`
	Success         int            `json:"success"`
	Failed          int            `json:"failed"`
	ProgressPercent float64        `json:"progress_percent"`
	Current         string         `json:"current"`
	Error           string         `json:"error"`
	CreatedAt       string         `json:"created_at"`
	StartedAt       string         `json:"started_at"`
	FinishedAt      string         `json:"finished_at"`
	Items           []publish.Item `json:"items"`
}

// NewPublishTask flattens a job record into its wire snapshot.
func NewPublishTask(rec jobs.Record[publish.TaskState]) PublishTask {
	items := rec.Detail.Items
	if items == nil {
		items = []publish.Item{}
	}
	return PublishTask{
		TaskID:          rec.ID,
		SessionID:       rec.SessionID,
		Status:          string(rec.Status),
		Total:           rec.Detail.Total,
		Completed:       rec.Detail.Completed,
		Success:         rec.Detail.Success,
		Failed:          rec.Detail.Failed,
		ProgressPercent: Percent(rec.Progress),
		Current:         rec.Current,
		Error:           rec.Error,
		CreatedAt:       TimeString(rec.CreatedAt),
		StartedAt:       TimeString(rec.StartedAt),
		FinishedAt:      TimeString(rec.FinishedAt),
		Items:           items,
	}
}

// PublishTaskCreatedResponse answers a batch submission. InvalidItems
// lists the skipped entries, one reason each.
type PublishTaskCreatedResponse struct {
	OK           bool        `json:"ok"`
	TaskID       string      `json:"task_id"`
	Task         PublishTask `json:"task"`
	InvalidItems []string    `json:"invalid_items"`
}

// PublishTaskStatusResponse answers a task poll.
type PublishTaskStatusResponse struct {
	OK   bool        `json:"ok"`
	Task PublishTask `json:"task"`
}

// PublishDocumentResponse answers the synchronous single-document
// upload.
type PublishDocumentResponse struct {
	OK           bool     `json:"ok"`
	MarkdownName string   `json:"markdown_name"`
	PageID       string   `json:"page_id"`
	PageURL      string   `json:"page_url"`
	Title        string   `json:"title"`
	IDValue      string   `json:"id_value"`
	Steps        []string `json:"steps"`
}
