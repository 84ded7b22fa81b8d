package dto

import (
	"github.com/lightencc/mistakebook/internal/export"
	"github.com/lightencc/mistakebook/internal/jobs"
)

// ExportTask is the poll snapshot of an export job. Result stays null
// until the run finishes; Error is always a string, empty while the
// job is healthy.
type ExportTask struct {
	TaskID            string         `json:"task_id"`
	SessionID         string         `json:"session_id"`
	Status            string         `json:"status"`
	ProgressPercent   float64        `json:"progress_percent"`
	Current           string         `json:"current"`
	Error             string         `json:"error"`
	QuestionTotal     int            `json:"question_total"`
	QuestionPrepared  int            `json:"question_prepared"`
	QuestionDone      int            `json:"question_done"`
	LastAIElapsedSec  float64        `json:"last_ai_elapsed_sec"`
	AIElapsedTotalSec float64        `json:"ai_elapsed_total_sec"`
	CreatedAt         string         `json:"created_at"`
	StartedAt         string         `json:"started_at"`
	FinishedAt        string         `json:"finished_at"`
	Result            *export.Result `json:"result"`
}

// NewExportTask flattens a job record into its wire snapshot.
func NewExportTask(rec jobs.Record[export.TaskState]) ExportTask {
	return ExportTask{
		TaskID:            rec.ID,
		SessionID:         rec.SessionID,
		Status:            string(rec.Status),
		ProgressPercent:   Percent(rec.Progress),
		Current:           rec.Current,
		Error:             rec.Error,
		QuestionTotal:     rec.Detail.QuestionTotal,
		QuestionPrepared:  rec.Detail.QuestionPrepared,
		QuestionDone:      rec.Detail.QuestionDone,
		LastAIElapsedSec:  rec.Detail.LastAIElapsedSec,
		AIElapsedTotalSec: rec.Detail.AIElapsedTotalSec,
		CreatedAt:         TimeString(rec.CreatedAt),
		StartedAt:         TimeString(rec.StartedAt),
		FinishedAt:        TimeString(rec.FinishedAt),
		Result:            rec.Detail.Result,
	}
}

// ExportTaskCreatedResponse answers a task submission.
type ExportTaskCreatedResponse struct {
	OK     bool       `json:"ok"`
	TaskID string     `json:"task_id"`
	Task   ExportTask `json:"task"`
}

// ExportTaskStatusResponse answers a task poll.
type ExportTaskStatusResponse struct {
	OK   bool       `json:"ok"`
	Task ExportTask `json:"task"`
}
