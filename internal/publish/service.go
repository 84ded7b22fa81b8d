package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lightencc/mistakebook/internal/jobs"
	"github.com/lightencc/mistakebook/internal/markdown"
	"github.com/lightencc/mistakebook/internal/session"
	"github.com/lightencc/mistakebook/shared/logger"
)

// Service runs publish batches as tracked background jobs and serves
// the single-document path. Progress is the fraction of items in a
// terminal state, refreshed after every item transition.
type Service struct {
	pipeline   *Pipeline
	tasks      *jobs.Registry[TaskState]
	exportsDir string
	enabled    bool
	logger     *logger.Logger

	wg sync.WaitGroup
}

func NewService(pipeline *Pipeline, exportsDir string, enabled bool, retention time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Service{
		pipeline:   pipeline,
		tasks:      jobs.NewRegistry[TaskState](retention, pipeline.now),
		exportsDir: exportsDir,
		enabled:    enabled,
		logger:     log,
	}
}

// StartTask validates the request, registers a queued job over the
// valid items and launches its worker. Invalid items are reported back
// without blocking the rest; a request with no valid item at all is an
// error carrying the collected reasons.
func (s *Service) StartTask(req Request) (string, jobs.Record[TaskState], []string, error) {
	var zero jobs.Record[TaskState]

	if !s.enabled {
		return "", zero, nil, ErrNotConfigured
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return "", zero, nil, ErrMissingSession
	}
	if len(req.Items) == 0 {
		return "", zero, nil, ErrMissingItems
	}

	type entry struct {
		title string
		name  string
	}
	var (
		entries []entry
		invalid []string
	)
	for i, raw := range req.Items {
		title := strings.TrimSpace(raw.Title)
		if title == "" {
			title = fmt.Sprintf("错题 %d", i+1)
		}
		name := markdown.SanitizeDocName(raw.MarkdownName)
		if name == "" {
			invalid = append(invalid, fmt.Sprintf("%s：markdown_name 不合法", title))
			continue
		}
		if _, err := os.Stat(filepath.Join(s.exportsDir, sessionID, name)); err != nil {
			invalid = append(invalid, fmt.Sprintf("%s：Markdown 不存在（%s）", title, name))
			continue
		}
		entries = append(entries, entry{title: title, name: name})
	}
	if len(entries) == 0 {
		if len(invalid) > 0 {
			return "", zero, invalid, errors.New(strings.Join(invalid, "；"))
		}
		return "", zero, invalid, errors.New("未找到可上传的 Markdown。")
	}

	items := make([]Item, 0, len(entries))
	for i, e := range entries {
		items = append(items, Item{
			Index:        i + 1,
			Title:        e.title,
			MarkdownName: e.name,
			Status:       ItemPending,
			Steps:        []string{},
		})
	}

	rec := s.tasks.Create(sessionID, TaskState{Total: len(items), Items: items})
	s.logger.Info("publish task created", "task", rec.ID, "session", sessionID, "total", len(items), "invalid", len(invalid))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(rec.ID)
	}()
	return rec.ID, rec, invalid, nil
}

// Task returns a snapshot of the job record, or false once it has been
// evicted or never existed.
func (s *Service) Task(id string) (jobs.Record[TaskState], bool) {
	return s.tasks.Get(id)
}

// Wait blocks until every launched worker has finished. Used on
// shutdown and in tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

// PublishDocument uploads a single exported document inline.
func (s *Service) PublishDocument(ctx context.Context, sessionID, markdownName string) (*UploadResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	markdownName = strings.TrimSpace(markdownName)
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	if markdownName == "" {
		return nil, ErrMissingName
	}
	if !strings.HasSuffix(strings.ToLower(markdownName), ".md") {
		return nil, ErrNameNotMarkdown
	}
	if strings.ContainsAny(markdownName, `/\`) {
		return nil, ErrNameInvalid
	}

	path := filepath.Join(s.exportsDir, sessionID, markdownName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("上传 Notion 失败：%w", err)
	}

	result, err := s.pipeline.Publish(ctx, string(data))
	if err != nil {
		s.logger.Error("publish failed", "session", sessionID, "markdown", markdownName, "error", err)
		return nil, fmt.Errorf("上传 Notion 失败：%w", err)
	}
	s.logger.Info("publish done", "session", sessionID, "markdown", markdownName, "page_id", result.PageID)
	return result, nil
}

func (s *Service) run(taskID string) {
	s.tasks.Start(taskID)

	rec, ok := s.tasks.Get(taskID)
	if !ok {
		return
	}
	log := s.logger.With("task", taskID, "session", rec.SessionID)
	log.Info("publish task started", "total", rec.Detail.Total)

	for i := range rec.Detail.Items {
		item := rec.Detail.Items[i]
		s.tasks.Update(taskID, func(r *jobs.Record[TaskState]) {
			it := &r.Detail.Items[i]
			it.Status = ItemRunning
			it.StartedAt = s.nowString()
			if item.Title != "" {
				r.Current = item.Title
			} else {
				r.Current = item.MarkdownName
			}
		})
		log.Info("publish item started", "markdown", item.MarkdownName, "title", item.Title)

		result, err := s.publishFile(context.Background(), rec.SessionID, item.MarkdownName)
		if err != nil {
			s.tasks.Update(taskID, func(r *jobs.Record[TaskState]) {
				it := &r.Detail.Items[i]
				it.Status = ItemFailed
				it.Error = err.Error()
				it.FinishedAt = s.nowString()
				refreshProgress(r)
			})
			log.Warn("publish item failed", "markdown", item.MarkdownName, "error", err)
			continue
		}

		s.tasks.Update(taskID, func(r *jobs.Record[TaskState]) {
			it := &r.Detail.Items[i]
			it.Status = ItemSuccess
			it.Error = ""
			it.PageID = result.PageID
			it.PageURL = result.PageURL
			it.FinalTitle = result.Title
			it.IDValue = result.IDValue
			it.Steps = result.Steps
			it.FinishedAt = s.nowString()
			refreshProgress(r)
		})
		log.Info("publish item done", "markdown", item.MarkdownName, "page_id", result.PageID)
	}

	final, _ := s.tasks.Get(taskID)
	status := jobs.StatusCompleted
	if final.Detail.Failed > 0 {
		status = jobs.StatusCompletedWithErrors
	}
	s.tasks.Finish(taskID, status, "", func(r *jobs.Record[TaskState]) {
		r.Current = ""
	})
	log.Info("publish task finished", "success", final.Detail.Success, "failed", final.Detail.Failed, "total", final.Detail.Total)
}

func (s *Service) publishFile(ctx context.Context, sessionID, markdownName string) (*UploadResult, error) {
	path := filepath.Join(s.exportsDir, sessionID, markdownName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Markdown 文件不存在：%s", markdownName)
	}
	if err != nil {
		return nil, err
	}
	return s.pipeline.Publish(ctx, string(data))
}

func (s *Service) nowString() string {
	return s.pipeline.now().Format(session.TimeLayout)
}

// refreshProgress recomputes the counters from the item statuses and
// maps completion onto the record's progress.
func refreshProgress(r *jobs.Record[TaskState]) {
	completed, success, failed := 0, 0, 0
	for _, it := range r.Detail.Items {
		switch it.Status {
		case ItemSuccess:
			completed++
			success++
		case ItemFailed:
			completed++
			failed++
		}
	}
	r.Detail.Total = len(r.Detail.Items)
	r.Detail.Completed = completed
	r.Detail.Success = success
	r.Detail.Failed = failed
	if r.Detail.Total > 0 {
		r.Progress = float64(completed) / float64(r.Detail.Total)
	} else {
		r.Progress = 1
	}
}
