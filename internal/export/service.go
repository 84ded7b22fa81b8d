package export

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lightencc/mistakebook/internal/jobs"
	"github.com/lightencc/mistakebook/internal/session"
	"github.com/lightencc/mistakebook/shared/logger"
)

// Service runs exports as tracked background jobs. At most one job per
// session may be in flight at a time; a second submission is rejected
// so two runs never interleave writes inside one export directory.
type Service struct {
	pipeline *Pipeline
	tasks    *jobs.Registry[TaskState]
	logger   *logger.Logger

	mu       sync.Mutex
	inflight map[string]struct{}

	wg sync.WaitGroup
}

func NewService(pipeline *Pipeline, retention time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Service{
		pipeline: pipeline,
		tasks:    jobs.NewRegistry[TaskState](retention, pipeline.now),
		logger:   log,
		inflight: make(map[string]struct{}),
	}
}

// RunSync executes the pipeline inline, without a registry record. The
// per-session guard still applies.
func (s *Service) RunSync(ctx context.Context, req Request) (*Result, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	if !s.acquire(sessionID) {
		return nil, ErrSessionBusy
	}
	defer s.release(sessionID)
	return s.pipeline.Run(ctx, req, nil)
}

// StartTask validates the request, registers a queued job and launches
// its worker. It returns the job id and the initial snapshot.
func (s *Service) StartTask(req Request) (string, jobs.Record[TaskState], error) {
	var zero jobs.Record[TaskState]

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return "", zero, ErrMissingSession
	}
	if _, err := s.pipeline.sessions.Load(sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", zero, ErrSessionNotFound
		}
		return "", zero, err
	}
	// An empty list is a valid submission (it exports a bare index);
	// only an absent or non-list images field is rejected.
	if req.Images == nil {
		return "", zero, ErrInvalidImages
	}
	if !s.acquire(sessionID) {
		return "", zero, ErrSessionBusy
	}

	rec := s.tasks.Create(sessionID, TaskState{})
	s.tasks.Update(rec.ID, func(r *jobs.Record[TaskState]) {
		r.Current = "等待开始..."
	})
	snap, _ := s.tasks.Get(rec.ID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(sessionID)
		s.run(rec.ID, req)
	}()
	return rec.ID, snap, nil
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

func (s *Service) run(taskID string, req Request) {
	log := s.logger.With("task", taskID, "session", req.SessionID)
	log.Info("export task started")

	s.tasks.Start(taskID)
	s.tasks.Update(taskID, func(r *jobs.Record[TaskState]) {
		r.Progress = 0.01
		r.Current = "正在准备导出任务..."
	})

	result, err := s.pipeline.Run(context.Background(), req, s.progressHook(taskID))
	if err != nil {
		s.tasks.Finish(taskID, jobs.StatusFailed, err.Error(), func(r *jobs.Record[TaskState]) {
			r.Current = "导出失败"
		})
		log.Error("export task failed", "error", err)
		return
	}

	status := jobs.StatusCompleted
	if len(result.Warnings) > 0 {
		status = jobs.StatusCompletedWithErrors
	}
	s.tasks.Finish(taskID, status, "", func(r *jobs.Record[TaskState]) {
		r.Current = "导出完成"
		r.Detail.Result = result
	})
	log.Info("export task finished", "status", status, "questions", result.QuestionCount, "warnings", len(result.Warnings))
}

// progressHook folds pipeline events into the job record. Preparation
// counts for a quarter of the run and generation for the rest; the
// stored value stays below 1 until Finish so pollers only ever see
// 100% on a terminal record.
func (s *Service) progressHook(taskID string) ProgressFunc {
	return func(ev Event) {
		s.tasks.Update(taskID, func(r *jobs.Record[TaskState]) {
			r.Detail.QuestionTotal = ev.QuestionTotal
			r.Detail.QuestionPrepared = ev.QuestionPrepared
			r.Detail.QuestionDone = ev.QuestionDone
			r.Detail.LastAIElapsedSec = ev.LastAIElapsedSec
			r.Detail.AIElapsedTotalSec = ev.AIElapsedTotalSec

			progress := r.Progress
			if ev.QuestionTotal > 0 {
				prep := float64(ev.QuestionPrepared) / float64(ev.QuestionTotal)
				if prep > 1 {
					prep = 1
				}
				done := float64(ev.QuestionDone) / float64(ev.QuestionTotal)
				if done > 1 {
					done = 1
				}
				progress = 0.25*prep + 0.75*done
			}
			if ev.Phase == PhaseFinalize && progress < 0.98 {
				progress = 0.98
			}
			if progress > 0.999 {
				progress = 0.999
			}
			r.Progress = progress
			r.Current = ev.Current
		})
	}
}

func (s *Service) acquire(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[sessionID]; busy {
		return false
	}
	s.inflight[sessionID] = struct{}{}
	return true
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, sessionID)
}
