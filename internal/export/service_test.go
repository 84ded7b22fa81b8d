package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightencc/mistakebook/internal/geometry"
	"github.com/lightencc/mistakebook/internal/jobs"
	"github.com/lightencc/mistakebook/internal/session"
)

func (e *testEnv) service() *Service {
	return NewService(e.pipeline(), time.Hour, testLogger())
}

func TestService_StartTask_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service()

	id, snap, err := svc.StartTask(env.singleQuestionRequest())
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, jobs.StatusQueued, snap.Status)
	assert.Equal(t, "等待开始...", snap.Current)
	assert.Equal(t, env.sessionID, snap.SessionID)

	svc.Wait()

	rec, ok := svc.Task(id)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, rec.Status)
	assert.Equal(t, 1.0, rec.Progress)
	assert.Equal(t, "导出完成", rec.Current)
	assert.Empty(t, rec.Error)
	assert.False(t, rec.StartedAt.IsZero())
	assert.False(t, rec.FinishedAt.IsZero())

	assert.Equal(t, 1, rec.Detail.QuestionTotal)
	assert.Equal(t, 1, rec.Detail.QuestionPrepared)
	assert.Equal(t, 1, rec.Detail.QuestionDone)
	assert.InDelta(t, 0.5, rec.Detail.LastAIElapsedSec, 1e-9)

	require.NotNil(t, rec.Detail.Result)
	assert.True(t, rec.Detail.Result.OK)
	assert.Equal(t, 1, rec.Detail.Result.QuestionCount)
	assert.Equal(t, "/exports/"+env.sessionID+"/mistakes.md", rec.Detail.Result.MarkdownURL)
}

func TestService_StartTask_Validation(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service()

	_, _, err := svc.StartTask(Request{})
	assert.ErrorIs(t, err, ErrMissingSession)

	_, _, err = svc.StartTask(Request{SessionID: session.NewID(), Images: []ImageAnnotations{{}}})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = svc.StartTask(Request{SessionID: env.sessionID})
	assert.ErrorIs(t, err, ErrInvalidImages)
}

func TestService_StartTask_RejectsConcurrentExport(t *testing.T) {
	env := newTestEnv(t)
	env.generator.started = make(chan struct{})
	env.generator.release = make(chan struct{})
	svc := env.service()

	id, _, err := svc.StartTask(env.singleQuestionRequest())
	require.NoError(t, err)

	// The first worker sits inside generation; a second submission for
	// the same session must bounce.
	<-env.generator.started
	_, _, err = svc.StartTask(env.singleQuestionRequest())
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(env.generator.release)
	svc.Wait()

	rec, ok := svc.Task(id)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, rec.Status)

	// Terminal state frees the session for the next export.
	_, _, err = svc.StartTask(env.singleQuestionRequest())
	require.NoError(t, err)
	svc.Wait()
}

func TestService_TaskFailure(t *testing.T) {
	env := newTestEnv(t)
	env.uploader.fail = func(string) error { return errors.New("boom") }
	svc := env.service()

	id, _, err := svc.StartTask(env.singleQuestionRequest())
	require.NoError(t, err)
	svc.Wait()

	rec, ok := svc.Task(id)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusFailed, rec.Status)
	assert.Equal(t, "导出失败", rec.Current)
	assert.Equal(t, "GitHub 上传失败（img1_q1_question.png）：boom", rec.Error)
	assert.Nil(t, rec.Detail.Result)
	assert.InDelta(t, 0.01, rec.Progress, 1e-9)
	assert.False(t, rec.FinishedAt.IsZero())
}

func TestService_TaskWithWarnings(t *testing.T) {
	env := newTestEnv(t)
	env.uploader.fail = func(repoPath string) error {
		if strings.Contains(repoPath, "_fig") {
			return errors.New("boom")
		}
		return nil
	}
	svc := env.service()

	id, _, err := svc.StartTask(env.singleQuestionRequest())
	require.NoError(t, err)
	svc.Wait()

	rec, ok := svc.Task(id)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompletedWithErrors, rec.Status)
	assert.Equal(t, 1.0, rec.Progress)
	assert.Equal(t, "导出完成", rec.Current)
	require.NotNil(t, rec.Detail.Result)
	assert.Equal(t, []string{"GitHub 上传失败（img1_q1_fig1.png）：boom"}, rec.Detail.Result.Warnings)
}

func TestService_Task_UnknownID(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service()

	_, ok := svc.Task("missing")
	assert.False(t, ok)
}

func TestService_ProgressHook(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service()

	rec := svc.tasks.Create(env.sessionID, TaskState{})
	hook := svc.progressHook(rec.ID)

	hook(Event{Phase: PhasePrepare, Current: "准备中", QuestionTotal: 4, QuestionPrepared: 2})
	got, ok := svc.Task(rec.ID)
	require.True(t, ok)
	assert.InDelta(t, 0.125, got.Progress, 1e-9)
	assert.Equal(t, "准备中", got.Current)
	assert.Equal(t, 4, got.Detail.QuestionTotal)
	assert.Equal(t, 2, got.Detail.QuestionPrepared)

	hook(Event{Phase: PhaseAI, QuestionTotal: 4, QuestionPrepared: 4, QuestionDone: 3, LastAIElapsedSec: 1.5, AIElapsedTotalSec: 4.5})
	got, _ = svc.Task(rec.ID)
	assert.InDelta(t, 0.8125, got.Progress, 1e-9)
	assert.InDelta(t, 1.5, got.Detail.LastAIElapsedSec, 1e-9)
	assert.InDelta(t, 4.5, got.Detail.AIElapsedTotalSec, 1e-9)

	// A finished count never shows 100% before the terminal transition.
	hook(Event{Phase: PhaseAI, QuestionTotal: 4, QuestionPrepared: 4, QuestionDone: 4})
	got, _ = svc.Task(rec.ID)
	assert.InDelta(t, 0.999, got.Progress, 1e-9)

	// Zero totals leave the stored value untouched.
	hook(Event{Phase: PhaseAI, Current: "收尾"})
	got, _ = svc.Task(rec.ID)
	assert.InDelta(t, 0.999, got.Progress, 1e-9)
	assert.Equal(t, "收尾", got.Current)

	// Progress is monotonic even when counters move backwards.
	hook(Event{Phase: PhasePrepare, QuestionTotal: 4})
	got, _ = svc.Task(rec.ID)
	assert.InDelta(t, 0.999, got.Progress, 1e-9)
}

func TestService_ProgressHook_FinalizeFloor(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service()

	rec := svc.tasks.Create(env.sessionID, TaskState{})
	hook := svc.progressHook(rec.ID)

	hook(Event{Phase: PhaseFinalize, Current: "正在写入 Markdown 文件..."})
	got, ok := svc.Task(rec.ID)
	require.True(t, ok)
	assert.InDelta(t, 0.98, got.Progress, 1e-9)
}

func TestService_RunSync(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service()

	result, err := svc.RunSync(context.Background(), env.singleQuestionRequest())
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 1, result.QuestionCount)

	_, err = svc.RunSync(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrMissingSession)
}

func TestService_RunSync_SessionBusy(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service()

	require.True(t, svc.acquire(env.sessionID))
	defer svc.release(env.sessionID)

	_, err := svc.RunSync(context.Background(), env.singleQuestionRequest())
	assert.ErrorIs(t, err, ErrSessionBusy)
}

func TestTaskState_CloneIsDeep(t *testing.T) {
	state := TaskState{
		QuestionTotal: 2,
		Result: &Result{
			OK:        true,
			Documents: []DocumentRef{{Title: "错题 1", URL: "/exports/s/q1.md"}},
			Warnings:  []string{"w1"},
		},
	}

	clone := state.Clone()
	require.NotSame(t, state.Result, clone.Result)

	clone.Result.Warnings[0] = "changed"
	clone.Result.Documents[0].Title = "changed"
	assert.Equal(t, "w1", state.Result.Warnings[0])
	assert.Equal(t, "错题 1", state.Result.Documents[0].Title)
}

func TestQuestionInput_Normalize(t *testing.T) {
	q := QuestionInput{
		Number:      " 3 ",
		OCRText:     "  3+4=?  ",
		Rect:        geometry.Rect{X1: 0.4, Y1: 0.3, X2: 0.1, Y2: 0.1},
		FigureRects: nil,
		HasFigure:   true,
	}
	norm := q.Normalize()
	assert.Equal(t, "3", norm.Number)
	assert.Equal(t, "3+4=?", norm.OCRText)
	assert.Equal(t, geometry.Rect{X1: 0.1, Y1: 0.1, X2: 0.4, Y2: 0.3}, norm.Rect)
	assert.False(t, norm.HasFigure)
	assert.Empty(t, norm.FigureRects)

	q.FigureRects = []geometry.Rect{{X1: 0.5, Y1: 0.5, X2: 0.2, Y2: 0.2}}
	norm = q.Normalize()
	assert.True(t, norm.HasFigure)
	assert.Equal(t, geometry.Rect{X1: 0.2, Y1: 0.2, X2: 0.5, Y2: 0.5}, norm.FigureRects[0])
}
