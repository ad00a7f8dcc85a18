package badger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store, logger: arbor.NewLogger()}
}

func seedJob(t *testing.T, s *RunStorage, jobID string, cases, tasksPerCase int) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SaveJob(ctx, &models.Job{ID: jobID, Status: models.StatusQueued, CreatedAt: time.Now()}))
	// Save out of order to prove listing sorts by position
	for c := cases - 1; c >= 0; c-- {
		caseID := fmt.Sprintf("%s-case-%d", jobID, c)
		require.NoError(t, s.SaveCaseRun(ctx, &models.TestCaseRun{ID: caseID, JobID: jobID, Position: c, Status: models.StatusQueued}))
		for k := tasksPerCase - 1; k >= 0; k-- {
			require.NoError(t, s.SaveTaskRun(ctx, &models.TestTaskRun{
				ID:       fmt.Sprintf("%s-task-%d", caseID, k),
				JobID:    jobID,
				CaseID:   caseID,
				Position: k,
				Status:   models.StatusQueued,
			}))
		}
	}
}

func TestRunStorage_TerminalStatusIsSticky(t *testing.T) {
	ctx := context.Background()
	s := NewRunStorage(newTestDB(t), arbor.NewLogger())
	seedJob(t, s, "job-1", 1, 1)

	effective, err := s.UpdateTaskStatus(ctx, "job-1-case-0-task-0", models.StatusRunning, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, effective)

	effective, err = s.UpdateTaskStatus(ctx, "job-1-case-0-task-0", models.StatusFailed, "element not found")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, effective)

	// Writing the same terminal status twice changes nothing
	effective, err = s.UpdateTaskStatus(ctx, "job-1-case-0-task-0", models.StatusFailed, "second write")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, effective)

	// Leaving a terminal state is a no-op
	effective, err = s.UpdateTaskStatus(ctx, "job-1-case-0-task-0", models.StatusPass, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, effective)

	task, err := s.GetTaskRun(ctx, "job-1-case-0-task-0")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, "element not found", task.Output)
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.FinishedAt)

	_, err = s.UpdateJobStatus(ctx, "job-1", models.StatusCanceled)
	require.NoError(t, err)
	effective, err = s.UpdateJobStatus(ctx, "job-1", models.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, effective)
}

func TestRunStorage_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewRunStorage(newTestDB(t), arbor.NewLogger())

	_, err := s.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, interfaces.ErrRecordNotFound))

	_, err = s.UpdateCaseStatus(ctx, "missing", models.StatusRunning)
	assert.True(t, errors.Is(err, interfaces.ErrRecordNotFound))
}

func TestRunStorage_FinishOpenRuns(t *testing.T) {
	ctx := context.Background()
	s := NewRunStorage(newTestDB(t), arbor.NewLogger())
	seedJob(t, s, "job-1", 2, 2)

	_, err := s.UpdateTaskStatus(ctx, "job-1-case-0-task-0", models.StatusPass, "")
	require.NoError(t, err)

	changed, err := s.FinishOpenRuns(ctx, "job-1", models.StatusCanceled)
	require.NoError(t, err)
	// 3 open tasks and 2 open cases
	assert.Equal(t, 5, changed)

	detail, err := s.GetJobDetail(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, detail.Cases, 2)

	assert.Equal(t, models.StatusPass, detail.Cases[0].Tasks[0].Status)
	assert.Equal(t, models.StatusCanceled, detail.Cases[0].Tasks[1].Status)
	for _, c := range detail.Cases {
		assert.Equal(t, models.StatusCanceled, c.Status)
	}
}

func TestRunStorage_JobDetailOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewRunStorage(newTestDB(t), arbor.NewLogger())
	seedJob(t, s, "job-1", 3, 3)
	seedJob(t, s, "job-2", 1, 1)

	detail, err := s.GetJobDetail(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, detail.Cases, 3)

	for c, cd := range detail.Cases {
		assert.Equal(t, c, cd.Position)
		require.Len(t, cd.Tasks, 3)
		for k, td := range cd.Tasks {
			assert.Equal(t, k, td.Position)
			assert.Equal(t, cd.ID, td.CaseID)
		}
	}
}

func TestRunStorage_ListStaleJobs(t *testing.T) {
	ctx := context.Background()
	s := NewRunStorage(newTestDB(t), arbor.NewLogger())

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.SaveJob(ctx, &models.Job{ID: "stale", Status: models.StatusRunning, UpdatedAt: old}))
	require.NoError(t, s.SaveJob(ctx, &models.Job{ID: "fresh", Status: models.StatusRunning, UpdatedAt: time.Now()}))
	require.NoError(t, s.SaveJob(ctx, &models.Job{ID: "done", Status: models.StatusPass, UpdatedAt: old}))

	jobs, err := s.ListStaleJobs(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "stale", jobs[0].ID)

	running, err := s.ListJobsByStatus(ctx, models.StatusRunning)
	require.NoError(t, err)
	assert.Len(t, running, 2)
}

func TestRunStorage_SetCaseArtifacts(t *testing.T) {
	ctx := context.Background()
	s := NewRunStorage(newTestDB(t), arbor.NewLogger())
	seedJob(t, s, "job-1", 1, 0)

	require.NoError(t, s.SetCaseArtifacts(ctx, "job-1-case-0", "", "https://cdn/shot.png"))
	require.NoError(t, s.SetCaseArtifacts(ctx, "job-1-case-0", "https://cdn/video.mp4", ""))

	run, err := s.GetCaseRun(ctx, "job-1-case-0")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/video.mp4", run.VideoURL)
	assert.Equal(t, "https://cdn/shot.png", run.ScreenshotURL)
}
