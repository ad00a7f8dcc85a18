// -----------------------------------------------------------------------
// Last Modified: Tuesday, 13th October 2026 4:12:08 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/bugowl/internal/models"
)

// ErrRecordNotFound is returned when a run record does not exist
var ErrRecordNotFound = errors.New("record not found")

// RunStore - interface for job, test case run and test task run persistence.
// Status updates never leave a terminal state; they return the stored status.
type RunStore interface {
	// Job operations
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.Status) (models.Status, error)
	ListJobsByStatus(ctx context.Context, status models.Status) ([]*models.Job, error)

	// Test case run operations
	SaveCaseRun(ctx context.Context, run *models.TestCaseRun) error
	GetCaseRun(ctx context.Context, caseID string) (*models.TestCaseRun, error)
	ListCaseRuns(ctx context.Context, jobID string) ([]*models.TestCaseRun, error)
	UpdateCaseStatus(ctx context.Context, caseID string, status models.Status) (models.Status, error)
	SetCaseArtifacts(ctx context.Context, caseID string, videoURL, screenshotURL string) error

	// Test task run operations
	SaveTaskRun(ctx context.Context, run *models.TestTaskRun) error
	GetTaskRun(ctx context.Context, taskID string) (*models.TestTaskRun, error)
	ListTaskRuns(ctx context.Context, caseID string) ([]*models.TestTaskRun, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status models.Status, output string) (models.Status, error)

	// FinishOpenRuns marks every non-terminal case and task run of a job with status.
	// Used with Canceled on cancellation and Failed when a job is aborted.
	FinishOpenRuns(ctx context.Context, jobID string, status models.Status) (int, error)

	// GetJobDetail returns the job with all case and task runs in declared order
	GetJobDetail(ctx context.Context, jobID string) (*models.JobDetail, error)

	// ListStaleJobs returns Running jobs last updated before the cutoff
	ListStaleJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
}
