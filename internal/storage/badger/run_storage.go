package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// maxConflictRetries bounds optimistic transaction retries on write conflicts
const maxConflictRetries = 5

// RunStorage implements the RunStore interface for Badger.
// Status writes are read-modify-write inside one Badger transaction so a terminal
// status can never be overwritten, whoever wrote it first.
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) *RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

// SaveJob inserts or replaces a job record
func (s *RunStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob returns a job by id
func (s *RunStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, interfaces.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateJobStatus moves a job to status unless it is already terminal
func (s *RunStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.Status) (models.Status, error) {
	var effective models.Status
	err := s.update(func(txn *badger.Txn) error {
		var job models.Job
		if err := s.db.Store().TxGet(txn, jobID, &job); err != nil {
			return s.notFound("job", jobID, err)
		}
		effective = job.Status
		if !job.Status.CanTransitionTo(status) {
			return nil
		}

		now := time.Now()
		stampTimes(status, now, &job.StartedAt, &job.FinishedAt)
		job.Status = status
		job.UpdatedAt = now
		effective = status
		return s.db.Store().TxUpsert(txn, jobID, &job)
	})
	if err != nil {
		return effective, fmt.Errorf("failed to update job status: %w", err)
	}
	return effective, nil
}

// ListJobsByStatus returns jobs with the given status, oldest first
func (s *RunStorage) ListJobsByStatus(ctx context.Context, status models.Status) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("Status").Eq(status).SortBy("CreatedAt")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobPointers(jobs), nil
}

// ListStaleJobs returns Running jobs last updated before the cutoff
func (s *RunStorage) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("Status").Eq(models.StatusRunning).And("UpdatedAt").Lt(cutoff)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return jobPointers(jobs), nil
}

// SaveCaseRun inserts or replaces a test case run
func (s *RunStorage) SaveCaseRun(ctx context.Context, run *models.TestCaseRun) error {
	if run.ID == "" {
		return fmt.Errorf("case run ID is required")
	}
	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save case run: %w", err)
	}
	return nil
}

// GetCaseRun returns a test case run by id
func (s *RunStorage) GetCaseRun(ctx context.Context, caseID string) (*models.TestCaseRun, error) {
	var run models.TestCaseRun
	if err := s.db.Store().Get(caseID, &run); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("case run %s: %w", caseID, interfaces.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to get case run: %w", err)
	}
	return &run, nil
}

// ListCaseRuns returns the case runs of a job in declared order
func (s *RunStorage) ListCaseRuns(ctx context.Context, jobID string) ([]*models.TestCaseRun, error) {
	var runs []models.TestCaseRun
	if err := s.db.Store().Find(&runs, badgerhold.Where("JobID").Eq(jobID).Index("JobID")); err != nil {
		return nil, fmt.Errorf("failed to list case runs: %w", err)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Position < runs[j].Position })

	result := make([]*models.TestCaseRun, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

// UpdateCaseStatus moves a case run to status unless it is already terminal
func (s *RunStorage) UpdateCaseStatus(ctx context.Context, caseID string, status models.Status) (models.Status, error) {
	var effective models.Status
	err := s.update(func(txn *badger.Txn) error {
		var run models.TestCaseRun
		if err := s.db.Store().TxGet(txn, caseID, &run); err != nil {
			return s.notFound("case run", caseID, err)
		}
		effective = run.Status
		if !run.Status.CanTransitionTo(status) {
			return nil
		}

		now := time.Now()
		stampTimes(status, now, &run.StartedAt, &run.FinishedAt)
		run.Status = status
		run.UpdatedAt = now
		effective = status
		return s.db.Store().TxUpsert(txn, caseID, &run)
	})
	if err != nil {
		return effective, fmt.Errorf("failed to update case status: %w", err)
	}
	return effective, nil
}

// SetCaseArtifacts records artifact URLs on a case run; empty values leave the field as is
func (s *RunStorage) SetCaseArtifacts(ctx context.Context, caseID string, videoURL, screenshotURL string) error {
	err := s.update(func(txn *badger.Txn) error {
		var run models.TestCaseRun
		if err := s.db.Store().TxGet(txn, caseID, &run); err != nil {
			return s.notFound("case run", caseID, err)
		}
		if videoURL != "" {
			run.VideoURL = videoURL
		}
		if screenshotURL != "" {
			run.ScreenshotURL = screenshotURL
		}
		run.UpdatedAt = time.Now()
		return s.db.Store().TxUpsert(txn, caseID, &run)
	})
	if err != nil {
		return fmt.Errorf("failed to set case artifacts: %w", err)
	}
	return nil
}

// SaveTaskRun inserts or replaces a test task run
func (s *RunStorage) SaveTaskRun(ctx context.Context, run *models.TestTaskRun) error {
	if run.ID == "" {
		return fmt.Errorf("task run ID is required")
	}
	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save task run: %w", err)
	}
	return nil
}

// GetTaskRun returns a test task run by id
func (s *RunStorage) GetTaskRun(ctx context.Context, taskID string) (*models.TestTaskRun, error) {
	var run models.TestTaskRun
	if err := s.db.Store().Get(taskID, &run); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("task run %s: %w", taskID, interfaces.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to get task run: %w", err)
	}
	return &run, nil
}

// ListTaskRuns returns the task runs of a case in declared order
func (s *RunStorage) ListTaskRuns(ctx context.Context, caseID string) ([]*models.TestTaskRun, error) {
	var runs []models.TestTaskRun
	if err := s.db.Store().Find(&runs, badgerhold.Where("CaseID").Eq(caseID).Index("CaseID")); err != nil {
		return nil, fmt.Errorf("failed to list task runs: %w", err)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Position < runs[j].Position })

	result := make([]*models.TestTaskRun, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

// UpdateTaskStatus moves a task run to status unless it is already terminal.
// output is stored alongside when non-empty.
func (s *RunStorage) UpdateTaskStatus(ctx context.Context, taskID string, status models.Status, output string) (models.Status, error) {
	var effective models.Status
	err := s.update(func(txn *badger.Txn) error {
		var run models.TestTaskRun
		if err := s.db.Store().TxGet(txn, taskID, &run); err != nil {
			return s.notFound("task run", taskID, err)
		}
		effective = run.Status
		if !run.Status.CanTransitionTo(status) {
			return nil
		}

		now := time.Now()
		stampTimes(status, now, &run.StartedAt, &run.FinishedAt)
		run.Status = status
		if output != "" {
			run.Output = output
		}
		run.UpdatedAt = now
		effective = status
		return s.db.Store().TxUpsert(txn, taskID, &run)
	})
	if err != nil {
		return effective, fmt.Errorf("failed to update task status: %w", err)
	}
	return effective, nil
}

// FinishOpenRuns marks every non-terminal case and task run of a job with status
// and returns how many records changed
func (s *RunStorage) FinishOpenRuns(ctx context.Context, jobID string, status models.Status) (int, error) {
	var tasks []models.TestTaskRun
	if err := s.db.Store().Find(&tasks, badgerhold.Where("JobID").Eq(jobID).Index("JobID")); err != nil {
		return 0, fmt.Errorf("failed to list task runs: %w", err)
	}

	changed := 0
	for _, task := range tasks {
		if task.Status.IsTerminal() {
			continue
		}
		effective, err := s.UpdateTaskStatus(ctx, task.ID, status, "")
		if err != nil {
			return changed, err
		}
		if effective == status {
			changed++
		}
	}

	cases, err := s.ListCaseRuns(ctx, jobID)
	if err != nil {
		return changed, err
	}
	for _, run := range cases {
		if run.Status.IsTerminal() {
			continue
		}
		effective, err := s.UpdateCaseStatus(ctx, run.ID, status)
		if err != nil {
			return changed, err
		}
		if effective == status {
			changed++
		}
	}

	return changed, nil
}

// GetJobDetail returns the job with all case and task runs in declared order
func (s *RunStorage) GetJobDetail(ctx context.Context, jobID string) (*models.JobDetail, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	cases, err := s.ListCaseRuns(ctx, jobID)
	if err != nil {
		return nil, err
	}

	detail := &models.JobDetail{Job: job, Cases: make([]*models.TestCaseDetail, 0, len(cases))}
	for _, run := range cases {
		tasks, err := s.ListTaskRuns(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		detail.Cases = append(detail.Cases, &models.TestCaseDetail{TestCaseRun: run, Tasks: tasks})
	}

	return detail, nil
}

// update runs fn in a read-write transaction, retrying on write conflicts
func (s *RunStorage) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Badger().Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug().Int("attempt", attempt+1).Msg("Run record write conflict, retrying")
	}
	return err
}

func (s *RunStorage) notFound(kind, id string, err error) error {
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, interfaces.ErrRecordNotFound)
	}
	return err
}

func stampTimes(status models.Status, now time.Time, startedAt, finishedAt **time.Time) {
	if status == models.StatusRunning && *startedAt == nil {
		*startedAt = &now
	}
	if status.IsTerminal() {
		*finishedAt = &now
	}
}

func jobPointers(jobs []models.Job) []*models.Job {
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result
}
