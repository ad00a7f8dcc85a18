package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/ternarybob/bugowl/internal/queue"
)

var (
	// ErrAlreadyCanceled rejects an execute request for a job whose cancellation arrived first
	ErrAlreadyCanceled = errors.New("job is already canceled")
	// ErrDuplicateJob rejects a second execute request for the same job uuid
	ErrDuplicateJob = errors.New("job already exists")
)

// Enqueuer accepts messages for the worker pool
type Enqueuer interface {
	Enqueue(ctx context.Context, msg queue.Message) error
}

// Service accepts jobs from the main API, records cancellations and serves run details
type Service struct {
	store  interfaces.RunStore
	cancel interfaces.CancellationSignal
	queue  Enqueuer
	logger arbor.ILogger
}

// NewService creates the job intake service
func NewService(store interfaces.RunStore, cancel interfaces.CancellationSignal, queue Enqueuer, logger arbor.ILogger) *Service {
	return &Service{
		store:  store,
		cancel: cancel,
		queue:  queue,
		logger: logger,
	}
}

// Accept validates and persists a job as Queued, then enqueues it for execution.
// A job canceled before or while it is being created is rejected with ErrAlreadyCanceled.
func (s *Service) Accept(ctx context.Context, payload *models.JobPayload) (*models.Job, error) {
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	jobID := payload.Job.UUID
	log := s.logger.WithCorrelationId(jobID)

	if s.cancel.IsCanceled(ctx, jobID) {
		log.Info().Msg("Job is already canceled, skipping creation")
		return nil, ErrAlreadyCanceled
	}

	if _, err := s.store.GetJob(ctx, jobID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, jobID)
	} else if !errors.Is(err, interfaces.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check for existing job: %w", err)
	}

	job := models.NewJobFromPayload(*payload)
	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	// Cancellation may have arrived while the record was being written
	if s.cancel.IsCanceled(ctx, jobID) {
		if _, err := s.store.UpdateJobStatus(ctx, jobID, models.StatusCanceled); err != nil {
			log.Warn().Err(err).Msg("Failed to mark canceled job")
		}
		log.Info().Msg("Job is canceled, skipping execution")
		return nil, ErrAlreadyCanceled
	}

	if err := s.queue.Enqueue(ctx, queue.Message{JobID: jobID, Type: queue.MessageTypeExecuteJob}); err != nil {
		if _, uerr := s.store.UpdateJobStatus(ctx, jobID, models.StatusFailed); uerr != nil {
			log.Warn().Err(uerr).Msg("Failed to mark unqueued job")
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Info().
		Str("kind", string(job.Kind)).
		Int("test_cases", len(payload.TestCases)).
		Int64("business", job.Business).
		Msg("Job accepted and queued")

	return job, nil
}

// Cancel requests cancellation of a job. The job need not exist yet;
// an execute request arriving later is rejected.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return &models.ValidationError{Problems: []string{"missing 'job_uuid'"}}
	}
	if err := s.cancel.Request(ctx, jobID); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	return nil
}

// Details returns the job with all case and task runs
func (s *Service) Details(ctx context.Context, jobID string) (*models.JobDetail, error) {
	return s.store.GetJobDetail(ctx, jobID)
}

// CaseDetail returns the run of one test case within a job
func (s *Service) CaseDetail(ctx context.Context, jobID, testCaseUUID string) (*models.TestCaseDetail, error) {
	detail, err := s.store.GetJobDetail(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, c := range detail.Cases {
		if c.TestCaseUUID == testCaseUUID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("test case run %s of job %s: %w", testCaseUUID, jobID, interfaces.ErrRecordNotFound)
}
