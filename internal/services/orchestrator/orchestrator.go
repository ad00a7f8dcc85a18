package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/ternarybob/bugowl/internal/services/artifacts"
	"github.com/ternarybob/bugowl/internal/services/cancellation"
	"github.com/ternarybob/bugowl/internal/services/stream"
)

// ErrJobFinished is returned when Run is asked to execute a job that already reached a terminal status
var ErrJobFinished = errors.New("job already finished")

const defaultTeardownTimeout = 2 * time.Minute

// Config controls how cases are executed
type Config struct {
	Headless        bool
	WindowWidth     int
	WindowHeight    int
	RecordVideo     bool
	MaxSteps        int
	LLMModel        string
	Stream          stream.Config
	TeardownTimeout time.Duration
}

// NewConfig assembles an orchestrator config from application configuration
func NewConfig(cfg *common.Config) Config {
	return Config{
		Headless:        cfg.Browser.Headless,
		WindowWidth:     cfg.Browser.WindowWidth,
		WindowHeight:    cfg.Browser.WindowHeight,
		RecordVideo:     cfg.Browser.RecordVideo,
		MaxSteps:        cfg.Agent.MaxSteps,
		LLMModel:        cfg.Agent.LLMModel,
		Stream:          stream.NewConfig(cfg.Stream),
		TeardownTimeout: defaultTeardownTimeout,
	}
}

// Dependencies are the collaborators a run needs
type Dependencies struct {
	Store     interfaces.RunStore
	Cancel    interfaces.CancellationSignal
	Notifier  interfaces.StatusNotifier
	Browsers  interfaces.BrowserFactory
	Agent     interfaces.Agent
	Artifacts *artifacts.Capture
	Backplane interfaces.Backplane
}

// Orchestrator executes a job: cases in declared order, each in a fresh browser,
// tasks in declared order through the agent.
type Orchestrator struct {
	deps   Dependencies
	config Config
	logger arbor.ILogger
}

func NewOrchestrator(deps Dependencies, config Config, logger arbor.ILogger) *Orchestrator {
	if config.TeardownTimeout <= 0 {
		config.TeardownTimeout = defaultTeardownTimeout
	}
	return &Orchestrator{
		deps:   deps,
		config: config,
		logger: logger,
	}
}

// caseRun is a case record with its task records, both in declared order
type caseRun struct {
	run   *models.TestCaseRun
	tasks []*models.TestTaskRun
}

// Run executes the job synchronously and returns pass/fail per case run ID.
// Cancellation returns the partial results with models.ErrJobCanceled; a
// persistence failure aborts the job as Failed and returns the cause.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (map[string]bool, error) {
	log := o.logger.WithCorrelationId(jobID)
	results := make(map[string]bool)

	job, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return results, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		log.Warn().Str("status", string(job.Status)).Msg("Job already finished, not running again")
		return results, ErrJobFinished
	}

	token := cancellation.NewToken(o.deps.Cancel, jobID)
	start := time.Now()

	status, err := o.deps.Store.UpdateJobStatus(ctx, jobID, models.StatusRunning)
	if err != nil {
		return results, o.abort(ctx, job, err)
	}
	if status.IsTerminal() {
		return results, ErrJobFinished
	}
	o.notify(models.StatusUpdate{JobUUID: jobID, JobStatus: models.StatusRunning})

	cases, err := o.prepare(ctx, job)
	if err != nil {
		return results, o.abort(ctx, job, err)
	}

	log.Info().
		Int("test_cases", len(cases)).
		Str("kind", string(job.Kind)).
		Msg("Job started")

	caseStatuses := make([]models.Status, 0, len(cases))
	for _, c := range cases {
		caseStatus, err := o.runCase(ctx, token, job, c)
		results[c.run.ID] = caseStatus == models.StatusPass
		caseStatuses = append(caseStatuses, caseStatus)

		if errors.Is(err, models.ErrJobCanceled) {
			return results, o.finishCanceled(ctx, job)
		}
		if err != nil {
			return results, o.abort(ctx, job, err)
		}
	}

	final, err := o.deps.Store.UpdateJobStatus(ctx, jobID, models.Rollup(caseStatuses))
	if err != nil {
		return results, o.abort(ctx, job, err)
	}
	o.notify(models.StatusUpdate{JobUUID: jobID, JobStatus: final})

	log.Info().
		Str("status", string(final)).
		Dur("duration", time.Since(start)).
		Msg("Job finished")

	return results, nil
}

// prepare creates Queued case and task records for the whole job up front,
// so cancellation can finish units that never started
func (o *Orchestrator) prepare(ctx context.Context, job *models.Job) ([]*caseRun, error) {
	payload := &job.Payload
	now := time.Now()

	cases := make([]*caseRun, 0, len(payload.TestCases))
	for i, spec := range payload.TestCases {
		browser := spec.Browser
		if browser == "" {
			browser = models.BrowserChrome
		}

		c := &caseRun{
			run: &models.TestCaseRun{
				ID:           common.NewCaseRunID(),
				JobID:        job.ID,
				TestCaseUUID: spec.UUID,
				Name:         spec.Name,
				Priority:     spec.Priority,
				Position:     i,
				BaseURL:      payload.Environment.URL,
				Environment:  payload.Environment.Name,
				Browser:      browser,
				Headless:     o.config.Headless,
				Status:       models.StatusQueued,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
		}
		if err := o.deps.Store.SaveCaseRun(ctx, c.run); err != nil {
			return nil, err
		}

		caseData := models.ResolveTestData(payload, spec.TestData)
		for k, task := range spec.TestTasks {
			t := &models.TestTaskRun{
				ID:           common.NewTaskRunID(),
				JobID:        job.ID,
				CaseID:       c.run.ID,
				TestTaskUUID: task.UUID,
				Position:     k,
				Title:        task.Title,
				TestData:     models.MergeTestData(caseData, models.ResolveTestData(payload, task.TestData)),
				Status:       models.StatusQueued,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := o.deps.Store.SaveTaskRun(ctx, t); err != nil {
				return nil, err
			}
			c.tasks = append(c.tasks, t)
		}

		cases = append(cases, c)
	}
	return cases, nil
}

// runCase executes one case in its own browser session and returns its effective status.
// A returned error is either models.ErrJobCanceled or a persistence failure.
func (o *Orchestrator) runCase(ctx context.Context, token *cancellation.Token, job *models.Job, c *caseRun) (models.Status, error) {
	log := o.logger.WithCorrelationId(job.ID)

	if err := token.Check(ctx); err != nil {
		return models.StatusCanceled, err
	}

	if _, err := o.deps.Store.UpdateCaseStatus(ctx, c.run.ID, models.StatusRunning); err != nil {
		return models.StatusFailed, err
	}
	o.notify(models.StatusUpdate{
		JobUUID:        job.ID,
		JobStatus:      models.StatusRunning,
		TestCaseUUID:   c.run.TestCaseUUID,
		TestCaseStatus: models.StatusRunning,
	})

	log.Info().
		Str("case_id", c.run.ID).
		Str("test_case", c.run.Name).
		Int("tasks", len(c.tasks)).
		Msg("Test case started")

	session, err := o.deps.Browsers.NewSession(ctx, interfaces.SessionOptions{
		JobID:    job.ID,
		CaseID:   c.run.ID,
		Browser:  c.run.Browser,
		Headless: c.run.Headless,
		StartURL: c.run.BaseURL,
		Width:    o.config.WindowWidth,
		Height:   o.config.WindowHeight,
		Record:   o.config.RecordVideo,
	})
	if err != nil {
		log.Error().Err(err).Str("case_id", c.run.ID).Msg("Failed to start browser session")
		return o.finishCase(ctx, job, c, models.StatusFailed)
	}

	broadcaster := stream.NewBroadcaster(session, o.deps.Backplane, models.RunState{
		JobUUID:    job.ID,
		JobStatus:  models.StatusRunning,
		CaseUUID:   c.run.TestCaseUUID,
		CaseStatus: models.StatusRunning,
	}, o.config.Stream, o.logger)

	var (
		taskStatuses  []models.Status
		screenshotURL string
		runErr        error
	)
	if runErr = token.Check(ctx); runErr == nil {
		broadcaster.Start()
		taskStatuses, screenshotURL, runErr = o.runTasks(ctx, token, job, c, session, broadcaster)
	}

	// Teardown is identical for pass, failure and cancellation
	teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.TeardownTimeout)
	defer cancel()

	videoPath := session.VideoPath()
	broadcaster.Stop()
	if err := session.Close(teardownCtx); err != nil {
		log.Warn().Err(err).Str("case_id", c.run.ID).Msg("Browser session did not close cleanly")
	}

	if runErr == nil {
		runErr = token.Check(ctx)
	}

	videoURL := o.deps.Artifacts.UploadVideo(teardownCtx, job.Business, job.ID, c.run.TestCaseUUID, videoPath)
	if videoURL != "" || screenshotURL != "" {
		if err := o.deps.Store.SetCaseArtifacts(teardownCtx, c.run.ID, videoURL, screenshotURL); err != nil && runErr == nil {
			runErr = err
		}
	}

	if errors.Is(runErr, models.ErrJobCanceled) {
		status, _ := o.finishCase(teardownCtx, job, c, models.StatusCanceled)
		log.Info().Str("case_id", c.run.ID).Msg("Test case canceled")
		return status, runErr
	}
	if runErr != nil {
		return models.StatusFailed, runErr
	}

	return o.finishCase(ctx, job, c, models.Rollup(taskStatuses))
}

// runTasks executes tasks in order and stops at the first failure; later tasks stay Queued.
// It returns the statuses of every task in the case and the failure screenshot URL.
func (o *Orchestrator) runTasks(ctx context.Context, token *cancellation.Token, job *models.Job, c *caseRun, session interfaces.BrowserSession, broadcaster *stream.Broadcaster) ([]models.Status, string, error) {
	log := o.logger.WithCorrelationId(job.ID)

	statuses := make([]models.Status, len(c.tasks))
	for i, t := range c.tasks {
		statuses[i] = t.Status
	}

	for i, t := range c.tasks {
		if err := token.Check(ctx); err != nil {
			return statuses, "", err
		}

		status, err := o.deps.Store.UpdateTaskStatus(ctx, t.ID, models.StatusRunning, "")
		if err != nil {
			return statuses, "", err
		}
		statuses[i] = status
		broadcaster.SetTask(t.TestTaskUUID, models.StatusRunning)

		outcome, agentErr := o.deps.Agent.Run(ctx, session, models.AgentTask{
			JobUUID:  job.ID,
			CaseUUID: c.run.TestCaseUUID,
			TaskUUID: t.TestTaskUUID,
			Task:     t.Title,
			TestData: t.TestData,
			StartURL: c.run.BaseURL,
			MaxSteps: o.config.MaxSteps,
			LLMModel: o.config.LLMModel,
		})
		if ctx.Err() != nil {
			return statuses, "", ctx.Err()
		}

		if agentErr == nil && outcome != nil && outcome.Success {
			status, err := o.deps.Store.UpdateTaskStatus(ctx, t.ID, models.StatusPass, outcome.Output)
			if err != nil {
				return statuses, "", err
			}
			statuses[i] = status
			broadcaster.SetTask(t.TestTaskUUID, status)
			log.Debug().Str("task_id", t.ID).Int("steps", outcome.Steps).Msg("Task passed")
			continue
		}

		output := "agent reported failure"
		switch {
		case agentErr != nil:
			output = agentErr.Error()
		case outcome != nil && outcome.Output != "":
			output = outcome.Output
		}

		screenshotURL := o.deps.Artifacts.CaptureFailureScreenshot(ctx, session, job.ID, t.ID)
		status, err = o.deps.Store.UpdateTaskStatus(ctx, t.ID, models.StatusFailed, output)
		if err != nil {
			return statuses, screenshotURL, err
		}
		statuses[i] = status
		broadcaster.SetTask(t.TestTaskUUID, status)
		broadcaster.SetCaseStatus(models.StatusFailed)

		log.Warn().
			Str("task_id", t.ID).
			Str("task", t.Title).
			Str("output", output).
			Msg("Task failed, skipping remaining tasks of the case")
		return statuses, screenshotURL, nil
	}

	return statuses, "", nil
}

// finishCase persists the case's final status and propagates it
func (o *Orchestrator) finishCase(ctx context.Context, job *models.Job, c *caseRun, status models.Status) (models.Status, error) {
	effective, err := o.deps.Store.UpdateCaseStatus(ctx, c.run.ID, status)
	if err != nil {
		return models.StatusFailed, err
	}

	jobStatus := models.StatusRunning
	if effective == models.StatusCanceled {
		jobStatus = models.StatusCanceled
	}
	o.notify(models.StatusUpdate{
		JobUUID:        job.ID,
		JobStatus:      jobStatus,
		TestCaseUUID:   c.run.TestCaseUUID,
		TestCaseStatus: effective,
	})

	o.logger.WithCorrelationId(job.ID).Info().
		Str("case_id", c.run.ID).
		Str("status", string(effective)).
		Msg("Test case finished")
	return effective, nil
}

// finishCanceled marks every unfinished unit Canceled, clears the cancellation entry and propagates
func (o *Orchestrator) finishCanceled(ctx context.Context, job *models.Job) error {
	ctx = context.WithoutCancel(ctx)
	log := o.logger.WithCorrelationId(job.ID)

	changed, err := o.deps.Store.FinishOpenRuns(ctx, job.ID, models.StatusCanceled)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cancel open runs")
	}
	if _, err := o.deps.Store.UpdateJobStatus(ctx, job.ID, models.StatusCanceled); err != nil {
		log.Error().Err(err).Msg("Failed to persist canceled job status")
	}
	if err := o.deps.Cancel.Clear(ctx, job.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to clear cancellation entry")
	}
	o.notify(models.StatusUpdate{JobUUID: job.ID, JobStatus: models.StatusCanceled})

	log.Info().Int("runs_canceled", changed).Msg("Job canceled")
	return models.ErrJobCanceled
}

// abort fails the job and every unfinished unit after an unrecoverable error.
// The writes are best effort since the store may be the cause.
func (o *Orchestrator) abort(ctx context.Context, job *models.Job, cause error) error {
	ctx = context.WithoutCancel(ctx)
	log := o.logger.WithCorrelationId(job.ID)
	log.Error().Err(cause).Msg("Job aborted")

	if _, err := o.deps.Store.FinishOpenRuns(ctx, job.ID, models.StatusFailed); err != nil {
		log.Warn().Err(err).Msg("Failed to fail open runs")
	}
	if _, err := o.deps.Store.UpdateJobStatus(ctx, job.ID, models.StatusFailed); err != nil {
		log.Warn().Err(err).Msg("Failed to persist failed job status")
	}
	o.notify(models.StatusUpdate{JobUUID: job.ID, JobStatus: models.StatusFailed})

	return fmt.Errorf("job %s aborted: %w", job.ID, cause)
}

func (o *Orchestrator) notify(update models.StatusUpdate) {
	if o.deps.Notifier != nil {
		o.deps.Notifier.Notify(update)
	}
}
