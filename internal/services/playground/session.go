// -----------------------------------------------------------------------
// Playground - interactive task sessions driven over a websocket
// -----------------------------------------------------------------------

package playground

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/ternarybob/bugowl/internal/services/stream"
)

const (
	// DefaultStartURL is opened when no start url was given
	DefaultStartURL = "about:blank"
	// CaseUUID stands in for the test case of a playground run
	CaseUUID = "playground"

	defaultCloseTimeout = 30 * time.Second
)

var (
	// ErrBusy rejects a command that needs an idle session
	ErrBusy = errors.New("playground is running tasks")
	// ErrNoTasks rejects a run before any task is loaded
	ErrNoTasks = errors.New("no tasks loaded")
	// ErrUnknownTask rejects a run of a task that is not loaded
	ErrUnknownTask = errors.New("task not loaded")
)

// Config controls playground sessions
type Config struct {
	Headless     bool
	WindowWidth  int
	WindowHeight int
	MaxSteps     int
	LLMModel     string
	Stream       stream.Config
	CloseTimeout time.Duration
}

// NewConfig assembles a playground config from application configuration
func NewConfig(cfg *common.Config) Config {
	return Config{
		Headless:     cfg.Browser.Headless,
		WindowWidth:  cfg.Browser.WindowWidth,
		WindowHeight: cfg.Browser.WindowHeight,
		MaxSteps:     cfg.Agent.MaxSteps,
		LLMModel:     cfg.Agent.LLMModel,
		Stream:       stream.NewConfig(cfg.Stream),
		CloseTimeout: defaultCloseTimeout,
	}
}

// TaskState is a loaded task with its latest status
type TaskState struct {
	models.PlaygroundTask
	Status models.Status `json:"status"`
	Output string        `json:"output,omitempty"`
}

// Session is one interactive playground bound to a client connection.
// It owns at most one browser, opened on the first run and reused until Stop.
type Session struct {
	browsers  interfaces.BrowserFactory
	agent     interfaces.Agent
	backplane interfaces.Backplane
	config    Config
	logger    arbor.ILogger

	mu          sync.Mutex
	id          string
	startURL    string
	tasks       []*TaskState
	browser     interfaces.BrowserSession
	broadcaster *stream.Broadcaster
	cancelRun   context.CancelFunc
	running     bool
	paused      bool
	resume      chan struct{}
	done        chan struct{}
}

// NewSession creates an idle playground with a generated id
func NewSession(browsers interfaces.BrowserFactory, agent interfaces.Agent, backplane interfaces.Backplane, config Config, logger arbor.ILogger) *Session {
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = defaultCloseTimeout
	}
	return &Session{
		browsers:  browsers,
		agent:     agent,
		backplane: backplane,
		config:    config,
		logger:    logger,
		id:        "playground-" + uuid.New().String(),
		startURL:  DefaultStartURL,
	}
}

// ID returns the job uuid frames and status messages are stamped with
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Group returns the backplane group observers of this session join
func (s *Session) Group() string {
	return models.StreamGroupName(s.ID())
}

// Connect rebinds the session to a job uuid. Not allowed while a browser is open.
func (s *Session) Connect(jobUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.browser != nil {
		return ErrBusy
	}
	s.id = jobUUID
	return nil
}

// LoadTasks replaces the loaded task list; every task starts Queued
func (s *Session) LoadTasks(tasks []models.PlaygroundTask, startURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrBusy
	}
	s.loadLocked(tasks, startURL)
	return nil
}

func (s *Session) loadLocked(tasks []models.PlaygroundTask, startURL string) {
	s.tasks = make([]*TaskState, 0, len(tasks))
	for _, t := range tasks {
		if t.UUID == "" {
			t.UUID = uuid.New().String()
		}
		s.tasks = append(s.tasks, &TaskState{PlaygroundTask: t, Status: models.StatusQueued})
	}
	if startURL != "" {
		s.startURL = startURL
	}
}

// Tasks returns a copy of the loaded tasks and their statuses
func (s *Session) Tasks() []TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskState, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = *t
	}
	return out
}

// Running reports whether tasks are being executed
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunAll runs every loaded task in order in the background.
// tasks, when non-empty, replace the loaded list first. Returns the number of tasks started.
func (s *Session) RunAll(ctx context.Context, tasks []models.PlaygroundTask, startURL string) (int, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0, ErrBusy
	}
	if len(tasks) > 0 {
		s.loadLocked(tasks, startURL)
	}
	selected := append([]*TaskState(nil), s.tasks...)
	s.mu.Unlock()

	if len(selected) == 0 {
		return 0, ErrNoTasks
	}
	return len(selected), s.start(ctx, selected)
}

// RunTask runs one loaded task in the background.
// tasks, when non-empty, replace the loaded list first.
func (s *Session) RunTask(ctx context.Context, taskUUID string, tasks []models.PlaygroundTask, startURL string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	if len(tasks) > 0 {
		s.loadLocked(tasks, startURL)
	}
	var selected *TaskState
	for _, t := range s.tasks {
		if t.UUID == taskUUID {
			selected = t
			break
		}
	}
	s.mu.Unlock()

	if selected == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskUUID)
	}
	return s.start(ctx, []*TaskState{selected})
}

// start opens the browser if needed and runs tasks in a background goroutine
func (s *Session) start(ctx context.Context, tasks []*TaskState) error {
	if err := s.ensureBrowser(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel
	s.running = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	common.SafeGo(s.logger, "playgroundRun", func() {
		defer close(done)
		defer cancel()
		s.runTasks(runCtx, tasks)
	})
	return nil
}

// ensureBrowser opens the session browser and starts its broadcaster once
func (s *Session) ensureBrowser(ctx context.Context) error {
	s.mu.Lock()
	if s.browser != nil {
		s.mu.Unlock()
		return nil
	}
	id, startURL := s.id, s.startURL
	s.mu.Unlock()

	browser, err := s.browsers.NewSession(ctx, interfaces.SessionOptions{
		JobID:    id,
		CaseID:   CaseUUID,
		Browser:  models.BrowserChrome,
		Headless: s.config.Headless,
		StartURL: startURL,
		Width:    s.config.WindowWidth,
		Height:   s.config.WindowHeight,
	})
	if err != nil {
		return fmt.Errorf("failed to open playground browser: %w", err)
	}

	broadcaster := stream.NewBroadcaster(browser, s.backplane, models.RunState{
		JobUUID:    id,
		JobStatus:  models.StatusRunning,
		CaseUUID:   CaseUUID,
		CaseStatus: models.StatusRunning,
	}, s.config.Stream, s.logger)
	broadcaster.Start()

	s.mu.Lock()
	s.browser = browser
	s.broadcaster = broadcaster
	if s.paused {
		broadcaster.Pause()
	}
	s.mu.Unlock()

	s.logger.WithCorrelationId(id).Info().Str("start_url", startURL).Msg("Playground browser opened")
	return nil
}

func (s *Session) runTasks(ctx context.Context, tasks []*TaskState) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancelRun = nil
		s.mu.Unlock()
	}()

	for _, task := range tasks {
		if err := s.waitWhilePaused(ctx); err != nil || ctx.Err() != nil {
			s.setStatus(task, models.StatusCanceled, "")
			continue
		}
		s.runTask(ctx, task)
	}
}

func (s *Session) runTask(ctx context.Context, task *TaskState) {
	s.mu.Lock()
	id, startURL, browser := s.id, s.startURL, s.browser
	s.mu.Unlock()

	if browser == nil {
		s.setStatus(task, models.StatusCanceled, "")
		return
	}

	log := s.logger.WithCorrelationId(id)
	s.setStatus(task, models.StatusRunning, "")

	outcome, err := s.agent.Run(ctx, browser, models.AgentTask{
		JobUUID:  id,
		CaseUUID: CaseUUID,
		TaskUUID: task.UUID,
		Task:     task.Title,
		TestData: models.TestData{"playground": task.Data},
		StartURL: startURL,
		MaxSteps: s.config.MaxSteps,
		LLMModel: s.config.LLMModel,
	})

	switch {
	case ctx.Err() != nil:
		s.setStatus(task, models.StatusCanceled, "")
	case err != nil:
		log.Warn().Err(err).Str("task_uuid", task.UUID).Msg("Playground task failed")
		s.setStatus(task, models.StatusFailed, err.Error())
	case outcome == nil:
		log.Warn().Str("task_uuid", task.UUID).Msg("Agent returned no outcome")
		s.setStatus(task, models.StatusFailed, "agent returned no outcome")
	case !outcome.Success:
		s.setStatus(task, models.StatusFailed, outcome.Output)
	default:
		s.setStatus(task, models.StatusPass, outcome.Output)
	}
}

// setStatus records a task status, stamps it on frames and tells observers
func (s *Session) setStatus(task *TaskState, status models.Status, output string) {
	s.mu.Lock()
	task.Status = status
	task.Output = output
	id, broadcaster := s.id, s.broadcaster
	s.mu.Unlock()

	if broadcaster != nil {
		broadcaster.SetTask(task.UUID, status)
	}
	if err := s.backplane.Publish(models.StreamGroupName(id), models.TaskStatusMessage{
		Type:       models.TaskStatusMessageType,
		JobUUID:    id,
		TaskUUID:   task.UUID,
		TaskStatus: status,
		Output:     output,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish task status")
	}
}

// waitWhilePaused blocks between tasks while the session is paused
func (s *Session) waitWhilePaused(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.paused {
			s.mu.Unlock()
			return nil
		}
		resume := s.resume
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resume:
		}
	}
}

// Pause stops frame capture and holds the next task until Resume.
// The task in flight runs to completion.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.resume = make(chan struct{})
	if s.broadcaster != nil {
		s.broadcaster.Pause()
	}
}

// Resume restarts frame capture and releases held tasks
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	close(s.resume)
	if s.broadcaster != nil {
		s.broadcaster.Resume()
	}
}

// Paused reports whether the session is paused
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Stop cancels running tasks, stops the broadcaster and closes the browser.
// The session can be run again afterwards with a fresh browser.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancelRun, s.done
	browser, broadcaster := s.browser, s.broadcaster
	s.browser, s.broadcaster = nil, nil
	if s.paused {
		s.paused = false
		close(s.resume)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if broadcaster != nil {
		broadcaster.Stop()
	}
	if browser == nil {
		return nil
	}

	closeCtx, closeCancel := context.WithTimeout(ctx, s.config.CloseTimeout)
	defer closeCancel()
	if err := browser.Close(closeCtx); err != nil {
		return fmt.Errorf("failed to close playground browser: %w", err)
	}

	s.logger.WithCorrelationId(s.ID()).Info().Msg("Playground stopped")
	return nil
}
