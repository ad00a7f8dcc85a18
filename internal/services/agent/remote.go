package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/httpclient"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
)

// RunPath is the agent endpoint executing one task
const RunPath = "/run"

const (
	DefaultMaxSteps    = 25
	DefaultTaskTimeout = 10 * time.Minute
)

// Config points the client at a browsing agent service
type Config struct {
	URL         string
	APIKey      string
	MaxSteps    int
	TaskTimeout time.Duration
	LLMModel    string
}

// NewConfig maps [agent] onto a client config
func NewConfig(c common.AgentConfig) Config {
	return Config{
		URL:         c.URL,
		APIKey:      c.APIKey,
		MaxSteps:    c.MaxSteps,
		TaskTimeout: common.Duration(c.TaskTimeout, DefaultTaskTimeout),
		LLMModel:    c.LLMModel,
	}
}

// RemoteAgent delegates tasks to an out-of-process agent that drives the
// session's browser over the DevTools protocol
type RemoteAgent struct {
	config Config
	client *http.Client
	logger arbor.ILogger
}

// NewRemoteAgent creates an agent client; the API key is sent as "Authorization: Token <key>"
func NewRemoteAgent(config Config, logger arbor.ILogger) *RemoteAgent {
	if config.MaxSteps <= 0 {
		config.MaxSteps = DefaultMaxSteps
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = DefaultTaskTimeout
	}

	return &RemoteAgent{
		config: config,
		client: httpclient.NewAuthClient(httpclient.AuthConfig{Token: config.APIKey}, 0),
		logger: logger,
	}
}

// Run executes one task, bounded by the task timeout. Transport errors and
// non-2xx answers are returned as errors.
func (a *RemoteAgent) Run(ctx context.Context, session interfaces.BrowserSession, task models.AgentTask) (*models.AgentOutcome, error) {
	if a.config.URL == "" {
		return nil, fmt.Errorf("agent url not configured")
	}

	if session != nil {
		if task.TargetID == "" {
			task.TargetID = session.TargetID()
		}
		if task.DebuggerURL == "" {
			task.DebuggerURL = session.DebuggerURL()
		}
	}
	if task.MaxSteps <= 0 {
		task.MaxSteps = a.config.MaxSteps
	}
	if task.LLMModel == "" {
		task.LLMModel = a.config.LLMModel
	}

	body, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent task: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.TaskTimeout)
	defer cancel()

	url := strings.TrimRight(a.config.URL, "/") + RunPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log := a.logger.WithCorrelationId(task.JobUUID)
	log.Debug().
		Str("task_uuid", task.TaskUUID).
		Int("max_steps", task.MaxSteps).
		Str("target_id", task.TargetID).
		Msg("Dispatching task to agent")

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var outcome models.AgentOutcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return nil, fmt.Errorf("failed to decode agent outcome: %w", err)
	}

	log.Info().
		Str("task_uuid", task.TaskUUID).
		Bool("success", outcome.Success).
		Int("steps", outcome.Steps).
		Dur("duration", time.Since(start)).
		Msg("Agent finished task")

	return &outcome, nil
}
