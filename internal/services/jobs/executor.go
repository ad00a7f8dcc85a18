// -----------------------------------------------------------------------
// Job Executor - runs queued jobs through the orchestrator
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/ternarybob/bugowl/internal/queue"
)

// Runner executes one job to completion
type Runner interface {
	Run(ctx context.Context, jobID string) (map[string]bool, error)
}

// Executor bridges the worker pool and the orchestrator
type Executor struct {
	runner Runner
	logger arbor.ILogger
}

// NewExecutor creates an executor and registers it with the pool
func NewExecutor(runner Runner, pool *queue.WorkerPool, logger arbor.ILogger) *Executor {
	e := &Executor{runner: runner, logger: logger}
	if pool != nil {
		pool.RegisterHandler(queue.MessageTypeExecuteJob, e.Handle)
	}
	return e
}

// Handle runs the job named by msg. Cancellation is a normal outcome, not a handler error.
func (e *Executor) Handle(ctx context.Context, msg *queue.Message) error {
	if msg.JobID == "" {
		return fmt.Errorf("message %s has no job id", msg.ID)
	}
	defer common.TrackJob(msg.JobID)()

	results, err := e.runner.Run(ctx, msg.JobID)
	if errors.Is(err, models.ErrJobCanceled) {
		e.logger.WithCorrelationId(msg.JobID).Info().
			Int("cases_run", len(results)).
			Msg("Job execution ended by cancellation")
		return nil
	}
	if err != nil {
		return fmt.Errorf("job %s: %w", msg.JobID, err)
	}

	passed := 0
	for _, ok := range results {
		if ok {
			passed++
		}
	}
	e.logger.WithCorrelationId(msg.JobID).Info().
		Int("cases", len(results)).
		Int("passed", passed).
		Msg("Job execution complete")
	return nil
}
