package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
)

const (
	// StaleReaperJob fails Running jobs whose worker went away
	StaleReaperJob = "stale_run_reaper"
	// ValueLogGCJob reclaims Badger value log space
	ValueLogGCJob = "badger_value_log_gc"

	DefaultStaleAfter = 2 * time.Hour
)

// GarbageCollector reclaims storage space
type GarbageCollector interface {
	RunValueLogGC() error
}

// Housekeeper holds the periodic maintenance tasks
type Housekeeper struct {
	store      interfaces.RunStore
	notifier   interfaces.StatusNotifier
	gc         GarbageCollector
	staleAfter time.Duration
	logger     arbor.ILogger
}

// NewHousekeeper creates the maintenance tasks. gc may be nil.
func NewHousekeeper(store interfaces.RunStore, notifier interfaces.StatusNotifier, gc GarbageCollector, staleAfter time.Duration, logger arbor.ILogger) *Housekeeper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Housekeeper{
		store:      store,
		notifier:   notifier,
		gc:         gc,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Register adds the maintenance tasks to the scheduler using the configured schedules
func (h *Housekeeper) Register(s interfaces.SchedulerService, config common.SchedulerConfig) error {
	if config.StaleSchedule != "" {
		if err := s.RegisterJob(StaleReaperJob, config.StaleSchedule, "Fail Running jobs with no progress", func() error {
			_, err := h.ReapStale(context.Background(), time.Now().Add(-h.staleAfter))
			return err
		}); err != nil {
			return err
		}
	}

	if config.GCSchedule != "" && h.gc != nil {
		if err := s.RegisterJob(ValueLogGCJob, config.GCSchedule, "Reclaim Badger value log space", h.CollectGarbage); err != nil {
			return err
		}
	}

	return nil
}

// ReapStale fails every Running job not updated since cutoff, together with its open runs.
// A job whose queue message was lost with its worker would otherwise stay Running forever.
func (h *Housekeeper) ReapStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := h.store.ListStaleJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	h.logger.Warn().
		Int("count", len(stale)).
		Str("cutoff", cutoff.Format(time.RFC3339)).
		Msg("Detected stale jobs")

	reaped := 0
	for _, job := range stale {
		log := h.logger.WithCorrelationId(job.ID)

		cases, err := h.store.ListCaseRuns(ctx, job.ID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to list case runs of stale job")
			continue
		}

		if _, err := h.store.FinishOpenRuns(ctx, job.ID, models.StatusFailed); err != nil {
			log.Warn().Err(err).Msg("Failed to finish open runs of stale job")
			continue
		}
		effective, err := h.store.UpdateJobStatus(ctx, job.ID, models.StatusFailed)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to fail stale job")
			continue
		}
		if effective != models.StatusFailed {
			continue
		}
		reaped++

		for _, run := range cases {
			if run.Status.IsTerminal() {
				continue
			}
			h.notifier.Notify(models.StatusUpdate{
				JobUUID:        job.ID,
				JobStatus:      models.StatusFailed,
				TestCaseUUID:   run.TestCaseUUID,
				TestCaseStatus: models.StatusFailed,
			})
		}
		h.notifier.Notify(models.StatusUpdate{JobUUID: job.ID, JobStatus: models.StatusFailed})

		log.Info().Msg("Marked stale job as failed")
	}

	return reaped, nil
}

// CollectGarbage runs Badger value log GC until nothing more is reclaimed
func (h *Housekeeper) CollectGarbage() error {
	rounds := 0
	for {
		err := h.gc.RunValueLogGC()
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) || errors.Is(err, badger.ErrGCInMemoryMode) {
			break
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
		rounds++
	}
	if rounds > 0 {
		h.logger.Info().Int("rounds", rounds).Msg("Badger value log GC reclaimed space")
	}
	return nil
}
