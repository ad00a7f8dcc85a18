package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// JobHandler handles one message of a registered type
type JobHandler func(ctx context.Context, msg *Message) error

// Receiver is the part of a queue the worker pool consumes
type Receiver interface {
	Receive(ctx context.Context) (*Message, func() error, error)
	Extend(ctx context.Context, messageID string, duration time.Duration) error
}

// WorkerPool manages a pool of workers that process queue messages
type WorkerPool struct {
	queue    Receiver
	config   Config
	handlers map[string]JobHandler
	logger   arbor.ILogger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue Receiver, config Config, logger arbor.ILogger) *WorkerPool {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:    queue,
		config:   config,
		handlers: make(map[string]JobHandler),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler registers a message type handler
func (wp *WorkerPool) RegisterHandler(msgType string, handler JobHandler) {
	wp.handlers[msgType] = handler
	wp.logger.Debug().
		Str("type", msgType).
		Msg("Job handler registered")
}

// Start starts the worker goroutines
func (wp *WorkerPool) Start() error {
	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Concurrency; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	return nil
}

// Stop cancels running handlers and waits for workers to exit
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	wp.wg.Wait()
	return nil
}

func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	// Stagger worker starts across the poll interval
	staggerDelay := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		select {
		case <-wp.ctx.Done():
			return
		case <-time.After(staggerDelay):
		}
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Dur("stagger_delay", staggerDelay).
		Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processMessage(workerID); err != nil && !errors.Is(err, ErrNoMessage) {
				wp.logger.Warn().
					Err(err).
					Int("worker_id", workerID).
					Msg("Error processing message")
			}
		}
	}
}

// processMessage receives and processes a single message
func (wp *WorkerPool) processMessage(workerID int) error {
	msg, deleteFn, err := wp.queue.Receive(wp.ctx)
	if err != nil {
		if errors.Is(err, ErrNoMessage) {
			return err
		}
		return fmt.Errorf("failed to receive message: %w", err)
	}

	// Messages are deleted whatever the outcome; a job is never run twice
	defer func() {
		if delErr := deleteFn(); delErr != nil {
			wp.logger.Warn().
				Err(delErr).
				Str("message_id", msg.ID).
				Msg("Failed to delete message")
		}
	}()

	handler, exists := wp.handlers[msg.Type]
	if !exists {
		wp.logger.Error().
			Str("type", msg.Type).
			Str("message_id", msg.ID).
			Msg("No handler registered for message type")
		return fmt.Errorf("no handler for message type: %s", msg.Type)
	}

	wp.logger.Debug().
		Str("message_id", msg.ID).
		Str("job_id", msg.JobID).
		Str("type", msg.Type).
		Int("worker_id", workerID).
		Msg("Processing message")

	stopHeartbeat := wp.heartbeat(msg.ID)
	startTime := time.Now()
	handlerErr := wp.runHandler(handler, msg)
	stopHeartbeat()
	duration := time.Since(startTime)

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("message_id", msg.ID).
			Str("job_id", msg.JobID).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job handler failed")
		return handlerErr
	}

	wp.logger.Info().
		Str("message_id", msg.ID).
		Str("job_id", msg.JobID).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job handler completed")

	return nil
}

func (wp *WorkerPool) runHandler(handler JobHandler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(wp.ctx, msg)
}

// heartbeat keeps a long running message hidden from other workers
func (wp *WorkerPool) heartbeat(messageID string) func() {
	interval := wp.config.VisibilityTimeout / 2
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-wp.ctx.Done():
				return
			case <-ticker.C:
				if err := wp.queue.Extend(wp.ctx, messageID, wp.config.VisibilityTimeout); err != nil {
					wp.logger.Warn().Err(err).Str("message_id", messageID).Msg("Failed to extend message visibility")
				}
			}
		}
	}()

	return func() { close(done) }
}
