package cancellation

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
)

const (
	// KeyPrefix prefixes every cancellation entry in the key/value store
	KeyPrefix = "cancel_job_"
	// CanceledValue is the value stored for a canceled job
	CanceledValue = "Canceled"
	// DefaultTTL bounds how long a cancellation request is remembered
	DefaultTTL = 48 * time.Hour
)

// Key returns the key/value store key for a job
func Key(jobID string) string {
	return KeyPrefix + jobID
}

// Service is the out-of-band cancellation flag backed by a TTL key/value store.
// It implements interfaces.CancellationSignal.
type Service struct {
	kv     interfaces.KeyValueStorage
	ttl    time.Duration
	logger arbor.ILogger
}

// NewService creates a cancellation service
func NewService(kv interfaces.KeyValueStorage, ttl time.Duration, logger arbor.ILogger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		kv:     kv,
		ttl:    ttl,
		logger: logger,
	}
}

// Request marks a job canceled; repeating it only refreshes the TTL
func (s *Service) Request(ctx context.Context, jobID string) error {
	if err := s.kv.Set(ctx, Key(jobID), CanceledValue, s.ttl); err != nil {
		return err
	}
	s.logger.Info().Str("job_id", jobID).Dur("ttl", s.ttl).Msg("Job cancellation requested")
	return nil
}

// IsCanceled reports whether cancellation was requested.
// Store errors are logged and read as not canceled.
func (s *Service) IsCanceled(ctx context.Context, jobID string) bool {
	value, err := s.kv.Get(ctx, Key(jobID))
	if err != nil {
		if !errors.Is(err, interfaces.ErrKeyNotFound) {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to read cancellation flag")
		}
		return false
	}
	return value == CanceledValue
}

// Clear removes the cancellation entry once the job has been torn down
func (s *Service) Clear(ctx context.Context, jobID string) error {
	return s.kv.Delete(ctx, Key(jobID))
}

// Token binds a cancellation signal to one job and is threaded through the run
type Token struct {
	signal interfaces.CancellationSignal
	jobID  string
}

// NewToken creates a token for jobID
func NewToken(signal interfaces.CancellationSignal, jobID string) *Token {
	return &Token{signal: signal, jobID: jobID}
}

// JobID returns the job the token is bound to
func (t *Token) JobID() string {
	return t.jobID
}

// Check returns models.ErrJobCanceled once cancellation has been requested.
// A done context is not cancellation; it surfaces as the context error.
func (t *Token) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.signal != nil && t.signal.IsCanceled(ctx, t.jobID) {
		return models.ErrJobCanceled
	}
	return nil
}
