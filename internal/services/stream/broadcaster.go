package stream

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
	"golang.org/x/time/rate"
)

const (
	MinFPS     = 8
	MaxFPS     = 12
	DefaultFPS = 8

	captureTimeout = 2 * time.Second
)

// Config controls one broadcaster's pacing
type Config struct {
	FPS          int
	IdleInterval time.Duration
	JPEGQuality  int
	StopTimeout  time.Duration
}

// NewConfig converts [stream] configuration, clamping FPS to MinFPS..MaxFPS
func NewConfig(cfg common.StreamConfig) Config {
	c := Config{
		FPS:          cfg.FPS,
		IdleInterval: common.Duration(cfg.IdleInterval, 100*time.Millisecond),
		JPEGQuality:  cfg.JPEGQuality,
		StopTimeout:  common.Duration(cfg.StopTimeout, 5*time.Second),
	}
	return c.normalize()
}

func (c Config) normalize() Config {
	switch {
	case c.FPS == 0:
		c.FPS = DefaultFPS
	case c.FPS < MinFPS:
		c.FPS = MinFPS
	case c.FPS > MaxFPS:
		c.FPS = MaxFPS
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 100 * time.Millisecond
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 60
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	return c
}

// Broadcaster streams viewport frames of one case's browser to the job's observer group.
// Frames are only captured while the group has live members.
type Broadcaster struct {
	source    interfaces.FrameSource
	backplane interfaces.Backplane
	group     string
	config    Config
	limiter   *rate.Limiter
	logger    arbor.ILogger

	stateMu sync.RWMutex
	state   models.RunState

	paused    atomic.Bool
	published atomic.Int64

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBroadcaster creates a broadcaster publishing to the group of state.JobUUID
func NewBroadcaster(source interfaces.FrameSource, backplane interfaces.Backplane, state models.RunState, config Config, logger arbor.ILogger) *Broadcaster {
	config = config.normalize()
	return &Broadcaster{
		source:    source,
		backplane: backplane,
		group:     models.StreamGroupName(state.JobUUID),
		config:    config,
		limiter:   rate.NewLimiter(rate.Limit(config.FPS), 1),
		logger:    logger.WithCorrelationId(state.JobUUID),
		state:     state,
		done:      make(chan struct{}),
	}
}

// Group returns the backplane group frames are published to
func (b *Broadcaster) Group() string {
	return b.group
}

// Published returns the number of frames sent so far
func (b *Broadcaster) Published() int64 {
	return b.published.Load()
}

// Start launches the capture loop. Repeated calls and calls after Stop are no-ops.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.stopped {
		return
	}
	b.started = true

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	common.SafeGo(b.logger, "frameBroadcaster", func() {
		defer close(b.done)
		b.loop(ctx)
	})

	b.logger.Debug().
		Str("group", b.group).
		Int("fps", b.config.FPS).
		Msg("Frame broadcaster started")
}

func (b *Broadcaster) Pause() {
	b.paused.Store(true)
}

func (b *Broadcaster) Resume() {
	b.paused.Store(false)
}

// Stop ends the loop and waits for it, at most StopTimeout
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	started := b.started
	cancel := b.cancel
	b.mu.Unlock()

	if !started {
		return
	}
	cancel()

	select {
	case <-b.done:
	case <-time.After(b.config.StopTimeout):
		b.logger.Warn().Str("group", b.group).Msg("Frame broadcaster did not stop in time")
		return
	}

	b.logger.Debug().
		Str("group", b.group).
		Int64("frames", b.Published()).
		Msg("Frame broadcaster stopped")
}

// SetTask records the task currently being executed
func (b *Broadcaster) SetTask(taskUUID string, status models.Status) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.state.TaskUUID = taskUUID
	b.state.TaskStatus = status
}

// SetCaseStatus records the case status stamped on frames
func (b *Broadcaster) SetCaseStatus(status models.Status) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.state.CaseStatus = status
}

func (b *Broadcaster) snapshot() models.RunState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

func (b *Broadcaster) loop(ctx context.Context) {
	for ctx.Err() == nil {
		if b.paused.Load() {
			sleep(ctx, b.config.IdleInterval)
			continue
		}
		if b.backplane.GroupSize(b.group) == 0 {
			sleep(ctx, b.config.IdleInterval)
			continue
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
		b.publishFrame(ctx)
	}
}

func (b *Broadcaster) publishFrame(ctx context.Context) {
	captureCtx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	data, err := b.source.CaptureFrame(captureCtx, b.config.JPEGQuality)
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Debug().Err(err).Msg("Frame capture failed, skipping")
		}
		return
	}

	url, err := b.source.CurrentURL(captureCtx)
	if err != nil {
		url = ""
	}

	state := b.snapshot()
	frame := models.Frame{
		Type:       models.FrameMessageType,
		Frame:      base64.StdEncoding.EncodeToString(data),
		JobUUID:    state.JobUUID,
		JobStatus:  state.JobStatus,
		CaseUUID:   state.CaseUUID,
		CaseStatus: state.CaseStatus,
		TaskUUID:   state.TaskUUID,
		TaskStatus: state.TaskStatus,
		CurrentURL: url,
	}

	if err := b.backplane.Publish(b.group, frame); err != nil {
		b.logger.Debug().Err(err).Str("group", b.group).Msg("Frame publish failed")
		return
	}
	b.published.Add(1)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
