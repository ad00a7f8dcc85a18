package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/models"
)

type fakeSource struct {
	captures atomic.Int32
	err      error
}

func (f *fakeSource) CaptureFrame(ctx context.Context, quality int) ([]byte, error) {
	f.captures.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("jpeg"), nil
}

func (f *fakeSource) CurrentURL(ctx context.Context) (string, error) {
	return "https://shop.example.com/cart", nil
}

type fakeBackplane struct {
	size atomic.Int32

	mu        sync.Mutex
	published []models.Frame
	groups    []string
}

func (f *fakeBackplane) GroupSize(group string) int {
	return int(f.size.Load())
}

func (f *fakeBackplane) Publish(group string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, group)
	f.published = append(f.published, message.(models.Frame))
	return nil
}

func (f *fakeBackplane) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func testConfig() Config {
	return Config{FPS: 12, IdleInterval: 10 * time.Millisecond, JPEGQuality: 50, StopTimeout: time.Second}
}

func testState() models.RunState {
	return models.RunState{
		JobUUID:    "job-1",
		JobStatus:  models.StatusRunning,
		CaseUUID:   "case-1",
		CaseStatus: models.StatusRunning,
	}
}

func TestNewConfig_ClampsFPS(t *testing.T) {
	assert.Equal(t, DefaultFPS, NewConfig(common.StreamConfig{}).FPS)
	assert.Equal(t, MinFPS, NewConfig(common.StreamConfig{FPS: 2}).FPS)
	assert.Equal(t, MaxFPS, NewConfig(common.StreamConfig{FPS: 60}).FPS)
	assert.Equal(t, 10, NewConfig(common.StreamConfig{FPS: 10}).FPS)
	assert.Equal(t, 100*time.Millisecond, NewConfig(common.StreamConfig{}).IdleInterval)
}

func TestBroadcaster_NoObserversNoCapture(t *testing.T) {
	source := &fakeSource{}
	backplane := &fakeBackplane{}

	b := NewBroadcaster(source, backplane, testState(), testConfig(), arbor.NewLogger())
	b.Start()
	time.Sleep(200 * time.Millisecond)
	b.Stop()

	assert.Zero(t, source.captures.Load(), "no frames captured while nobody watches")
	assert.Zero(t, backplane.count())
}

func TestBroadcaster_PublishesFramesToJobGroup(t *testing.T) {
	source := &fakeSource{}
	backplane := &fakeBackplane{}
	backplane.size.Store(1)

	b := NewBroadcaster(source, backplane, testState(), testConfig(), arbor.NewLogger())
	b.SetTask("task-7", models.StatusRunning)
	b.Start()

	require.Eventually(t, func() bool { return backplane.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	b.Stop()
	assert.Equal(t, int64(backplane.count()), b.Published())

	backplane.mu.Lock()
	defer backplane.mu.Unlock()
	assert.Equal(t, "BrowserStreaming_Job_job-1", backplane.groups[0])

	frame := backplane.published[0]
	assert.Equal(t, "send_frame", frame.Type)
	assert.Equal(t, "anBlZw==", frame.Frame)
	assert.Equal(t, "case-1", frame.CaseUUID)
	assert.Equal(t, "task-7", frame.TaskUUID)
	assert.Equal(t, models.StatusRunning, frame.TaskStatus)
	assert.Equal(t, "https://shop.example.com/cart", frame.CurrentURL)
}

func TestBroadcaster_FailedCaseStampedOnFrames(t *testing.T) {
	source := &fakeSource{}
	backplane := &fakeBackplane{}
	backplane.size.Store(1)

	b := NewBroadcaster(source, backplane, testState(), testConfig(), arbor.NewLogger())
	b.SetTask("task-2", models.StatusFailed)
	b.SetCaseStatus(models.StatusFailed)
	b.Start()

	require.Eventually(t, func() bool { return backplane.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	b.Stop()

	backplane.mu.Lock()
	defer backplane.mu.Unlock()
	frame := backplane.published[0]
	assert.Equal(t, models.StatusFailed, frame.CaseStatus)
	assert.Equal(t, models.StatusFailed, frame.TaskStatus)
	assert.Equal(t, models.StatusRunning, frame.JobStatus)
}

func TestBroadcaster_PauseGatesCapture(t *testing.T) {
	source := &fakeSource{}
	backplane := &fakeBackplane{}
	backplane.size.Store(3)

	b := NewBroadcaster(source, backplane, testState(), testConfig(), arbor.NewLogger())
	b.Pause()
	b.Start()
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, source.captures.Load())

	b.Resume()
	require.Eventually(t, func() bool { return backplane.count() > 0 }, 2*time.Second, 10*time.Millisecond)
	b.Stop()
}

func TestBroadcaster_CaptureErrorsAreSkipped(t *testing.T) {
	source := &fakeSource{err: errors.New("target closed")}
	backplane := &fakeBackplane{}
	backplane.size.Store(1)

	b := NewBroadcaster(source, backplane, testState(), testConfig(), arbor.NewLogger())
	b.Start()
	require.Eventually(t, func() bool { return source.captures.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	b.Stop()

	assert.Zero(t, backplane.count(), "failed captures publish nothing")
}

func TestBroadcaster_StopIsIdempotentAndFinal(t *testing.T) {
	source := &fakeSource{}
	backplane := &fakeBackplane{}
	backplane.size.Store(1)

	b := NewBroadcaster(source, backplane, testState(), testConfig(), arbor.NewLogger())
	b.Stop()
	b.Start()
	time.Sleep(100 * time.Millisecond)
	b.Stop()

	assert.Zero(t, source.captures.Load(), "start after stop does nothing")
}
