package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/hub"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/ternarybob/bugowl/internal/services/browser/browsertest"
	"github.com/ternarybob/bugowl/internal/services/playground"
	"github.com/ternarybob/bugowl/internal/services/stream"
)

// MockAgent mocks the browsing agent
type MockAgent struct {
	mock.Mock
}

func (m *MockAgent) Run(ctx context.Context, session interfaces.BrowserSession, task models.AgentTask) (*models.AgentOutcome, error) {
	args := m.Called(ctx, session, task)
	if out := args.Get(0); out != nil {
		return out.(*models.AgentOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

type wsHarness struct {
	hub      *hub.Hub
	agent    *MockAgent
	browsers *browsertest.Factory
	server   *httptest.Server
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	logger := arbor.NewLogger()
	h := &wsHarness{
		hub:      hub.New(logger),
		agent:    new(MockAgent),
		browsers: &browsertest.Factory{},
	}

	playgrounds := playground.NewFactory(h.browsers, h.agent, h.hub, playground.Config{
		Stream: stream.Config{FPS: 8, IdleInterval: 5 * time.Millisecond, JPEGQuality: 50, StopTimeout: time.Second},
	}, logger)
	wh, err := NewWebSocketHandler(h.hub, playgrounds, logger)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/stream/", wh.HandleStream)
	mux.HandleFunc("/ws/playground/", wh.HandlePlayground)
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

func (h *wsHarness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil reads messages until one satisfies match
func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]interface{}) bool) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func ackIs(name string) func(map[string]interface{}) bool {
	return func(msg map[string]interface{}) bool { return msg["ACK"] == name }
}

func TestStream_ConnectSwitchesGroup(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "/ws/stream/")

	send(t, conn, map[string]interface{}{"COMMAND": "CONNECT", "JOB_UUID": "job-1"})
	ack := readUntil(t, conn, ackIs("S2C_CONNECT"))
	assert.Equal(t, "job-1", ack["job_uuid"])
	assert.Equal(t, 1, h.hub.GroupSize(models.StreamGroupName("job-1")))

	send(t, conn, map[string]interface{}{"COMMAND": "CONNECT", "JOB_UUID": "job-2"})
	readUntil(t, conn, ackIs("S2C_CONNECT"))
	assert.Zero(t, h.hub.GroupSize(models.StreamGroupName("job-1")))
	assert.Equal(t, 1, h.hub.GroupSize(models.StreamGroupName("job-2")))

	// Playground commands are not served on the stream endpoint
	send(t, conn, map[string]interface{}{"COMMAND": "RUN_ALL_TASKS"})
	ack = readUntil(t, conn, ackIs(hub.AckError))
	assert.Contains(t, ack["message"], "RUN_ALL_TASKS")
}

func TestPlayground_RunAllStreamsStatuses(t *testing.T) {
	h := newWSHarness(t)
	h.agent.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(&models.AgentOutcome{Success: true, Output: "ok"}, nil)
	conn := h.dial(t, "/ws/playground/")

	send(t, conn, map[string]interface{}{"COMMAND": "CONNECT", "JOB_UUID": "pg-1"})
	readUntil(t, conn, ackIs("S2C_CONNECT"))
	assert.Equal(t, 1, h.hub.GroupSize(models.StreamGroupName("pg-1")))

	send(t, conn, map[string]interface{}{
		"COMMAND": "LOAD_TASKS",
		"TASKS":   []map[string]string{{"uuid": "t1", "title": "Open home"}, {"uuid": "t2", "title": "Search"}},
	})
	ack := readUntil(t, conn, ackIs("S2C_LOAD_TASKS"))
	assert.Equal(t, float64(2), ack["tasks"])

	send(t, conn, map[string]interface{}{"COMMAND": "RUN_ALL_TASKS"})
	readUntil(t, conn, ackIs("S2C_RUN_ALL_TASKS"))

	last := readUntil(t, conn, func(msg map[string]interface{}) bool {
		return msg["type"] == models.TaskStatusMessageType && msg["task_uuid"] == "t2" && msg["task_status"] == string(models.StatusPass)
	})
	assert.Equal(t, "pg-1", last["job_uuid"])

	send(t, conn, map[string]interface{}{"COMMAND": "STOP"})
	readUntil(t, conn, ackIs("S2C_STOP"))
	require.Len(t, h.browsers.Sessions(), 1)
	assert.True(t, h.browsers.Sessions()[0].Closed())
}

func TestPlayground_ErrorsAreAcknowledged(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "/ws/playground/")

	send(t, conn, map[string]interface{}{"COMMAND": "RUN_TASK", "TASK_UUID": "missing"})
	ack := readUntil(t, conn, ackIs(hub.AckError))
	assert.Contains(t, ack["message"], "task not loaded")

	send(t, conn, map[string]interface{}{"COMMAND": "WARP"})
	ack = readUntil(t, conn, ackIs(hub.AckError))
	assert.Contains(t, ack["message"], "unknown command")

	send(t, conn, map[string]interface{}{"COMMAND": "PAUSE"})
	readUntil(t, conn, ackIs("S2C_PAUSE"))
	send(t, conn, map[string]interface{}{"COMMAND": "RESUME"})
	readUntil(t, conn, ackIs("S2C_RESUME"))
}

func TestPlayground_DisconnectClosesBrowser(t *testing.T) {
	h := newWSHarness(t)
	h.agent.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(&models.AgentOutcome{Success: true}, nil)
	conn := h.dial(t, "/ws/playground/")

	send(t, conn, map[string]interface{}{
		"COMMAND":       "C2S_RUN_TASK",
		"TASK_UUID":     "t1",
		"ALL_TASK_DATA": []map[string]string{{"uuid": "t1", "title": "Open home"}},
	})
	readUntil(t, conn, ackIs("S2C_RUN_TASK"))
	require.Len(t, h.browsers.Sessions(), 1)

	conn.Close()
	assert.Eventually(t, func() bool { return h.browsers.Sessions()[0].Closed() }, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.hub.ClientCount() == 0 }, 3*time.Second, 10*time.Millisecond)
}
