package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/models"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// newTestServer serves a stream-style endpoint that only understands CONNECT
func newTestServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	logger := arbor.NewLogger()

	router, err := NewRouter(Handlers{
		CmdConnect: func(ctx context.Context, c *Client, cmd Command) (Ack, error) {
			connect := cmd.(ConnectCommand)
			h.Join(c, models.StreamGroupName(connect.JobUUID))
			return Ack{JobUUID: connect.JobUUID}, nil
		},
	}, []CommandName{CmdConnect}, logger)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := h.Register(conn)
		defer func() {
			h.Unregister(client)
			conn.Close()
		}()
		router.Serve(r.Context(), client)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func TestHub_ConnectJoinsStreamGroup(t *testing.T) {
	h := New(arbor.NewLogger())
	server := newTestServer(t, h)
	conn := dial(t, server)
	group := models.StreamGroupName("job-1")

	require.NoError(t, conn.WriteJSON(map[string]string{"COMMAND": "CONNECT", "JOB_UUID": "job-1"}))
	var ack Ack
	readJSON(t, conn, &ack)
	assert.Equal(t, "S2C_CONNECT", ack.ACK)
	assert.Equal(t, "job-1", ack.JobUUID)
	assert.Equal(t, 1, h.GroupSize(group))

	require.NoError(t, h.Publish(group, models.Frame{Type: models.FrameMessageType, JobUUID: "job-1", Frame: "abc"}))
	var frame models.Frame
	readJSON(t, conn, &frame)
	assert.Equal(t, "send_frame", frame.Type)
	assert.Equal(t, "abc", frame.Frame)

	conn.Close()
	assert.Eventually(t, func() bool { return h.GroupSize(group) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, h.ClientCount())
}

func TestHub_RejectsUnknownAndUnhandledCommands(t *testing.T) {
	h := New(arbor.NewLogger())
	conn := dial(t, newTestServer(t, h))

	require.NoError(t, conn.WriteJSON(map[string]string{"COMMAND": "DANCE"}))
	var ack Ack
	readJSON(t, conn, &ack)
	assert.Equal(t, AckError, ack.ACK)
	assert.Contains(t, ack.Message, `unknown command "DANCE"`)

	// Valid command with no handler on this endpoint
	require.NoError(t, conn.WriteJSON(map[string]string{"COMMAND": "PAUSE"}))
	readJSON(t, conn, &ack)
	assert.Equal(t, AckError, ack.ACK)
	assert.Contains(t, ack.Message, "PAUSE")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	readJSON(t, conn, &ack)
	assert.Equal(t, AckError, ack.ACK)
}

func TestHub_PublishOnlyReachesGroupMembers(t *testing.T) {
	h := New(arbor.NewLogger())
	server := newTestServer(t, h)
	member := dial(t, server)
	other := dial(t, server)

	require.NoError(t, member.WriteJSON(map[string]string{"COMMAND": "CONNECT", "JOB_UUID": "job-a"}))
	require.NoError(t, other.WriteJSON(map[string]string{"COMMAND": "CONNECT", "JOB_UUID": "job-b"}))
	var ack Ack
	readJSON(t, member, &ack)
	readJSON(t, other, &ack)

	require.NoError(t, h.Publish(models.StreamGroupName("job-a"), map[string]string{"type": "ping"}))

	var msg map[string]string
	readJSON(t, member, &msg)
	assert.Equal(t, "ping", msg["type"])

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "non-member receives nothing")
}

func TestHub_GroupSizeWithoutClients(t *testing.T) {
	h := New(arbor.NewLogger())
	assert.Zero(t, h.GroupSize("nobody"))
	assert.NoError(t, h.Publish("nobody", map[string]string{"type": "ping"}))
}

func TestNewRouter_RequiresHandlers(t *testing.T) {
	_, err := NewRouter(Handlers{}, []CommandName{CmdConnect}, arbor.NewLogger())
	assert.Error(t, err)
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Command
		wantErr bool
	}{
		{name: "connect", input: `{"COMMAND":"CONNECT","JOB_UUID":"j1"}`, want: ConnectCommand{JobUUID: "j1"}},
		{name: "connect without job", input: `{"COMMAND":"CONNECT"}`, wantErr: true},
		{name: "legacy prefix and alias", input: `{"COMMAND":"C2S_LOAD_TASK","ALL_TASK_DATA":[{"uuid":"t1","title":"Open"}]}`,
			want: LoadTasksCommand{Tasks: []models.PlaygroundTask{{UUID: "t1", Title: "Open"}}}},
		{name: "load without tasks", input: `{"COMMAND":"LOAD_TASKS"}`, wantErr: true},
		{name: "run all", input: `{"COMMAND":"RUN_ALL_TASKS","START_URL":"https://example.com"}`, want: RunAllTasksCommand{StartURL: "https://example.com"}},
		{name: "run task", input: `{"COMMAND":"RUN_TASK","TASK_UUID":"t2"}`, want: RunTaskCommand{TaskUUID: "t2"}},
		{name: "run task without uuid", input: `{"COMMAND":"RUN_TASK"}`, wantErr: true},
		{name: "stop", input: `{"COMMAND":"stop"}`, want: StopCommand{}},
		{name: "pause", input: `{"COMMAND":"PAUSE"}`, want: PauseCommand{}},
		{name: "resume", input: `{"COMMAND":"C2S_RESUME"}`, want: ResumeCommand{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd)
		})
	}
}

func TestDecodeCommand_UnknownIsTyped(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"COMMAND":"REBOOT"}`))
	var unknown *UnknownCommandError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "REBOOT", unknown.Command)

	_, err = DecodeCommand([]byte(`{}`))
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "missing COMMAND", err.Error())
}
