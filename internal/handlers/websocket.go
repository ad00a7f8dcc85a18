package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/hub"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/ternarybob/bugowl/internal/services/playground"
)

const playgroundStopTimeout = time.Minute

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024 * 64,
	CheckOrigin: func(r *http.Request) bool {
		return true // Observers connect from the main web app's origin
	},
}

// streamCommands are handled on /ws/stream/
var streamCommands = []hub.CommandName{hub.CmdConnect}

// playgroundCommands are handled on /ws/playground/
var playgroundCommands = []hub.CommandName{
	hub.CmdConnect,
	hub.CmdLoadTasks,
	hub.CmdRunAllTasks,
	hub.CmdRunTask,
	hub.CmdStop,
	hub.CmdPause,
	hub.CmdResume,
}

// WebSocketHandler serves live frame streams and interactive playground sessions
type WebSocketHandler struct {
	hub         *hub.Hub
	playgrounds *playground.Factory
	stream      *hub.Router
	logger      arbor.ILogger
}

func NewWebSocketHandler(h *hub.Hub, playgrounds *playground.Factory, logger arbor.ILogger) (*WebSocketHandler, error) {
	wh := &WebSocketHandler{
		hub:         h,
		playgrounds: playgrounds,
		logger:      logger,
	}

	router, err := hub.NewRouter(hub.Handlers{hub.CmdConnect: wh.handleStreamConnect}, streamCommands, logger)
	if err != nil {
		return nil, err
	}
	wh.stream = router
	return wh, nil
}

// HandleStream lets observers watch a job's live frames
// GET /ws/stream/
func (wh *WebSocketHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		wh.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := wh.hub.Register(conn)
	defer func() {
		wh.hub.Unregister(client)
		conn.Close()
	}()

	wh.stream.Serve(r.Context(), client)
}

// handleStreamConnect moves the client into the job's stream group
func (wh *WebSocketHandler) handleStreamConnect(ctx context.Context, c *hub.Client, cmd hub.Command) (hub.Ack, error) {
	connect := cmd.(hub.ConnectCommand)
	wh.switchGroup(c, models.StreamGroupName(connect.JobUUID))
	return hub.Ack{JobUUID: connect.JobUUID}, nil
}

// switchGroup leaves every joined group and joins group
func (wh *WebSocketHandler) switchGroup(c *hub.Client, group string) {
	for _, joined := range wh.hub.Groups(c) {
		if joined != group {
			wh.hub.Leave(c, joined)
		}
	}
	wh.hub.Join(c, group)
}

// HandlePlayground runs an interactive playground for the lifetime of the connection
// GET /ws/playground/
func (wh *WebSocketHandler) HandlePlayground(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		wh.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := wh.hub.Register(conn)
	session := wh.playgrounds.NewSession()
	wh.hub.Join(client, session.Group())

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), playgroundStopTimeout)
		defer cancel()
		if err := session.Stop(ctx); err != nil {
			wh.logger.Warn().Err(err).Str("session", session.ID()).Msg("Failed to stop playground")
		}
		wh.hub.Unregister(client)
		conn.Close()
	}()

	router, err := hub.NewRouter(wh.playgroundHandlers(session), playgroundCommands, wh.logger)
	if err != nil {
		wh.logger.Error().Err(err).Msg("Playground handler table incomplete")
		return
	}
	router.Serve(r.Context(), client)
}

// playgroundHandlers binds every playground command to session
func (wh *WebSocketHandler) playgroundHandlers(session *playground.Session) hub.Handlers {
	return hub.Handlers{
		hub.CmdConnect: func(ctx context.Context, c *hub.Client, cmd hub.Command) (hub.Ack, error) {
			connect := cmd.(hub.ConnectCommand)
			if err := session.Connect(connect.JobUUID); err != nil {
				return hub.Ack{}, err
			}
			wh.switchGroup(c, session.Group())
			return hub.Ack{JobUUID: connect.JobUUID}, nil
		},
		hub.CmdLoadTasks: func(ctx context.Context, c *hub.Client, cmd hub.Command) (hub.Ack, error) {
			load := cmd.(hub.LoadTasksCommand)
			if err := session.LoadTasks(load.Tasks, load.StartURL); err != nil {
				return hub.Ack{}, err
			}
			return hub.Ack{JobUUID: session.ID(), Tasks: len(load.Tasks)}, nil
		},
		hub.CmdRunAllTasks: func(ctx context.Context, c *hub.Client, cmd hub.Command) (hub.Ack, error) {
			run := cmd.(hub.RunAllTasksCommand)
			n, err := session.RunAll(ctx, run.Tasks, run.StartURL)
			if err != nil {
				return hub.Ack{}, err
			}
			return hub.Ack{JobUUID: session.ID(), Tasks: n}, nil
		},
		hub.CmdRunTask: func(ctx context.Context, c *hub.Client, cmd hub.Command) (hub.Ack, error) {
			run := cmd.(hub.RunTaskCommand)
			if err := session.RunTask(ctx, run.TaskUUID, run.Tasks, run.StartURL); err != nil {
				return hub.Ack{}, err
			}
			return hub.Ack{JobUUID: session.ID(), TaskUUID: run.TaskUUID}, nil
		},
		hub.CmdStop: func(ctx context.Context, c *hub.Client, cmd hub.Command) (hub.Ack, error) {
			stopCtx, cancel := context.WithTimeout(ctx, playgroundStopTimeout)
			defer cancel()
			if err := session.Stop(stopCtx); err != nil {
				return hub.Ack{}, err
			}
			return hub.Ack{JobUUID: session.ID()}, nil
		},
		hub.CmdPause: func(ctx context.Context, c *hub.Client, cmd hub.Command) (hub.Ack, error) {
			session.Pause()
			return hub.Ack{JobUUID: session.ID()}, nil
		},
		hub.CmdResume: func(ctx context.Context, c *hub.Client, cmd hub.Command) (hub.Ack, error) {
			session.Resume()
			return hub.Ack{JobUUID: session.ID()}, nil
		},
	}
}
