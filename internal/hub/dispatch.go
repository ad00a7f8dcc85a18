package hub

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

// CommandHandler handles one decoded command for a client and returns its acknowledgement.
// The Ack name defaults to S2C_<COMMAND> when left empty.
type CommandHandler func(ctx context.Context, c *Client, cmd Command) (Ack, error)

// Handlers is a handler table keyed by command name
type Handlers map[CommandName]CommandHandler

// Router dispatches decoded commands through a fixed handler table
type Router struct {
	handlers Handlers
	logger   arbor.ILogger
}

// NewRouter builds a router over handlers. Every command in required must have a handler.
func NewRouter(handlers Handlers, required []CommandName, logger arbor.ILogger) (*Router, error) {
	for _, name := range required {
		if handlers[name] == nil {
			return nil, fmt.Errorf("no handler for command %s", name)
		}
	}
	return &Router{handlers: handlers, logger: logger}, nil
}

// Dispatch decodes one message and runs its handler
func (r *Router) Dispatch(ctx context.Context, c *Client, data []byte) Ack {
	cmd, err := DecodeCommand(data)
	if err != nil {
		return ErrorAck(err)
	}

	handler, ok := r.handlers[cmd.Name()]
	if !ok {
		return ErrorAck(&UnknownCommandError{Command: string(cmd.Name())})
	}

	ack, err := handler(ctx, c, cmd)
	if err != nil {
		return ErrorAck(err)
	}
	if ack.ACK == "" {
		ack.ACK = AckFor(cmd.Name())
	}
	return ack
}

// Serve reads commands from the client until the connection closes or ctx is done,
// replying to each with its acknowledgement.
func (r *Router) Serve(ctx context.Context, c *Client) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				r.logger.Warn().Err(err).Str("client_id", c.id).Msg("WebSocket error")
			}
			return
		}

		ack := r.Dispatch(ctx, c, data)
		if ack.ACK == AckError {
			r.logger.Debug().Str("client_id", c.id).Str("message", ack.Message).Msg("Command rejected")
		}
		if err := c.SendJSON(ack); err != nil {
			r.logger.Warn().Err(err).Str("client_id", c.id).Msg("Failed to send acknowledgement")
			return
		}
	}
}
