package queue

import (
	"encoding/json"
	"errors"
)

// ErrNoMessage is returned when the queue has no visible message
var ErrNoMessage = errors.New("no messages in queue")

// Message types routed by the worker pool
const (
	MessageTypeExecuteJob = "execute_job"
)

// Message is the body stored in the queue.
// Keep it small - just enough to route the work to a handler.
type Message struct {
	ID      string          `json:"id,omitempty"` // Queue message id, set on Receive
	JobID   string          `json:"job_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
