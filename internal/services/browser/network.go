package browser

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
)

const (
	DefaultNetworkMaxAge = 30 * time.Second
	DefaultNetworkSweep  = 5 * time.Second
)

// NetworkEntry is one completed or failed request
type NetworkEntry struct {
	RequestID    string    `json:"request_id"`
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	ResourceType string    `json:"resource_type,omitempty"`
	Status       int64     `json:"status,omitempty"`
	MimeType     string    `json:"mime_type,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
}

// RequestTable correlates requests with their responses by request id.
// Requests never answered are evicted once older than maxAge.
type RequestTable struct {
	mu      sync.Mutex
	pending map[string]*NetworkEntry
	maxAge  time.Duration
}

func NewRequestTable(maxAge time.Duration) *RequestTable {
	if maxAge <= 0 {
		maxAge = DefaultNetworkMaxAge
	}
	return &RequestTable{
		pending: make(map[string]*NetworkEntry),
		maxAge:  maxAge,
	}
}

// OnRequest records an outgoing request; a redirect reuses the id and replaces the entry
func (t *RequestTable) OnRequest(id, method, url, resourceType string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[id] = &NetworkEntry{
		RequestID:    id,
		Method:       method,
		URL:          url,
		ResourceType: resourceType,
		StartedAt:    at,
	}
}

// OnResponse completes a pending request. ok is false for unknown ids.
func (t *RequestTable) OnResponse(id string, status int64, mimeType string, at time.Time) (NetworkEntry, bool) {
	return t.complete(id, at, func(e *NetworkEntry) {
		e.Status = status
		e.MimeType = mimeType
	})
}

// OnFailed completes a pending request with a transport error
func (t *RequestTable) OnFailed(id, errorText string, at time.Time) (NetworkEntry, bool) {
	return t.complete(id, at, func(e *NetworkEntry) {
		e.Error = errorText
	})
}

func (t *RequestTable) complete(id string, at time.Time, fill func(*NetworkEntry)) (NetworkEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.pending[id]
	if !ok {
		return NetworkEntry{}, false
	}
	delete(t.pending, id)

	fill(e)
	e.DurationMS = at.Sub(e.StartedAt).Milliseconds()
	return *e, true
}

// Sweep evicts requests older than maxAge and returns how many were dropped
func (t *RequestTable) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, e := range t.pending {
		if now.Sub(e.StartedAt) > t.maxAge {
			delete(t.pending, id)
			evicted++
		}
	}
	return evicted
}

func (t *RequestTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// networkLogger feeds DevTools network events into a RequestTable and appends completed pairs to a JSON lines file
type networkLogger struct {
	table  *RequestTable
	path   string
	logger arbor.ILogger

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder

	stop      chan struct{}
	closeOnce sync.Once
}

func newNetworkLogger(path string, maxAge, sweep time.Duration, logger arbor.ILogger) *networkLogger {
	n := &networkLogger{
		table:  NewRequestTable(maxAge),
		path:   path,
		logger: logger,
		stop:   make(chan struct{}),
	}

	if sweep <= 0 {
		sweep = DefaultNetworkSweep
	}
	common.SafeGo(logger, "networkSweep", func() {
		n.sweepLoop(sweep)
	})
	return n
}

func (n *networkLogger) attach(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		now := time.Now()
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if e.Request == nil {
				return
			}
			n.table.OnRequest(string(e.RequestID), e.Request.Method, e.Request.URL, string(e.Type), now)
		case *network.EventResponseReceived:
			if e.Response == nil {
				return
			}
			if entry, ok := n.table.OnResponse(string(e.RequestID), e.Response.Status, e.Response.MimeType, now); ok {
				n.write(entry)
			}
		case *network.EventLoadingFailed:
			if entry, ok := n.table.OnFailed(string(e.RequestID), e.ErrorText, now); ok {
				n.write(entry)
			}
		}
	})
}

func (n *networkLogger) write(entry NetworkEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()

	select {
	case <-n.stop:
		return
	default:
	}

	if n.enc == nil {
		f, err := os.OpenFile(n.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			n.logger.Warn().Err(err).Str("path", n.path).Msg("Failed to open network log")
			return
		}
		n.file = f
		n.enc = json.NewEncoder(f)
	}
	if err := n.enc.Encode(entry); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to write network log entry")
	}
}

func (n *networkLogger) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case now := <-ticker.C:
			if evicted := n.table.Sweep(now); evicted > 0 {
				n.logger.Trace().Int("evicted", evicted).Msg("Evicted unanswered requests")
			}
		}
	}
}

func (n *networkLogger) close() {
	n.closeOnce.Do(func() {
		close(n.stop)
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.file != nil {
			n.file.Close()
		}
		n.enc = nil
		n.file = nil
	})
}
