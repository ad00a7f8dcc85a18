// Package browsertest provides in-memory browser sessions for tests
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/bugowl/internal/interfaces"
)

// ErrClosed is returned by page operations on a closed session
var ErrClosed = errors.New("session closed")

// Session is a scripted interfaces.BrowserSession
type Session struct {
	SessionID     string
	Target        string
	Debugger      string
	Video         string
	Opts          interfaces.SessionOptions
	ScreenshotErr error

	mu         sync.Mutex
	url        string
	closed     bool
	closeCalls int
	visited    []string
}

func (s *Session) ID() string          { return s.SessionID }
func (s *Session) TargetID() string    { return s.Target }
func (s *Session) DebuggerURL() string { return s.Debugger }

// String keeps fmt and mock argument diffs off the mutable fields
func (s *Session) String() string { return s.SessionID }

func (s *Session) VideoPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ""
	}
	return s.Video
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.url = url
	s.visited = append(s.visited, url)
	return nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.ScreenshotErr != nil {
		return nil, s.ScreenshotErr
	}
	return []byte("png:" + s.url), nil
}

func (s *Session) CaptureFrame(ctx context.Context, quality int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return []byte("jpeg"), nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCalls++
	return nil
}

// Closed reports whether Close was called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCalls counts Close invocations
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Visited lists navigated URLs in order
func (s *Session) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

// Factory hands out Sessions and remembers them
type Factory struct {
	// Err fails every NewSession call when set
	Err error
	// Video, when set, is reported as every session's recording path
	Video string
	// OnNewSession runs after a session is created
	OnNewSession func(*Session)

	mu       sync.Mutex
	sessions []*Session
}

func (f *Factory) NewSession(ctx context.Context, opts interfaces.SessionOptions) (interfaces.BrowserSession, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	f.mu.Lock()
	s := &Session{
		SessionID: fmt.Sprintf("session-%d", len(f.sessions)+1),
		Target:    fmt.Sprintf("target-%d", len(f.sessions)+1),
		Debugger:  "ws://127.0.0.1:9222/devtools/browser/fake",
		Video:     f.Video,
		Opts:      opts,
		url:       opts.StartURL,
	}
	f.sessions = append(f.sessions, s)
	hook := f.OnNewSession
	f.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return s, nil
}

// Sessions returns every session created so far
func (f *Factory) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions...)
}
