package interfaces

import (
	"context"

	"github.com/ternarybob/bugowl/internal/models"
)

// SessionOptions configures one browser session
type SessionOptions struct {
	JobID    string
	CaseID   string
	Browser  models.Browser
	Headless bool
	StartURL string
	Width    int
	Height   int
	Record   bool
}

// Screenshotter captures a full-page PNG of the active page
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// FrameSource captures viewport frames for live streaming
type FrameSource interface {
	CaptureFrame(ctx context.Context, quality int) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
}

// BrowserSession is one isolated browser instance bound to a test case run
type BrowserSession interface {
	Screenshotter
	FrameSource

	ID() string
	// TargetID and DebuggerURL let an out-of-process agent attach to the page
	TargetID() string
	DebuggerURL() string
	Navigate(ctx context.Context, url string) error
	// VideoPath returns the recording file; only meaningful while the session is live
	VideoPath() string
	// Close stops recording and the browser; safe to call more than once
	Close(ctx context.Context) error
}

// BrowserFactory opens browser sessions
type BrowserFactory interface {
	NewSession(ctx context.Context, opts SessionOptions) (BrowserSession, error)
}
