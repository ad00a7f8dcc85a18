package browser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// ChromeSession is a live Chrome instance owned by one test case run
type ChromeSession struct {
	id            string
	dir           string
	targetID      string
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	devtools      *devtoolsWriter
	recorder      *recorder
	network       *networkLogger
	logger        arbor.ILogger

	closeOnce sync.Once
	closeErr  error
}

func (s *ChromeSession) ID() string       { return s.id }
func (s *ChromeSession) TargetID() string { return s.targetID }

// DebuggerURL is the browser-level DevTools websocket an external agent can attach to
func (s *ChromeSession) DebuggerURL() string {
	return s.devtools.URL()
}

// VideoPath returns where the recording is being written, or "" when not recording
func (s *ChromeSession) VideoPath() string {
	if s.recorder == nil {
		return ""
	}
	return s.recorder.path
}

func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

// Screenshot captures the full page as PNG
func (s *ChromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// CaptureFrame captures the visible viewport as JPEG
func (s *ChromeSession) CaptureFrame(ctx context.Context, quality int) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(quality)).
			Do(ctx)
		return err
	}))
	return buf, err
}

func (s *ChromeSession) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Close stops the recorder and network log, then the browser.
// The profile directory is removed; recordings and network logs stay for upload.
func (s *ChromeSession) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if s.recorder != nil {
			if err := s.recorder.stop(ctx, s.ctx); err != nil {
				s.logger.Warn().Err(err).Str("session_id", s.id).Msg("Recorder did not stop cleanly")
			}
		}
		if s.network != nil {
			s.network.close()
		}

		s.browserCancel()
		s.allocCancel()

		if err := os.RemoveAll(filepath.Join(s.dir, "profile")); err != nil {
			s.closeErr = fmt.Errorf("failed to remove browser profile: %w", err)
		}
		s.logger.Debug().Str("session_id", s.id).Msg("Browser session closed")
	})
	return s.closeErr
}

// run executes actions on the session's tab, aborting them when ctx ends.
// Canceling ctx never closes the tab itself.
func (s *ChromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// allocate launches the browser on the session context.
// The first chromedp.Run owns the browser process, so it must not run on a context that ends early.
func (s *ChromeSession) allocate(ctx context.Context) error {
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(s.ctx)
	}()
	select {
	case err := <-started:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChromeSession) startActions(url string) []chromedp.Action {
	var actions []chromedp.Action
	if s.network != nil {
		actions = append(actions, network.Enable())
	}
	return append(actions, chromedp.Navigate(url))
}

const devtoolsPrefix = "DevTools listening on "

// devtoolsWriter receives Chrome's output and keeps the DevTools websocket URL it announces
type devtoolsWriter struct {
	mu  sync.Mutex
	url string
}

func (w *devtoolsWriter) Write(p []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(p))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, devtoolsPrefix); idx >= 0 {
			w.mu.Lock()
			w.url = strings.TrimSpace(line[idx+len(devtoolsPrefix):])
			w.mu.Unlock()
		}
	}
	return len(p), nil
}

func (w *devtoolsWriter) URL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.url
}
