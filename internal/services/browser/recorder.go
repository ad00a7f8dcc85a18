package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

const (
	recordFrameRate = 10
	recordQuality   = 80
	recordBuffer    = 64
)

// recorder pipes the page screencast into ffmpeg, producing an mp4 at path
type recorder struct {
	path   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	frames chan []byte
	done   chan struct{}
	logger arbor.ILogger

	mu      sync.Mutex
	stopped bool
	dropped int
}

func startRecorder(browserCtx context.Context, ffmpegPath, path string, logger arbor.ILogger) (*recorder, error) {
	if ffmpegPath == "" {
		return nil, fmt.Errorf("ffmpeg path not configured")
	}
	bin, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	cmd := exec.Command(bin,
		"-y", "-loglevel", "error",
		"-f", "image2pipe", "-c:v", "mjpeg", "-framerate", fmt.Sprint(recordFrameRate), "-i", "-",
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		path,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	r := &recorder{
		path:   path,
		cmd:    cmd,
		stdin:  stdin,
		frames: make(chan []byte, recordBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go r.writeLoop()

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		frame, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		go chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return page.ScreencastFrameAck(frame.SessionID).Do(ctx)
		}))

		data, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			return
		}
		r.push(data)
	})

	err = chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.StartScreencast().
			WithFormat(page.ScreencastFormatJpeg).
			WithQuality(recordQuality).
			WithEveryNthFrame(1).
			Do(ctx)
	}))
	if err != nil {
		r.finish(context.Background())
		return nil, fmt.Errorf("failed to start screencast: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Screencast recording started")
	return r, nil
}

func (r *recorder) push(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	select {
	case r.frames <- data:
	default:
		r.dropped++
	}
}

func (r *recorder) writeLoop() {
	defer close(r.done)
	for data := range r.frames {
		if _, err := r.stdin.Write(data); err != nil {
			r.logger.Warn().Err(err).Msg("ffmpeg rejected frame, recording truncated")
			for range r.frames {
			}
			return
		}
	}
}

// stop ends the screencast and waits for ffmpeg to finalize the file, bounded by ctx
func (r *recorder) stop(ctx context.Context, browserCtx context.Context) error {
	stopCtx, cancel := context.WithTimeout(browserCtx, 2*time.Second)
	chromedp.Run(stopCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.StopScreencast().Do(ctx)
	}))
	cancel()

	return r.finish(ctx)
}

func (r *recorder) finish(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.frames)
	dropped := r.dropped
	r.mu.Unlock()

	<-r.done
	r.stdin.Close()

	waitErr := make(chan error, 1)
	go func() { waitErr <- r.cmd.Wait() }()

	select {
	case err := <-waitErr:
		if dropped > 0 {
			r.logger.Debug().Int("dropped_frames", dropped).Str("path", r.path).Msg("Recording finished with dropped frames")
		}
		return err
	case <-ctx.Done():
		r.cmd.Process.Kill()
		return fmt.Errorf("ffmpeg did not finish: %w", ctx.Err())
	}
}
