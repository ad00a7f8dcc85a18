package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
)

// automationArgs keep password managers, permission prompts and background throttling out of agent runs
var automationArgs = []string{
	"disable-password-manager-reauthentication",
	"disable-features=PasswordManager,AutofillServerCommunication",
	"disable-save-password-bubble",
	"disable-notifications",
	"disable-infobars",
	"disable-translate",
	"disable-popup-blocking",
	"disable-default-apps",
	"disable-extensions-http-throttling",
	"disable-geolocation",
	"disable-media-stream",
	"use-fake-ui-for-media-stream",
	"use-fake-device-for-media-stream",
	"no-first-run",
	"no-default-browser-check",
	"disable-backgrounding-occluded-windows",
	"disable-renderer-backgrounding",
	"disable-background-timer-throttling",
}

// ChromeFactory launches one isolated Chrome process per test case run
type ChromeFactory struct {
	config         common.BrowserConfig
	startupTimeout time.Duration
	networkMaxAge  time.Duration
	networkSweep   time.Duration
	logger         arbor.ILogger
}

// NewChromeFactory creates a factory from [browser] configuration
func NewChromeFactory(config common.BrowserConfig, logger arbor.ILogger) *ChromeFactory {
	if config.WindowWidth <= 0 {
		config.WindowWidth = 1280
	}
	if config.WindowHeight <= 0 {
		config.WindowHeight = 1100
	}
	if config.WorkDir == "" {
		config.WorkDir = filepath.Join(os.TempDir(), "bugowl-sessions")
	}

	return &ChromeFactory{
		config:         config,
		startupTimeout: common.Duration(config.StartupTimeout, 30*time.Second),
		networkMaxAge:  common.Duration(config.NetworkMaxAge, DefaultNetworkMaxAge),
		networkSweep:   common.Duration(config.NetworkSweep, DefaultNetworkSweep),
		logger:         logger,
	}
}

// NewSession starts a browser, opens StartURL and begins recording when requested.
// The browser outlives ctx; only Close releases it.
func (f *ChromeFactory) NewSession(ctx context.Context, opts interfaces.SessionOptions) (interfaces.BrowserSession, error) {
	id := common.NewSessionID()
	log := f.logger.WithCorrelationId(opts.JobID)

	if opts.Browser != "" && opts.Browser != models.BrowserChrome {
		log.Warn().
			Str("requested", string(opts.Browser)).
			Str("case_id", opts.CaseID).
			Msg("Browser kind not supported, falling back to chrome")
	}

	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		width, height = f.config.WindowWidth, f.config.WindowHeight
	}

	dir := filepath.Join(f.config.WorkDir, sanitize(opts.JobID), sanitize(opts.CaseID)+"-"+id[:8])
	profileDir := filepath.Join(dir, "profile")
	if err := os.MkdirAll(profileDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	devtools := &devtoolsWriter{}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), f.allocatorOptions(opts.Headless, width, height, profileDir, devtools)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	session := &ChromeSession{
		id:            id,
		dir:           dir,
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		devtools:      devtools,
		logger:        log,
	}

	if f.config.NetworkLog {
		session.network = newNetworkLogger(filepath.Join(dir, "network.jsonl"), f.networkMaxAge, f.networkSweep, log)
		session.network.attach(browserCtx)
	}

	startCtx, cancel := context.WithTimeout(ctx, f.startupTimeout)
	defer cancel()

	startTime := time.Now()
	startURL := opts.StartURL
	if startURL == "" {
		startURL = "about:blank"
	}
	if err := session.allocate(startCtx); err != nil {
		session.Close(context.Background())
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	if err := session.run(startCtx, session.startActions(startURL)...); err != nil {
		session.Close(context.Background())
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	if c := chromedp.FromContext(browserCtx); c != nil && c.Target != nil {
		session.targetID = string(c.Target.TargetID)
	}

	if opts.Record && f.config.RecordVideo {
		rec, err := startRecorder(browserCtx, f.config.FFmpegPath, filepath.Join(dir, "recording.mp4"), log)
		if err != nil {
			log.Warn().Err(err).Str("case_id", opts.CaseID).Msg("Video recording unavailable")
		} else {
			session.recorder = rec
		}
	}

	log.Info().
		Str("session_id", id).
		Str("case_id", opts.CaseID).
		Bool("headless", opts.Headless).
		Str("start_url", startURL).
		Dur("startup", time.Since(startTime)).
		Msg("Browser session started")

	return session, nil
}

func (f *ChromeFactory) allocatorOptions(headless bool, width, height int, profileDir string, devtools *devtoolsWriter) []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(width, height),
		chromedp.UserDataDir(profileDir),
		chromedp.CombinedOutput(devtools),
	)
	if f.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.config.ExecPath))
	}
	if f.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.config.UserAgent))
	}

	args := append(append([]string{}, automationArgs...), f.config.ExtraArgs...)
	for _, arg := range args {
		opts = append(opts, flagFromArg(arg))
	}
	return opts
}

// flagFromArg turns "name" or "name=value" (with or without leading dashes) into an allocator flag
func flagFromArg(arg string) chromedp.ExecAllocatorOption {
	arg = strings.TrimLeft(arg, "-")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return chromedp.Flag(name, value)
	}
	return chromedp.Flag(arg, true)
}

func sanitize(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
