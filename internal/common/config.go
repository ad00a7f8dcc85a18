package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment"` // "local", "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Logging      LoggingConfig      `toml:"logging"`
	Queue        QueueConfig        `toml:"queue"`
	Browser      BrowserConfig      `toml:"browser"`
	Stream       StreamConfig       `toml:"stream"`
	Cancellation CancellationConfig `toml:"cancellation"`
	Notify       NotifyConfig       `toml:"notify"`
	Agent        AgentConfig        `toml:"agent"`
	Artifacts    ArtifactsConfig    `toml:"artifacts"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
	InMemory       bool   `toml:"in_memory"`        // Keep everything in memory (tests, one-shot runs)
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
	// MinEventLevel is the lowest level of job log lines streamed to observers
	MinEventLevel string `toml:"min_event_level"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g. "1s"
	Concurrency       int    `toml:"concurrency"`        // Jobs run at once
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g. "10m"
	MaxReceive        int    `toml:"max_receive"`        // Deliveries before a message is dropped
	QueueName         string `toml:"queue_name"`
}

// BrowserConfig controls the automation browser launched per test case
type BrowserConfig struct {
	Headless       bool     `toml:"headless"`
	ExecPath       string   `toml:"exec_path"`       // Empty uses chromedp discovery
	UserAgent      string   `toml:"user_agent"`
	WindowWidth    int      `toml:"window_width"`
	WindowHeight   int      `toml:"window_height"`
	StartupTimeout string   `toml:"startup_timeout"` // e.g. "30s"
	ExtraArgs      []string `toml:"extra_args"`      // Extra chrome switches, "name" or "name=value"
	RecordVideo    bool     `toml:"record_video"`
	FFmpegPath     string   `toml:"ffmpeg_path"`     // Encoder for screencast frames; empty disables video
	NetworkLog     bool     `toml:"network_log"`     // Write request/response pairs per session
	NetworkMaxAge  string   `toml:"network_max_age"` // Unanswered requests are evicted after this age
	NetworkSweep   string   `toml:"network_sweep"`   // Eviction sweep interval
	WorkDir        string   `toml:"work_dir"`        // Per-session profiles, recordings and logs
}

// StreamConfig controls live frame broadcasting
type StreamConfig struct {
	FPS          int    `toml:"fps"`           // Clamped to 8-12
	IdleInterval string `toml:"idle_interval"` // Sleep when nobody is watching or paused
	JPEGQuality  int    `toml:"jpeg_quality"`
	StopTimeout  string `toml:"stop_timeout"` // Bound on waiting for the loop to exit
}

// CancellationConfig controls the out-of-band cancellation flag
type CancellationConfig struct {
	TTL string `toml:"ttl"` // Lifetime of a cancellation entry, e.g. "48h"
}

// NotifyConfig controls status propagation to the main API
type NotifyConfig struct {
	MainHost     string `toml:"main_host"`     // e.g. "https://app.example.com"
	Token        string `toml:"token"`         // Static token sent as "Authorization: Token <token>"
	TokenURL     string `toml:"token_url"`     // OAuth2 client credentials endpoint; overrides Token when set
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	Timeout      string `toml:"timeout"`     // Per-attempt timeout
	RetryDelay   string `toml:"retry_delay"` // Delay before the single 5xx retry
}

// AgentConfig points at the remote browsing agent
type AgentConfig struct {
	URL         string `toml:"url"`
	APIKey      string `toml:"api_key"`
	MaxSteps    int    `toml:"max_steps"`
	TaskTimeout string `toml:"task_timeout"`
	LLMModel    string `toml:"llm_model"`
}

// ArtifactsConfig controls screenshot and video storage
type ArtifactsConfig struct {
	Store     string   `toml:"store"`      // "s3" or "filesystem"
	WorkDir   string   `toml:"work_dir"`   // Local staging directory
	KeepLocal bool     `toml:"keep_local"` // Keep staged copies after upload
	Root      string   `toml:"root"`       // Filesystem store destination
	BaseURL   string   `toml:"base_url"`   // Filesystem store public URL prefix
	S3        S3Config `toml:"s3"`
}

type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	CustomDomain    string `toml:"custom_domain"` // Public URLs use this host instead of the bucket host
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Endpoint        string `toml:"endpoint"` // Optional S3-compatible endpoint
}

// SchedulerConfig controls housekeeping jobs
type SchedulerConfig struct {
	Enabled       bool   `toml:"enabled"`
	StaleSchedule string `toml:"stale_schedule"` // Cron expression for the stale run reaper
	StaleAfter    string `toml:"stale_after"`    // Running jobs untouched this long are failed
	GCSchedule    string `toml:"gc_schedule"`    // Cron expression for Badger value log GC
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/bugowl.badger",
			},
		},
		Logging: LoggingConfig{
			Level:         "info",
			Output:        []string{"stdout", "file"},
			MinEventLevel: "info",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       2,
			VisibilityTimeout: "10m",
			MaxReceive:        1,
			QueueName:         "bugowl_jobs",
		},
		Browser: BrowserConfig{
			Headless:       true,
			WindowWidth:    1280,
			WindowHeight:   1100,
			StartupTimeout: "30s",
			RecordVideo:    true,
			FFmpegPath:     "ffmpeg",
			NetworkLog:     true,
			NetworkMaxAge:  "30s",
			NetworkSweep:   "5s",
			WorkDir:        "./data/sessions",
		},
		Stream: StreamConfig{
			FPS:          8,
			IdleInterval: "100ms",
			JPEGQuality:  60,
			StopTimeout:  "5s",
		},
		Cancellation: CancellationConfig{
			TTL: "48h",
		},
		Notify: NotifyConfig{
			Timeout:    "10s",
			RetryDelay: "2s",
		},
		Agent: AgentConfig{
			URL:         "http://localhost:8090",
			MaxSteps:    25,
			TaskTimeout: "10m",
			LLMModel:    "gpt-4o",
		},
		Artifacts: ArtifactsConfig{
			Store:   "filesystem",
			WorkDir: "./data/artifacts",
			Root:    "./data/uploads",
			BaseURL: "http://localhost:8085/artifacts",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			StaleSchedule: "*/5 * * * *",
			StaleAfter:    "2h",
			GCSchedule:    "0 * * * *",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies BUGOWL_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("BUGOWL_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("BUGOWL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("BUGOWL_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("BUGOWL_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("BUGOWL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if level := os.Getenv("BUGOWL_LOG_MIN_EVENT_LEVEL"); level != "" {
		config.Logging.MinEventLevel = level
	}
	if output := os.Getenv("BUGOWL_LOG_OUTPUT"); output != "" {
		if outputs := splitList(output); len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Queue configuration
	if concurrency := os.Getenv("BUGOWL_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}

	// Browser configuration
	if headless := os.Getenv("BUGOWL_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if execPath := os.Getenv("BUGOWL_BROWSER_EXEC_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}
	if ffmpeg := os.Getenv("BUGOWL_FFMPEG_PATH"); ffmpeg != "" {
		config.Browser.FFmpegPath = ffmpeg
	}

	// Stream configuration
	if fps := os.Getenv("BUGOWL_STREAM_FPS"); fps != "" {
		if f, err := strconv.Atoi(fps); err == nil {
			config.Stream.FPS = f
		}
	}

	// Notify configuration
	if mainHost := os.Getenv("BUGOWL_MAIN_HOST"); mainHost != "" {
		config.Notify.MainHost = mainHost
	}
	if token := os.Getenv("BUGOWL_MAIN_TOKEN"); token != "" {
		config.Notify.Token = token
	}
	if secret := os.Getenv("BUGOWL_MAIN_CLIENT_SECRET"); secret != "" {
		config.Notify.ClientSecret = secret
	}

	// Agent configuration
	if agentURL := os.Getenv("BUGOWL_AGENT_URL"); agentURL != "" {
		config.Agent.URL = agentURL
	}
	if apiKey := os.Getenv("BUGOWL_AGENT_API_KEY"); apiKey != "" {
		config.Agent.APIKey = apiKey
	}
	if model := os.Getenv("BUGOWL_LLM_MODEL"); model != "" {
		config.Agent.LLMModel = model
	}

	// Artifact configuration
	if store := os.Getenv("BUGOWL_ARTIFACTS_STORE"); store != "" {
		config.Artifacts.Store = store
	}
	if bucket := os.Getenv("BUGOWL_S3_BUCKET"); bucket != "" {
		config.Artifacts.S3.Bucket = bucket
	}
	if region := os.Getenv("BUGOWL_S3_REGION"); region != "" {
		config.Artifacts.S3.Region = region
	}
	if domain := os.Getenv("BUGOWL_S3_CUSTOM_DOMAIN"); domain != "" {
		config.Artifacts.S3.CustomDomain = domain
	}
	if keyID := os.Getenv("BUGOWL_S3_ACCESS_KEY_ID"); keyID != "" {
		config.Artifacts.S3.AccessKeyID = keyID
	}
	if secret := os.Getenv("BUGOWL_S3_SECRET_ACCESS_KEY"); secret != "" {
		config.Artifacts.S3.SecretAccessKey = secret
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	durations := map[string]string{
		"queue.poll_interval":      c.Queue.PollInterval,
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"browser.startup_timeout":  c.Browser.StartupTimeout,
		"browser.network_max_age":  c.Browser.NetworkMaxAge,
		"browser.network_sweep":    c.Browser.NetworkSweep,
		"stream.idle_interval":     c.Stream.IdleInterval,
		"stream.stop_timeout":      c.Stream.StopTimeout,
		"cancellation.ttl":         c.Cancellation.TTL,
		"notify.timeout":           c.Notify.Timeout,
		"notify.retry_delay":       c.Notify.RetryDelay,
		"agent.task_timeout":       c.Agent.TaskTimeout,
		"scheduler.stale_after":    c.Scheduler.StaleAfter,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	if c.Scheduler.Enabled {
		for name, spec := range map[string]string{
			"scheduler.stale_schedule": c.Scheduler.StaleSchedule,
			"scheduler.gc_schedule":    c.Scheduler.GCSchedule,
		} {
			if spec == "" {
				continue
			}
			if _, err := cron.ParseStandard(spec); err != nil {
				return fmt.Errorf("invalid cron expression for %s: %w", name, err)
			}
		}
	}

	switch c.Artifacts.Store {
	case "s3":
		if c.Artifacts.S3.Bucket == "" {
			return fmt.Errorf("artifacts.s3.bucket is required when artifacts.store = \"s3\"")
		}
	case "filesystem", "":
	default:
		return fmt.Errorf("unknown artifacts.store %q", c.Artifacts.Store)
	}

	return nil
}

// IsLocal returns true when running on a developer machine.
// Local runs keep staged artifacts and never talk to S3.
func (c *Config) IsLocal() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "local"
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Duration parses a duration string, falling back when empty or invalid
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
