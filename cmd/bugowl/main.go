package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/app"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/ternarybob/bugowl/internal/server"
	"github.com/ternarybob/bugowl/internal/services/jobs"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	runPayload   = flag.String("run", "", "Run one job payload file (.json, .yaml) and exit")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	defer common.RecoverWithCrashFile()
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Println(common.GetFullVersion())
		os.Exit(0)
	}

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("bugowl.toml"); err == nil {
			configFiles = append(configFiles, "bugowl.toml")
		} else if _, err := os.Stat("deployments/local/bugowl.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/bugowl.toml")
		}
	}

	// defaults -> files -> env -> CLI
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, finalPort, *serverHost)

	if *runPayload != "" {
		// One-shot runs leave no database behind
		config.Storage.Badger.InMemory = true
		config.Scheduler.Enabled = false
	}

	logger := common.InitLogger(config)
	common.InstallCrashHandler(common.LogsDir(config))

	if *runPayload != "" {
		os.Exit(runOnce(config, logger, *runPayload))
	}

	common.PrintBanner(common.GetVersion(), config)
	logger.Info().
		Strs("config_files", configFiles).
		Str("environment", config.Environment).
		Msg("Application configuration loaded")

	serve(config, logger)
}

// serve runs the HTTP server and the job workers until interrupted
func serve(config *common.Config, logger arbor.ILogger) {
	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		return
	}
	defer application.Close()

	if err := application.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start job workers")
		return
	}

	srv := server.New(application)
	go func() {
		defer common.RecoverWithCrashFile()
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Interrupt signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
}

// runOnce executes a payload file in-process and prints the run detail.
// Exit code 0 only when the job passed.
func runOnce(config *common.Config, logger arbor.ILogger, path string) int {
	payload, err := jobs.LoadPayloadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to load job payload")
		return 2
	}

	application, err := app.New(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return 2
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	detail, err := application.RunPayload(ctx, payload)
	if detail != nil {
		out, _ := json.MarshalIndent(detail, "", "  ")
		fmt.Println(string(out))
	}
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Job run failed")
		return 1
	}
	if detail.Job.Status != models.StatusPass {
		return 1
	}
	return 0
}
