package common

import (
	"fmt"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner with the listen address
func PrintBanner(version string, config *Config) {
	banner.PrintSimple("BugOwl", version)
	fmt.Printf("  env: %s  listen: %s:%d  workers: %d  artifacts: %s\n\n",
		config.Environment, config.Server.Host, config.Server.Port, config.Queue.Concurrency, config.Artifacts.Store)
}
