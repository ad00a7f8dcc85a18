package queue

import (
	"time"

	"github.com/ternarybob/bugowl/internal/common"
)

// Config holds configuration for the queue manager and worker pool
type Config struct {
	// PollInterval is how often workers poll for messages
	PollInterval time.Duration

	// Concurrency is the number of jobs run at once
	Concurrency int

	// VisibilityTimeout hides a received message from other workers until it elapses
	VisibilityTimeout time.Duration

	// MaxReceive is the maximum times a message can be received before it is dropped
	MaxReceive int

	// QueueName is the key prefix of the queue in Badger
	QueueName string
}

// NewDefaultConfig creates a queue configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		PollInterval:      1 * time.Second,
		Concurrency:       2,
		VisibilityTimeout: 10 * time.Minute,
		MaxReceive:        1,
		QueueName:         "bugowl_jobs",
	}
}

// NewConfig maps [queue] onto a queue config, keeping defaults for unset values
func NewConfig(c common.QueueConfig) Config {
	config := NewDefaultConfig()
	config.PollInterval = common.Duration(c.PollInterval, config.PollInterval)
	config.VisibilityTimeout = common.Duration(c.VisibilityTimeout, config.VisibilityTimeout)
	if c.Concurrency > 0 {
		config.Concurrency = c.Concurrency
	}
	if c.MaxReceive > 0 {
		config.MaxReceive = c.MaxReceive
	}
	if c.QueueName != "" {
		config.QueueName = c.QueueName
	}
	return config
}
