package logs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
)

// Consumer reads log batches from arbor's context channel and pushes job-correlated
// lines to the job's stream group while observers are connected
type Consumer struct {
	backplane     interfaces.Backplane
	logger        arbor.ILogger
	channel       chan []arbormodels.LogEvent
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	minEventLevel arbor.LogLevel
}

func NewConsumer(backplane interfaces.Backplane, logger arbor.ILogger, minEventLevel string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		backplane:     backplane,
		logger:        logger,
		channel:       make(chan []arbormodels.LogEvent, 10),
		ctx:           ctx,
		cancel:        cancel,
		minEventLevel: parseLogLevel(minEventLevel),
	}
}

// parseLogLevel converts string log level to arbor.LogLevel
func parseLogLevel(levelStr string) arbor.LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return arbor.DebugLevel
	case "warn", "warning":
		return arbor.WarnLevel
	case "error":
		return arbor.ErrorLevel
	default:
		return arbor.InfoLevel
	}
}

// convertTo3Letter converts full level names to 3-letter codes
func convertTo3Letter(level string) string {
	switch strings.ToUpper(level) {
	case "INFO":
		return "INF"
	case "WARN", "WARNING":
		return "WRN"
	case "ERROR":
		return "ERR"
	case "DEBUG":
		return "DBG"
	default:
		if len(level) == 3 {
			return strings.ToUpper(level)
		}
		return "INF"
	}
}

// GetChannel returns the channel for arbor to send log batches to
func (c *Consumer) GetChannel() chan []arbormodels.LogEvent {
	return c.channel
}

// Start launches the consumer goroutine
func (c *Consumer) Start() {
	c.wg.Add(1)
	go c.consume()
}

// Stop gracefully shuts down the consumer
func (c *Consumer) Stop() {
	c.cancel()
	c.wg.Wait()
	c.logger.Info().Msg("Log consumer stopped")
}

func (c *Consumer) consume() {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			// No correlation ID, so this line is never fed back into the channel
			c.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Log consumer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-c.channel:
			if !ok {
				return
			}
			for _, event := range batch {
				c.dispatch(event)
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// dispatch publishes one event if it belongs to a job somebody is watching
func (c *Consumer) dispatch(event arbormodels.LogEvent) {
	if event.CorrelationID == "" || !c.shouldPublish(event.Level) {
		return
	}
	if event.Message == "HTTP request" || strings.Contains(event.Message, "WebSocket client") {
		return
	}

	group := models.StreamGroupName(event.CorrelationID)
	if c.backplane.GroupSize(group) == 0 {
		return
	}

	if err := c.backplane.Publish(group, transformEvent(event)); err != nil {
		c.logger.Warn().Err(err).Str("job_id", event.CorrelationID).Msg("Failed to publish log event")
	}
}

func (c *Consumer) shouldPublish(level log.Level) bool {
	return arborlevels.FromLogLevel(level) >= c.minEventLevel
}

// transformEvent flattens an arbor event into the observer wire format.
// Structured fields are appended to the message in key order.
func transformEvent(event arbormodels.LogEvent) models.JobLogEntry {
	message := event.Message
	if len(event.Fields) > 0 {
		keys := make([]string, 0, len(event.Fields))
		for key := range event.Fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			message += fmt.Sprintf(" %s=%v", key, event.Fields[key])
		}
	}

	return models.JobLogEntry{
		Type:      models.LogMessageType,
		JobUUID:   event.CorrelationID,
		Timestamp: event.Timestamp.Format("15:04:05"),
		Level:     convertTo3Letter(event.Level.String()),
		Message:   message,
	}
}
