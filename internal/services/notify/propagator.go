package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/httpclient"
	"github.com/ternarybob/bugowl/internal/models"
)

// StatusUpdatePath is the main API endpoint receiving status changes
const StatusUpdatePath = "/api/job/status-update/"

// Config controls the propagator
type Config struct {
	MainHost     string
	Token        string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	RetryDelay   time.Duration
}

// NewConfig maps [notify] onto a propagator config
func NewConfig(c common.NotifyConfig) Config {
	return Config{
		MainHost:     c.MainHost,
		Token:        c.Token,
		TokenURL:     c.TokenURL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Timeout:      common.Duration(c.Timeout, 10*time.Second),
		RetryDelay:   common.Duration(c.RetryDelay, 2*time.Second),
	}
}

// Propagator posts status updates to the main API on background goroutines.
// Delivery is best effort: one retry on 5xx, everything else is logged and dropped.
type Propagator struct {
	config Config
	client *http.Client
	logger arbor.ILogger
	wg     sync.WaitGroup
}

// NewPropagator creates a status propagator.
// With a token URL the client fetches OAuth2 client-credential tokens, otherwise
// the static token is sent as "Authorization: Token <token>".
func NewPropagator(config Config, logger arbor.ILogger) *Propagator {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}

	return &Propagator{
		config: config,
		client: newAuthClient(config),
		logger: logger,
	}
}

func newAuthClient(config Config) *http.Client {
	return httpclient.NewAuthClient(httpclient.AuthConfig{
		Token:        config.Token,
		TokenURL:     config.TokenURL,
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
	}, 0)
}

// Notify queues an update for delivery and returns immediately
func (p *Propagator) Notify(update models.StatusUpdate) {
	if p.config.MainHost == "" {
		p.logger.Debug().Str("job_id", update.JobUUID).Msg("Main host not configured, status update skipped")
		return
	}

	common.SafeGoGroup(&p.wg, p.logger, "statusUpdate", func() {
		p.deliver(update)
	})
}

// Wait blocks until every queued update has been delivered or dropped
func (p *Propagator) Wait() {
	p.wg.Wait()
}

func (p *Propagator) deliver(update models.StatusUpdate) {
	log := p.logger.WithCorrelationId(update.JobUUID)

	status, err := p.post(update)
	if err == nil && status == http.StatusOK {
		log.Debug().
			Str("job_status", string(update.JobStatus)).
			Str("test_case_uuid", update.TestCaseUUID).
			Str("test_case_status", string(update.TestCaseStatus)).
			Msg("Status update delivered")
		return
	}

	if err == nil && status >= 500 {
		log.Warn().Int("status", status).Dur("retry_in", p.config.RetryDelay).Msg("Status update rejected by server, retrying once")
		time.Sleep(p.config.RetryDelay)
		status, err = p.post(update)
		if err == nil && status == http.StatusOK {
			log.Debug().Msg("Status update delivered on retry")
			return
		}
	}

	event := log.Error().Str("job_status", string(update.JobStatus)).Str("test_case_uuid", update.TestCaseUUID)
	if err != nil {
		event = event.Err(err)
	} else {
		event = event.Int("status", status)
	}
	event.Msg("Status update dropped")
}

func (p *Propagator) post(update models.StatusUpdate) (int, error) {
	body, err := json.Marshal(update)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal status update: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	url := strings.TrimRight(p.config.MainHost, "/") + StatusUpdatePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build status update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("status update request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	return resp.StatusCode, nil
}
