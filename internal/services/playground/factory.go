package playground

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/interfaces"
)

// Factory creates one playground session per client connection
type Factory struct {
	browsers  interfaces.BrowserFactory
	agent     interfaces.Agent
	backplane interfaces.Backplane
	config    Config
	logger    arbor.ILogger
}

func NewFactory(browsers interfaces.BrowserFactory, agent interfaces.Agent, backplane interfaces.Backplane, config Config, logger arbor.ILogger) *Factory {
	return &Factory{
		browsers:  browsers,
		agent:     agent,
		backplane: backplane,
		config:    config,
		logger:    logger,
	}
}

// NewSession creates an idle session
func (f *Factory) NewSession() *Session {
	return NewSession(f.browsers, f.agent, f.backplane, f.config, f.logger)
}
