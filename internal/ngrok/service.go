package ngrok

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok/v2"

	"crossdeck/internal/config"
)

// Service exposes the control surface through an ngrok tunnel
type Service struct {
	config *config.TunnelConfig
	agent  ngrok.Agent
	tunnel ngrok.EndpointForwarder
	logger *logrus.Entry
}

// NewService creates a new ngrok service instance. It returns nil when the
// tunnel is disabled; every method is safe to call on a nil Service.
func NewService(cfg *config.TunnelConfig, logger *logrus.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("ngrok auth token not found. Set %s in .env file or config", config.EnvNgrokAuthToken)
	}

	agent, err := ngrok.NewAgent(ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		return nil, fmt.Errorf("failed to create ngrok agent: %w", err)
	}

	return &Service{
		config: cfg,
		agent:  agent,
		logger: logger.WithField("component", "ngrok"),
	}, nil
}

// StartTunnel forwards the public endpoint to localAddress
func (s *Service) StartTunnel(ctx context.Context, localAddress string) error {
	if s == nil {
		return nil // Service is disabled
	}

	s.logger.Info("Starting ngrok tunnel")

	tunnel, err := s.agent.Forward(ctx, ngrok.WithUpstream(localAddress), s.endpointOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create ngrok tunnel: %w", err)
	}
	s.tunnel = tunnel

	entry := s.logger.WithFields(logrus.Fields{
		"public_url": tunnel.URL().String(),
		"upstream":   localAddress,
	})
	if s.config.EnableAuth {
		entry = entry.WithField("oauth", s.config.AuthProvider)
	}
	entry.Info("Ngrok tunnel active")
	return nil
}

func (s *Service) endpointOptions() []ngrok.EndpointOption {
	var opts []ngrok.EndpointOption
	if s.config.Domain != "" {
		opts = append(opts, ngrok.WithURL(s.config.Domain))
	}
	if s.config.EnableAuth {
		opts = append(opts, ngrok.WithTrafficPolicy(trafficPolicy(s.config.AuthProvider)))
	}
	return opts
}

// trafficPolicy puts an OAuth gate in front of every request
func trafficPolicy(provider string) string {
	return fmt.Sprintf(`
on_http_request:
  - actions:
      - type: oauth
        config:
          provider: %s
`, provider)
}

// GetPublicURL returns the public URL of the tunnel
func (s *Service) GetPublicURL() string {
	if s == nil || s.tunnel == nil {
		return ""
	}
	return s.tunnel.URL().String()
}

// Stop stops the ngrok tunnel
func (s *Service) Stop() error {
	if s == nil || s.tunnel == nil {
		return nil
	}
	s.logger.Info("Stopping ngrok tunnel")
	return s.tunnel.Close()
}

// Wait blocks until the tunnel closes or ctx is done
func (s *Service) Wait(ctx context.Context) {
	if s == nil || s.tunnel == nil {
		return
	}
	select {
	case <-s.tunnel.Done():
	case <-ctx.Done():
	}
}
