// internal/discovery/tcp/scanner.go
package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"modem-service/internal/discovery"
	"modem-service/internal/transport"
)

// Scanner probes serial-over-TCP bridges (ser2net and the like) at a fixed
// list of endpoints.
type Scanner struct {
	logger *zap.Logger
	config *Config
	open   discovery.Opener
}

// Config for TCP scanner
type Config struct {
	Targets      []string      `json:"targets"` // host:port
	ConnTimeout  time.Duration `json:"connection_timeout"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
}

// NewScanner creates a new TCP scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{
			ConnTimeout:  3 * time.Second,
			ProbeTimeout: time.Second,
		}
	}

	return &Scanner{
		logger: logger.With(zap.String("scanner", "tcp")),
		config: config,
		open:   transport.Open,
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "tcp"
}

// IsAvailable reports whether any endpoint is configured.
func (s *Scanner) IsAvailable() bool {
	return len(s.config.Targets) > 0
}

// Scan probes each target in turn. Targets that refuse the connection are
// skipped; targets that accept it are reported whether or not AT is answered.
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredLink, error) {
	s.logger.Info("Starting TCP bridge scan", zap.Strings("targets", s.config.Targets))

	var discovered []*discovery.DiscoveredLink
	for _, target := range s.config.Targets {
		if ctx.Err() != nil {
			return discovered, ctx.Err()
		}

		cfg, err := linkFor(target, s.config.ConnTimeout)
		if err != nil {
			s.logger.Warn("Skipping bad target", zap.String("target", target), zap.Error(err))
			continue
		}

		result, err := discovery.Probe(ctx, s.open, cfg, s.config.ProbeTimeout, s.logger)
		if err != nil {
			s.logger.Debug("Bridge unreachable", zap.String("target", target), zap.Error(err))
			continue
		}

		link := &discovery.DiscoveredLink{
			Type:        transport.LinkTCP,
			Link:        cfg,
			Description: "serial-over-TCP bridge",
			Location:    target,
			Confidence:  0.3,
		}
		if result.Responds {
			link.Responds = true
			link.Firmware = result.Firmware
			link.Confidence = 1.0
		}
		discovered = append(discovered, link)
	}

	s.logger.Info("TCP scan completed", zap.Int("links_found", len(discovered)))
	return discovered, nil
}

func linkFor(target string, timeout time.Duration) (transport.LinkConfig, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return transport.LinkConfig{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return transport.LinkConfig{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	cfg := transport.LinkConfig{
		Type: transport.LinkTCP,
		TCP: transport.TCPConfig{
			Host:    host,
			Port:    port,
			Timeout: timeout,
		},
	}
	return cfg, cfg.Validate()
}
